package store

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Apply merges one broadcast event into the snapshot. Handlers are
// idempotent under at-least-once delivery: inserts and updates are
// upserts keyed on entity id, removals are keyed on id, so receiving
// the same event twice cannot duplicate entities or corrupt ordering.
// Events for a board other than the loaded one are ignored, and no
// event ever triggers a reload.
func (s *Store) Apply(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready || s.board == nil {
		return
	}
	if ev.BoardID != "" && ev.BoardID != s.board.ID {
		return
	}

	switch ev.Type {
	case domain.BoardTitleUpdated:
		var data domain.BoardTitleUpdatedData
		if !s.decode(ev, &data) {
			return
		}
		s.board.Title = data.Title

	case domain.MemberJoined:
		var data domain.MemberJoinedData
		if !s.decode(ev, &data) {
			return
		}
		for _, m := range s.board.Members {
			if m.ID == data.UserID {
				return
			}
		}
		s.board.Members = append(s.board.Members, domain.Member{
			ID:       data.UserID,
			Username: data.Username,
			Avatar:   data.Avatar,
		})

	case domain.MemberRemoved:
		var data domain.MemberRemovedData
		if !s.decode(ev, &data) {
			return
		}
		kept := s.board.Members[:0]
		for _, m := range s.board.Members {
			if m.ID != data.UserID {
				kept = append(kept, m)
			}
		}
		s.board.Members = kept

	case domain.CardCreated, domain.CardUpdated, domain.CardMoved:
		var data domain.CardEventData
		if !s.decode(ev, &data) {
			return
		}
		s.cards = upsertCard(s.cards, data.Card)
		sortCards(s.cards)

	case domain.CardDeleted:
		var data domain.CardDeletedData
		if !s.decode(ev, &data) {
			return
		}
		s.cards = removeCard(s.cards, data.CardID)

	case domain.ColumnCreated, domain.ColumnUpdated:
		var data domain.ColumnEventData
		if !s.decode(ev, &data) {
			return
		}
		s.columns = upsertColumn(s.columns, data.Column)
		sortColumns(s.columns)

	case domain.ColumnDeleted:
		var data domain.ColumnDeletedData
		if !s.decode(ev, &data) {
			return
		}
		s.columns = removeColumn(s.columns, data.ColumnID)
		kept := s.cards[:0]
		for _, c := range s.cards {
			if c.ColumnID != data.ColumnID {
				kept = append(kept, c)
			}
		}
		s.cards = kept

	case domain.ColumnsReordered:
		var data domain.ColumnsReorderedData
		if !s.decode(ev, &data) {
			return
		}
		applyOrder(data.ReorderedColumnIDs, s.columns,
			func(c *domain.Column) *int { return &c.Order },
			func(c *domain.Column) string { return c.ID })
		sortColumns(s.columns)

	case domain.CardsReordered:
		var data domain.CardsReorderedData
		if !s.decode(ev, &data) {
			return
		}
		for _, upd := range data.Cards {
			i := indexCard(s.cards, upd.ID)
			if i < 0 {
				continue
			}
			s.cards[i].Order = upd.Order
			if upd.ColumnID != "" {
				s.cards[i].ColumnID = upd.ColumnID
			}
		}
		sortCards(s.cards)

	case domain.ActivityUpdated:
		var data domain.ActivityUpdatedData
		if !s.decode(ev, &data) {
			return
		}
		s.activity = append(s.activity[:0:0], data.Activity...)

	default:
		s.log.WithField("type", ev.Type).Debug("ignoring unknown event")
	}
}

func (s *Store) decode(ev domain.Event, out any) bool {
	if err := json.Unmarshal(ev.Data, out); err != nil {
		s.log.WithError(err).WithFields(log.Fields{"type": ev.Type, "event": ev.ID}).Error("unable to parse event")
		return false
	}
	return true
}

func upsertCard(cards []domain.Card, c domain.Card) []domain.Card {
	if i := indexCard(cards, c.ID); i >= 0 {
		cards[i] = c
		return cards
	}
	return append(cards, c)
}

func removeCard(cards []domain.Card, id string) []domain.Card {
	if i := indexCard(cards, id); i >= 0 {
		return append(cards[:i], cards[i+1:]...)
	}
	return cards
}

func upsertColumn(cols []domain.Column, c domain.Column) []domain.Column {
	if i := indexColumn(cols, c.ID); i >= 0 {
		cols[i] = c
		return cols
	}
	return append(cols, c)
}

func removeColumn(cols []domain.Column, id string) []domain.Column {
	if i := indexColumn(cols, id); i >= 0 {
		return append(cols[:i], cols[i+1:]...)
	}
	return cols
}
