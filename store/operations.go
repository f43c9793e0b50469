package store

import (
	"context"
	"fmt"
	"strings"

	"boardsync/domain"
)

// MoveCardRequest describes a drag-and-drop card move.
type MoveCardRequest struct {
	CardID   string
	ToColumn string
	NewOrder int
}

// CreateColumn issues a column create request. The new column appears
// only when the column:created broadcast arrives; there is no local
// insert, so an id-less optimistic entry can never race the echo.
func (s *Store) CreateColumn(ctx context.Context, boardID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		s.log.Debug("create column skipped: empty title")
		return nil
	}
	if err := s.api.CreateColumn(ctx, boardID, title); err != nil {
		return fmt.Errorf("create column: %w", err)
	}
	return nil
}

// UpdateColumnTitle issues a column title update. Echo-only.
func (s *Store) UpdateColumnTitle(ctx context.Context, columnID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		s.log.Debug("update column skipped: empty title")
		return nil
	}
	if err := s.api.UpdateColumnTitle(ctx, columnID, title); err != nil {
		return fmt.Errorf("update column %s: %w", columnID, err)
	}
	return nil
}

// DeleteColumn issues a column delete request. Local removal, including
// the cascade over the column's cards, happens on the column:deleted
// broadcast. Confirmation prompts are the caller's concern.
func (s *Store) DeleteColumn(ctx context.Context, columnID string) error {
	if err := s.api.DeleteColumn(ctx, columnID); err != nil {
		return fmt.Errorf("delete column %s: %w", columnID, err)
	}
	return nil
}

// CreateCard issues a card create request. Echo-only, like CreateColumn.
func (s *Store) CreateCard(ctx context.Context, columnID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		s.log.Debug("create card skipped: empty title")
		return nil
	}
	if err := s.api.CreateCard(ctx, columnID, title); err != nil {
		return fmt.Errorf("create card: %w", err)
	}
	return nil
}

// UpdateCard issues a partial card update. Echo-only: the local card is
// untouched until the card:updated broadcast names it, so all clients
// observe edits in the same server-broadcast order.
func (s *Store) UpdateCard(ctx context.Context, cardID string, patch domain.CardPatch) error {
	if patch.Empty() {
		return nil
	}
	if err := s.api.UpdateCard(ctx, cardID, patch); err != nil {
		return fmt.Errorf("update card %s: %w", cardID, err)
	}
	return nil
}

// DeleteCard issues a card delete request. Echo-only.
func (s *Store) DeleteCard(ctx context.Context, cardID string) error {
	if err := s.api.DeleteCard(ctx, cardID); err != nil {
		return fmt.Errorf("delete card %s: %w", cardID, err)
	}
	return nil
}

// AddCardMember assigns a board member to a card. Echo-only, reflected
// via card:updated.
func (s *Store) AddCardMember(ctx context.Context, cardID, userID string) error {
	if userID == "" {
		return nil
	}
	if err := s.api.AddCardMember(ctx, cardID, userID); err != nil {
		return fmt.Errorf("add card member: %w", err)
	}
	return nil
}

// RemoveCardMember unassigns a board member from a card. Echo-only.
func (s *Store) RemoveCardMember(ctx context.Context, cardID, userID string) error {
	if err := s.api.RemoveCardMember(ctx, cardID, userID); err != nil {
		return fmt.Errorf("remove card member: %w", err)
	}
	return nil
}

// MoveCard applies the move locally before the round-trip so drag and
// drop stays responsive, then issues the request. On failure the card
// is restored to its captured prior value. On success no further local
// action is needed: the card:moved echo re-applies the same column and
// order, which is a no-op.
func (s *Store) MoveCard(ctx context.Context, req MoveCardRequest) error {
	s.mu.Lock()
	idx := indexCard(s.cards, req.CardID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("move card %s: %w", req.CardID, domain.ErrNotFound)
	}
	prev := cloneCard(s.cards[idx])
	s.mu.Unlock()

	return s.optimistic(
		func() {
			if i := indexCard(s.cards, req.CardID); i >= 0 {
				s.cards[i].ColumnID = req.ToColumn
				s.cards[i].Order = req.NewOrder
				sortCards(s.cards)
			}
		},
		func() {
			s.cards = upsertCard(s.cards, prev)
			sortCards(s.cards)
			s.log.WithField("card", req.CardID).Warn("move rejected, card restored")
		},
		func() error {
			if err := s.api.MoveCard(ctx, req.CardID, req.ToColumn, req.NewOrder); err != nil {
				return fmt.Errorf("move card %s: %w", req.CardID, err)
			}
			return nil
		},
	)
}

// ReorderColumns applies the new sequence locally, then issues the
// reorder request carrying the full ordered id list. Partial rollback
// of a permutation is error-prone, so a failed request resynchronizes
// with a full board reload instead.
func (s *Store) ReorderColumns(ctx context.Context, boardID string, orderedColumnIDs []string) error {
	s.mu.Lock()
	applyOrder(orderedColumnIDs, s.columns, func(c *domain.Column) *int { return &c.Order }, func(c *domain.Column) string { return c.ID })
	sortColumns(s.columns)
	s.mu.Unlock()

	if err := s.api.ReorderColumns(ctx, boardID, orderedColumnIDs); err != nil {
		if lerr := s.LoadBoard(ctx, boardID); lerr != nil {
			s.log.WithError(lerr).WithField("board", boardID).Error("resync after failed column reorder")
		}
		return fmt.Errorf("reorder columns: %w", err)
	}
	return nil
}

// ReorderCardsInColumn assigns new order values by position in the
// supplied id list, then issues the reorder request. No explicit
// rollback: the subsequent cards:reordered broadcast corrects any
// divergence.
func (s *Store) ReorderCardsInColumn(ctx context.Context, columnID string, orderedCardIDs []string) error {
	s.mu.Lock()
	for pos, id := range orderedCardIDs {
		if i := indexCard(s.cards, id); i >= 0 && s.cards[i].ColumnID == columnID {
			s.cards[i].Order = pos
		}
	}
	sortCards(s.cards)
	s.mu.Unlock()

	if err := s.api.ReorderCards(ctx, columnID, orderedCardIDs); err != nil {
		return fmt.Errorf("reorder cards in %s: %w", columnID, err)
	}
	return nil
}

// UpdateBoardTitle applies the title locally with the previous value
// captured, then issues the request; rollback restores the captured
// title on failure.
func (s *Store) UpdateBoardTitle(ctx context.Context, boardID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		s.log.Debug("update board title skipped: empty title")
		return nil
	}

	s.mu.Lock()
	if s.board == nil {
		s.mu.Unlock()
		return fmt.Errorf("update board %s: %w", boardID, domain.ErrNotLoaded)
	}
	prev := s.board.Title
	s.mu.Unlock()

	return s.optimistic(
		func() {
			if s.board != nil {
				s.board.Title = title
			}
		},
		func() {
			if s.board != nil {
				s.board.Title = prev
			}
			s.log.WithField("board", boardID).Warn("title update rejected, previous title restored")
		},
		func() error {
			if err := s.api.UpdateBoardTitle(ctx, boardID, title); err != nil {
				return fmt.Errorf("update board %s: %w", boardID, err)
			}
			return nil
		},
	)
}

// optimistic is the capture-apply-request-restore helper every
// optimistic operation goes through. apply and restore run under the
// store lock; the request runs outside it, so broadcasts may interleave
// with the in-flight call and restore still wins on failure.
func (s *Store) optimistic(apply, restore func(), call func() error) error {
	s.mu.Lock()
	apply()
	s.mu.Unlock()

	err := call()
	if err == nil {
		return nil
	}

	s.mu.Lock()
	restore()
	s.mu.Unlock()
	return err
}

// applyOrder renumbers entities to match the position of their id in
// ids. Entities absent from ids keep their order value; the next full
// reconciliation resolves any transient duplication.
func applyOrder[T any](ids []string, items []T, orderOf func(*T) *int, idOf func(*T) string) {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	for i := range items {
		if p, ok := pos[idOf(&items[i])]; ok {
			*orderOf(&items[i]) = p
		}
	}
}
