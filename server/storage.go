package server

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"boardsync/domain"
)

const maxActivityEntries = 100

// BoardStorage is the authoritative in-memory board state. Every
// mutation returns the broadcast events it produced; the caller decides
// how to publish them.
type BoardStorage struct {
	mu      sync.Mutex
	boards  map[string]*boardState
	columns map[string]string // column id -> board id
	cards   map[string]string // card id -> board id
}

type boardState struct {
	board    domain.Board
	columns  []domain.Column
	cards    []domain.Card
	activity []domain.ActivityEntry
}

// NewBoardStorage creates an empty storage.
func NewBoardStorage() *BoardStorage {
	return &BoardStorage{
		boards:  make(map[string]*boardState),
		columns: make(map[string]string),
		cards:   make(map[string]string),
	}
}

var lastTimestamp int64

// nextTimestamp returns a strictly increasing nanosecond timestamp so
// events from one instance never share a time value.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

func newEvent(boardID, typ string, data any, userID string) domain.Event {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("marshal %s event: %v", typ, err))
	}
	return domain.Event{
		ID:      uuid.NewString(),
		BoardID: boardID,
		Type:    typ,
		Data:    raw,
		Time:    nextTimestamp(),
		UserID:  userID,
	}
}

// CreateBoard creates a board owned by actor.
func (s *BoardStorage) CreateBoard(actor domain.Member, title, description string) (domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	board := domain.Board{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Owner:       actor,
		Members:     []domain.Member{actor},
	}
	bs := &boardState{board: board}
	s.appendActivity(bs, actor, fmt.Sprintf("%s created the board", actor.Username))
	s.boards[board.ID] = bs
	return board, nil
}

// DeleteBoard removes a board. Only the owner may delete it.
func (s *BoardStorage) DeleteBoard(boardID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, ok := s.boards[boardID]
	if !ok {
		return domain.ErrNotFound
	}
	if bs.board.Owner.ID != userID {
		return domain.ErrForbidden
	}
	for _, col := range bs.columns {
		delete(s.columns, col.ID)
	}
	for _, card := range bs.cards {
		delete(s.cards, card.ID)
	}
	delete(s.boards, boardID)
	return nil
}

// Snapshot returns a deep copy of the full board read model.
func (s *BoardStorage) Snapshot(boardID, userID string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, _, err := s.boardFor(boardID, userID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := domain.Snapshot{
		Board:    bs.board,
		Columns:  append([]domain.Column(nil), bs.columns...),
		Cards:    make([]domain.Card, 0, len(bs.cards)),
		Activity: append([]domain.ActivityEntry(nil), bs.activity...),
	}
	snap.Board.Members = append([]domain.Member(nil), bs.board.Members...)
	for _, card := range bs.cards {
		card.Members = append([]string(nil), card.Members...)
		snap.Cards = append(snap.Cards, card)
	}
	return snap, nil
}

// UpdateBoardTitle renames a board.
func (s *BoardStorage) UpdateBoardTitle(boardID, userID, title string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, err := s.boardFor(boardID, userID)
	if err != nil {
		return nil, err
	}
	bs.board.Title = title
	events := []domain.Event{
		newEvent(boardID, domain.BoardTitleUpdated, domain.BoardTitleUpdatedData{Title: title}, userID),
	}
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s renamed the board to %q", actor.Username, title)))
	return events, nil
}

// InviteMember adds a member to the board. The reference backend has no
// user directory, so the invited identity is derived from the email.
func (s *BoardStorage) InviteMember(boardID, userID, email string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, err := s.boardFor(boardID, userID)
	if err != nil {
		return nil, err
	}
	for _, m := range bs.board.Members {
		if m.Username == email {
			return nil, nil
		}
	}
	member := domain.Member{ID: uuid.NewString(), Username: email}
	bs.board.Members = append(bs.board.Members, member)
	events := []domain.Event{
		newEvent(boardID, domain.MemberJoined, domain.MemberJoinedData{
			BoardID:  boardID,
			UserID:   member.ID,
			Username: member.Username,
		}, userID),
	}
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s invited %s", actor.Username, email)))
	return events, nil
}

// LeaveBoard removes the acting user from the board membership. The
// owner cannot leave their own board.
func (s *BoardStorage) LeaveBoard(boardID, userID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, err := s.boardFor(boardID, userID)
	if err != nil {
		return nil, err
	}
	if bs.board.Owner.ID == userID {
		return nil, domain.ErrForbidden
	}
	return s.removeMember(bs, actor, userID), nil
}

// RemoveMember removes a member from the board. Only the owner may
// remove other members.
func (s *BoardStorage) RemoveMember(boardID, actorID, memberID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, err := s.boardFor(boardID, actorID)
	if err != nil {
		return nil, err
	}
	if bs.board.Owner.ID != actorID || memberID == bs.board.Owner.ID {
		return nil, domain.ErrForbidden
	}
	return s.removeMember(bs, actor, memberID), nil
}

func (s *BoardStorage) removeMember(bs *boardState, actor domain.Member, memberID string) []domain.Event {
	var removed domain.Member
	found := false
	kept := bs.board.Members[:0]
	for _, m := range bs.board.Members {
		if m.ID == memberID {
			removed = m
			found = true
			continue
		}
		kept = append(kept, m)
	}
	bs.board.Members = kept
	if !found {
		return nil
	}
	events := []domain.Event{
		newEvent(bs.board.ID, domain.MemberRemoved, domain.MemberRemovedData{
			BoardID: bs.board.ID,
			UserID:  memberID,
		}, actor.ID),
	}
	return append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s left the board", removed.Username)))
}

// CreateColumn appends a column at the end of the board.
func (s *BoardStorage) CreateColumn(boardID, userID, title string) (domain.Column, []domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, err := s.boardFor(boardID, userID)
	if err != nil {
		return domain.Column{}, nil, err
	}
	col := domain.Column{
		ID:      uuid.NewString(),
		BoardID: boardID,
		Title:   title,
		Order:   len(bs.columns),
	}
	bs.columns = append(bs.columns, col)
	s.columns[col.ID] = boardID
	events := []domain.Event{
		newEvent(boardID, domain.ColumnCreated, domain.ColumnEventData{Column: col}, userID),
	}
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s added column %q", actor.Username, title)))
	return col, events, nil
}

// UpdateColumnTitle renames a column.
func (s *BoardStorage) UpdateColumnTitle(columnID, userID, title string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, i, err := s.columnFor(columnID, userID)
	if err != nil {
		return nil, err
	}
	bs.columns[i].Title = title
	events := []domain.Event{
		newEvent(bs.board.ID, domain.ColumnUpdated, domain.ColumnEventData{Column: bs.columns[i]}, userID),
	}
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s renamed a column to %q", actor.Username, title)))
	return events, nil
}

// DeleteColumn removes a column and every card in it.
func (s *BoardStorage) DeleteColumn(columnID, userID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, i, err := s.columnFor(columnID, userID)
	if err != nil {
		return nil, err
	}
	title := bs.columns[i].Title
	bs.columns = append(bs.columns[:i], bs.columns[i+1:]...)
	delete(s.columns, columnID)
	kept := bs.cards[:0]
	for _, card := range bs.cards {
		if card.ColumnID == columnID {
			delete(s.cards, card.ID)
			continue
		}
		kept = append(kept, card)
	}
	bs.cards = kept
	renumberColumns(bs)
	events := []domain.Event{
		newEvent(bs.board.ID, domain.ColumnDeleted, domain.ColumnDeletedData{ColumnID: columnID}, userID),
	}
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s deleted column %q", actor.Username, title)))
	return events, nil
}

// ReorderColumns applies the given full ordering of the board's columns.
func (s *BoardStorage) ReorderColumns(boardID, userID string, orderedColumnIDs []string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, err := s.boardFor(boardID, userID)
	if err != nil {
		return nil, err
	}
	pos := make(map[string]int, len(orderedColumnIDs))
	for i, id := range orderedColumnIDs {
		pos[id] = i
	}
	for i := range bs.columns {
		if p, ok := pos[bs.columns[i].ID]; ok {
			bs.columns[i].Order = p
		}
	}
	sortColumns(bs)
	renumberColumns(bs)
	events := []domain.Event{
		newEvent(boardID, domain.ColumnsReordered, domain.ColumnsReorderedData{ReorderedColumnIDs: columnIDs(bs)}, userID),
	}
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s reordered the columns", actor.Username)))
	return events, nil
}

// CreateCard appends a card at the end of a column.
func (s *BoardStorage) CreateCard(columnID, userID, title string) (domain.Card, []domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, _, err := s.columnFor(columnID, userID)
	if err != nil {
		return domain.Card{}, nil, err
	}
	card := domain.Card{
		ID:        uuid.NewString(),
		ColumnID:  columnID,
		Title:     title,
		Order:     countCards(bs, columnID),
		CreatedBy: userID,
	}
	bs.cards = append(bs.cards, card)
	s.cards[card.ID] = bs.board.ID
	events := []domain.Event{
		newEvent(bs.board.ID, domain.CardCreated, domain.CardEventData{Card: card}, userID),
	}
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s added card %q", actor.Username, title)))
	return card, events, nil
}

// UpdateCard applies a partial card update.
func (s *BoardStorage) UpdateCard(cardID, userID string, patch domain.CardPatch) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, i, err := s.cardFor(cardID, userID)
	if err != nil {
		return nil, err
	}
	card := &bs.cards[i]
	if patch.Title != nil {
		card.Title = *patch.Title
	}
	if patch.Description != nil {
		card.Description = *patch.Description
	}
	if patch.Deadline != nil {
		card.Deadline = patch.Deadline
	}
	if patch.Done != nil {
		card.Done = *patch.Done
	}
	events := []domain.Event{
		newEvent(bs.board.ID, domain.CardUpdated, domain.CardEventData{Card: *card}, userID),
	}
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s updated card %q", actor.Username, card.Title)))
	return events, nil
}

// MoveCard moves a card to a position in a target column and renumbers
// every column whose ordering changed.
func (s *BoardStorage) MoveCard(cardID, userID, toColumn string, newOrder int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, i, err := s.cardFor(cardID, userID)
	if err != nil {
		return nil, err
	}
	if boardID, ok := s.columns[toColumn]; !ok || boardID != bs.board.ID {
		return nil, domain.ErrNotFound
	}
	fromColumn := bs.cards[i].ColumnID

	// the shift below already produces dense orders, so changed columns
	// are found by comparing positions against this snapshot rather
	// than by what renumbering touches
	type position struct {
		column string
		order  int
	}
	before := make(map[string]position)
	for j := range bs.cards {
		if c := &bs.cards[j]; c.ColumnID == fromColumn || c.ColumnID == toColumn {
			before[c.ID] = position{c.ColumnID, c.Order}
		}
	}

	bs.cards[i].ColumnID = toColumn

	// place the card, shift the rest of the target column down
	if newOrder < 0 {
		newOrder = 0
	}
	if n := countCards(bs, toColumn) - 1; newOrder > n {
		newOrder = n
	}
	for j := range bs.cards {
		if j != i && bs.cards[j].ColumnID == toColumn && bs.cards[j].Order >= newOrder {
			bs.cards[j].Order++
		}
	}
	bs.cards[i].Order = newOrder

	renumberCards(bs, fromColumn)
	if toColumn != fromColumn {
		renumberCards(bs, toColumn)
	}

	moved := map[string]bool{}
	for j := range bs.cards {
		c := &bs.cards[j]
		if c.ColumnID != fromColumn && c.ColumnID != toColumn {
			continue
		}
		if prev, ok := before[c.ID]; !ok || prev.column != c.ColumnID || prev.order != c.Order {
			moved[c.ColumnID] = true
		}
	}
	var changed []string
	if moved[fromColumn] {
		changed = append(changed, fromColumn)
	}
	if toColumn != fromColumn && moved[toColumn] {
		changed = append(changed, toColumn)
	}

	movedCard := bs.cards[i]
	events := []domain.Event{
		newEvent(bs.board.ID, domain.CardMoved, domain.CardEventData{Card: movedCard}, userID),
	}
	events = append(events, reorderEvents(bs, changed, userID)...)
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s moved card %q", actor.Username, movedCard.Title)))
	return events, nil
}

// ReorderCards applies the given ordering within one column.
func (s *BoardStorage) ReorderCards(columnID, userID string, orderedCardIDs []string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, _, err := s.columnFor(columnID, userID)
	if err != nil {
		return nil, err
	}
	pos := make(map[string]int, len(orderedCardIDs))
	for i, id := range orderedCardIDs {
		pos[id] = i
	}
	for i := range bs.cards {
		if bs.cards[i].ColumnID != columnID {
			continue
		}
		if p, ok := pos[bs.cards[i].ID]; ok {
			bs.cards[i].Order = p
		}
	}
	renumberCards(bs, columnID)
	events := []domain.Event{
		newEvent(bs.board.ID, domain.CardsReordered, domain.CardsReorderedData{
			ColumnID: columnID,
			Cards:    columnCards(bs, columnID),
		}, userID),
	}
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s reordered cards", actor.Username)))
	return events, nil
}

// DeleteCard removes a card and closes the gap it leaves.
func (s *BoardStorage) DeleteCard(cardID, userID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, i, err := s.cardFor(cardID, userID)
	if err != nil {
		return nil, err
	}
	columnID := bs.cards[i].ColumnID
	title := bs.cards[i].Title
	bs.cards = append(bs.cards[:i], bs.cards[i+1:]...)
	delete(s.cards, cardID)
	changed := renumberCards(bs, columnID)
	events := []domain.Event{
		newEvent(bs.board.ID, domain.CardDeleted, domain.CardDeletedData{CardID: cardID}, userID),
	}
	events = append(events, reorderEvents(bs, changed, userID)...)
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s deleted card %q", actor.Username, title)))
	return events, nil
}

// AddCardMember assigns a board member to a card.
func (s *BoardStorage) AddCardMember(cardID, userID, memberID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, i, err := s.cardFor(cardID, userID)
	if err != nil {
		return nil, err
	}
	card := &bs.cards[i]
	for _, m := range card.Members {
		if m == memberID {
			return nil, nil
		}
	}
	card.Members = append(card.Members, memberID)
	events := []domain.Event{
		newEvent(bs.board.ID, domain.CardUpdated, domain.CardEventData{Card: *card}, userID),
	}
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s assigned a member to %q", actor.Username, card.Title)))
	return events, nil
}

// RemoveCardMember unassigns a board member from a card.
func (s *BoardStorage) RemoveCardMember(cardID, userID, memberID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, actor, i, err := s.cardFor(cardID, userID)
	if err != nil {
		return nil, err
	}
	card := &bs.cards[i]
	kept := card.Members[:0]
	removed := false
	for _, m := range card.Members {
		if m == memberID {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	card.Members = kept
	if !removed {
		return nil, nil
	}
	events := []domain.Event{
		newEvent(bs.board.ID, domain.CardUpdated, domain.CardEventData{Card: *card}, userID),
	}
	events = append(events, s.appendActivity(bs, actor, fmt.Sprintf("%s unassigned a member from %q", actor.Username, card.Title)))
	return events, nil
}

func (s *BoardStorage) boardFor(boardID, userID string) (*boardState, domain.Member, error) {
	bs, ok := s.boards[boardID]
	if !ok {
		return nil, domain.Member{}, domain.ErrNotFound
	}
	actor, ok := memberOf(bs, userID)
	if !ok {
		return nil, domain.Member{}, domain.ErrForbidden
	}
	return bs, actor, nil
}

func (s *BoardStorage) columnFor(columnID, userID string) (*boardState, domain.Member, int, error) {
	boardID, ok := s.columns[columnID]
	if !ok {
		return nil, domain.Member{}, 0, domain.ErrNotFound
	}
	bs, actor, err := s.boardFor(boardID, userID)
	if err != nil {
		return nil, domain.Member{}, 0, err
	}
	for i := range bs.columns {
		if bs.columns[i].ID == columnID {
			return bs, actor, i, nil
		}
	}
	return nil, domain.Member{}, 0, domain.ErrNotFound
}

func (s *BoardStorage) cardFor(cardID, userID string) (*boardState, domain.Member, int, error) {
	boardID, ok := s.cards[cardID]
	if !ok {
		return nil, domain.Member{}, 0, domain.ErrNotFound
	}
	bs, actor, err := s.boardFor(boardID, userID)
	if err != nil {
		return nil, domain.Member{}, 0, err
	}
	for i := range bs.cards {
		if bs.cards[i].ID == cardID {
			return bs, actor, i, nil
		}
	}
	return nil, domain.Member{}, 0, domain.ErrNotFound
}

func (s *BoardStorage) appendActivity(bs *boardState, actor domain.Member, text string) domain.Event {
	entry := domain.ActivityEntry{
		ID:    uuid.NewString(),
		Actor: actor,
		Text:  text,
		Time:  nextTimestamp(),
	}
	bs.activity = append(bs.activity, entry)
	if len(bs.activity) > maxActivityEntries {
		bs.activity = bs.activity[len(bs.activity)-maxActivityEntries:]
	}
	return newEvent(bs.board.ID, domain.ActivityUpdated, domain.ActivityUpdatedData{
		Activity: append([]domain.ActivityEntry(nil), bs.activity...),
	}, actor.ID)
}

func memberOf(bs *boardState, userID string) (domain.Member, bool) {
	for _, m := range bs.board.Members {
		if m.ID == userID {
			return m, true
		}
	}
	if bs.board.Owner.ID == userID {
		return bs.board.Owner, true
	}
	return domain.Member{}, false
}

func sortColumns(bs *boardState) {
	sort.SliceStable(bs.columns, func(i, j int) bool {
		return bs.columns[i].Order < bs.columns[j].Order
	})
}

func renumberColumns(bs *boardState) {
	for i := range bs.columns {
		bs.columns[i].Order = i
	}
}

// renumberCards makes the column's ordering dense and returns the ids
// of the columns whose cards were renumbered.
func renumberCards(bs *boardState, columnID string) []string {
	cards := columnCardIndexes(bs, columnID)
	changed := false
	for pos, idx := range cards {
		if bs.cards[idx].Order != pos {
			bs.cards[idx].Order = pos
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return []string{columnID}
}

// columnCardIndexes returns the indexes of the column's cards sorted by
// their current order, ties broken by slice position.
func columnCardIndexes(bs *boardState, columnID string) []int {
	var idx []int
	for i := range bs.cards {
		if bs.cards[i].ColumnID == columnID {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return bs.cards[idx[a]].Order < bs.cards[idx[b]].Order
	})
	return idx
}

func columnCards(bs *boardState, columnID string) []domain.Card {
	idx := columnCardIndexes(bs, columnID)
	cards := make([]domain.Card, 0, len(idx))
	for _, i := range idx {
		cards = append(cards, bs.cards[i])
	}
	return cards
}

func countCards(bs *boardState, columnID string) int {
	n := 0
	for i := range bs.cards {
		if bs.cards[i].ColumnID == columnID {
			n++
		}
	}
	return n
}

func columnIDs(bs *boardState) []string {
	ids := make([]string, len(bs.columns))
	for i := range bs.columns {
		ids[i] = bs.columns[i].ID
	}
	return ids
}

func reorderEvents(bs *boardState, columnIDs []string, userID string) []domain.Event {
	events := make([]domain.Event, 0, len(columnIDs))
	for _, id := range columnIDs {
		events = append(events, newEvent(bs.board.ID, domain.CardsReordered, domain.CardsReorderedData{
			ColumnID: id,
			Cards:    columnCards(bs, id),
		}, userID))
	}
	return events
}
