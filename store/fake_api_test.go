package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"boardsync/domain"
)

// fakeAPI records calls and returns injected errors per operation.
type fakeAPI struct {
	snapshot domain.Snapshot
	fetchErr error
	errs     map[string]error

	calls      []string
	fetches    int
	lastIDs    []string
	lastPatch  domain.CardPatch
	lastTitle  string
	lastColumn string
	lastOrder  int
}

func (f *fakeAPI) fail(op string) error {
	if f.errs == nil {
		return nil
	}
	return f.errs[op]
}

func (f *fakeAPI) record(op string) {
	f.calls = append(f.calls, op)
}

func (f *fakeAPI) FetchBoard(ctx context.Context, boardID string) (*domain.Snapshot, error) {
	f.record("fetch")
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	snap := f.snapshot
	return &snap, nil
}

func (f *fakeAPI) CreateColumn(ctx context.Context, boardID, title string) error {
	f.record("createColumn")
	f.lastTitle = title
	return f.fail("createColumn")
}

func (f *fakeAPI) UpdateColumnTitle(ctx context.Context, columnID, title string) error {
	f.record("updateColumn")
	f.lastTitle = title
	return f.fail("updateColumn")
}

func (f *fakeAPI) DeleteColumn(ctx context.Context, columnID string) error {
	f.record("deleteColumn")
	return f.fail("deleteColumn")
}

func (f *fakeAPI) ReorderColumns(ctx context.Context, boardID string, orderedColumnIDs []string) error {
	f.record("reorderColumns")
	f.lastIDs = orderedColumnIDs
	return f.fail("reorderColumns")
}

func (f *fakeAPI) CreateCard(ctx context.Context, columnID, title string) error {
	f.record("createCard")
	f.lastColumn = columnID
	f.lastTitle = title
	return f.fail("createCard")
}

func (f *fakeAPI) UpdateCard(ctx context.Context, cardID string, patch domain.CardPatch) error {
	f.record("updateCard")
	f.lastPatch = patch
	return f.fail("updateCard")
}

func (f *fakeAPI) MoveCard(ctx context.Context, cardID, toColumn string, newOrder int) error {
	f.record("moveCard")
	f.lastColumn = toColumn
	f.lastOrder = newOrder
	return f.fail("moveCard")
}

func (f *fakeAPI) ReorderCards(ctx context.Context, columnID string, orderedCardIDs []string) error {
	f.record("reorderCards")
	f.lastColumn = columnID
	f.lastIDs = orderedCardIDs
	return f.fail("reorderCards")
}

func (f *fakeAPI) DeleteCard(ctx context.Context, cardID string) error {
	f.record("deleteCard")
	return f.fail("deleteCard")
}

func (f *fakeAPI) AddCardMember(ctx context.Context, cardID, userID string) error {
	f.record("addCardMember")
	return f.fail("addCardMember")
}

func (f *fakeAPI) RemoveCardMember(ctx context.Context, cardID, userID string) error {
	f.record("removeCardMember")
	return f.fail("removeCardMember")
}

func (f *fakeAPI) UpdateBoardTitle(ctx context.Context, boardID, title string) error {
	f.record("updateBoard")
	f.lastTitle = title
	return f.fail("updateBoard")
}

// fakeChannel counts subscriptions and detachments and keeps the last
// registered handler so tests can push events through it.
type fakeChannel struct {
	subscribed int
	detached   int
	handler    func(domain.Event)
}

func (f *fakeChannel) Subscribe(fn func(domain.Event)) func() {
	f.subscribed++
	f.handler = fn
	return func() { f.detached++ }
}

func testSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Board: domain.Board{
			ID:    "b1",
			Title: "Roadmap",
			Owner: domain.Member{ID: "u1", Username: "ann"},
			Members: []domain.Member{
				{ID: "u1", Username: "ann"},
				{ID: "u2", Username: "bob"},
			},
		},
		Columns: []domain.Column{
			{ID: "c2", BoardID: "b1", Title: "Doing", Order: 1},
			{ID: "c1", BoardID: "b1", Title: "Todo", Order: 0},
		},
		Cards: []domain.Card{
			{ID: "k2", ColumnID: "c1", Title: "two", Order: 1},
			{ID: "k1", ColumnID: "c1", Title: "one", Order: 0},
		},
		Activity: []domain.ActivityEntry{
			{ID: "a1", Actor: domain.Member{ID: "u1", Username: "ann"}, Text: "created board", Time: 1},
		},
	}
}

func loadedStore(t *testing.T, api *fakeAPI) *Store {
	t.Helper()
	if api.snapshot.Board.ID == "" {
		api.snapshot = testSnapshot()
	}
	s := New(api, nil)
	if err := s.LoadBoard(context.Background(), api.snapshot.Board.ID); err != nil {
		t.Fatalf("load board: %v", err)
	}
	return s
}

func mustEvent(t *testing.T, boardID, typ string, data any) domain.Event {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal event data: %v", err)
	}
	return domain.Event{ID: "ev-" + typ, BoardID: boardID, Type: typ, Data: payload, Time: time.Now().UnixNano()}
}
