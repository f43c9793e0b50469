package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"boardsync/domain"
)

var errRejected = errors.New("rejected")

func TestCreateColumnEmptyTitleIsLocalNoop(t *testing.T) {
	api := &fakeAPI{}
	s := loadedStore(t, api)

	if err := s.CreateColumn(context.Background(), "b1", "   "); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for _, call := range api.calls {
		if call == "createColumn" {
			t.Fatal("empty title must not reach the network")
		}
	}
}

func TestCreateColumnIsEchoOnly(t *testing.T) {
	api := &fakeAPI{}
	s := loadedStore(t, api)

	if err := s.CreateColumn(context.Background(), "b1", "Done"); err != nil {
		t.Fatalf("create column: %v", err)
	}
	if got := len(s.Snapshot().Columns); got != 2 {
		t.Fatalf("no optimistic insert expected, got %d columns", got)
	}
}

func TestUpdateCardDoesNotTouchStateBeforeEcho(t *testing.T) {
	api := &fakeAPI{}
	s := loadedStore(t, api)

	title := "x"
	if err := s.UpdateCard(context.Background(), "k1", domain.CardPatch{Title: &title}); err != nil {
		t.Fatalf("update card: %v", err)
	}

	snap := s.Snapshot()
	if snap.Cards[0].Title != "one" {
		t.Fatalf("card mutated before broadcast: %#v", snap.Cards[0])
	}

	// The card:updated echo is the sole mutation path.
	updated := snap.Cards[0]
	updated.Title = "x"
	s.Apply(mustEvent(t, "b1", domain.CardUpdated, domain.CardEventData{Card: updated}))
	if got := s.Snapshot().Cards[0].Title; got != "x" {
		t.Fatalf("expected echo to apply the edit, got %q", got)
	}
}

func TestUpdateCardEmptyPatchIsNoop(t *testing.T) {
	api := &fakeAPI{}
	s := loadedStore(t, api)

	if err := s.UpdateCard(context.Background(), "k1", domain.CardPatch{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(api.calls) != 1 { // the initial fetch only
		t.Fatalf("empty patch must not reach the network: %v", api.calls)
	}
}

func TestEchoOnlyFailureLeavesStateUnchanged(t *testing.T) {
	api := &fakeAPI{errs: map[string]error{"deleteColumn": errRejected}}
	s := loadedStore(t, api)
	before := s.Snapshot()

	err := s.DeleteColumn(context.Background(), "c1")
	if !errors.Is(err, errRejected) {
		t.Fatalf("expected wrapped rejection, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Fatal("echo-only failure must leave state untouched")
	}
}

func TestMoveCardAppliesOptimistically(t *testing.T) {
	api := &fakeAPI{}
	s := loadedStore(t, api)

	if err := s.MoveCard(context.Background(), MoveCardRequest{CardID: "k1", ToColumn: "c2", NewOrder: 0}); err != nil {
		t.Fatalf("move card: %v", err)
	}

	snap := s.Snapshot()
	i := -1
	for j, c := range snap.Cards {
		if c.ID == "k1" {
			i = j
		}
	}
	if i < 0 || snap.Cards[i].ColumnID != "c2" || snap.Cards[i].Order != 0 {
		t.Fatalf("move not applied locally: %#v", snap.Cards)
	}

	// The card:moved echo re-applies the same state: a no-op.
	moved := snap.Cards[i]
	s.Apply(mustEvent(t, "b1", domain.CardMoved, domain.CardEventData{Card: moved}))
	if !reflect.DeepEqual(snap, s.Snapshot()) {
		t.Fatal("echo after successful move must be idempotent")
	}
}

func TestMoveCardRollsBackOnRejection(t *testing.T) {
	api := &fakeAPI{}
	api.snapshot = testSnapshot()
	s := loadedStore(t, api)
	api.errs = map[string]error{"moveCard": errRejected}

	before := s.Snapshot()
	err := s.MoveCard(context.Background(), MoveCardRequest{CardID: "k2", ToColumn: "c2", NewOrder: 0})
	if !errors.Is(err, errRejected) {
		t.Fatalf("expected wrapped rejection, got %v", err)
	}

	after := s.Snapshot()
	if !reflect.DeepEqual(before.Cards, after.Cards) {
		t.Fatalf("rollback not bit-for-bit: before %#v after %#v", before.Cards, after.Cards)
	}
}

func TestMoveCardUnknownCard(t *testing.T) {
	s := loadedStore(t, &fakeAPI{})
	err := s.MoveCard(context.Background(), MoveCardRequest{CardID: "nope", ToColumn: "c2"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReorderCardsInColumnScenario(t *testing.T) {
	// Spec scenario: k1/k2 in c1, reorder to [k2 k1], then the
	// confirming broadcast arrives and must change nothing.
	api := &fakeAPI{}
	s := loadedStore(t, api)

	if err := s.ReorderCardsInColumn(context.Background(), "c1", []string{"k2", "k1"}); err != nil {
		t.Fatalf("reorder cards: %v", err)
	}

	snap := s.Snapshot()
	if snap.Cards[0].ID != "k2" || snap.Cards[0].Order != 0 || snap.Cards[1].ID != "k1" || snap.Cards[1].Order != 1 {
		t.Fatalf("optimistic reorder not applied: %#v", snap.Cards)
	}
	if !reflect.DeepEqual(api.lastIDs, []string{"k2", "k1"}) {
		t.Fatalf("unexpected reorder payload: %#v", api.lastIDs)
	}

	s.Apply(mustEvent(t, "b1", domain.CardsReordered, domain.CardsReorderedData{
		ColumnID: "c1",
		Cards: []domain.Card{
			{ID: "k2", Order: 0},
			{ID: "k1", Order: 1},
		},
	}))
	if !reflect.DeepEqual(snap, s.Snapshot()) {
		t.Fatal("confirming broadcast must be idempotent")
	}
}

func TestReorderCardsKeepsDenseOrders(t *testing.T) {
	s := loadedStore(t, &fakeAPI{})

	if err := s.ReorderCardsInColumn(context.Background(), "c1", []string{"k2", "k1"}); err != nil {
		t.Fatalf("reorder cards: %v", err)
	}
	seen := map[int]bool{}
	for _, c := range s.Snapshot().Cards {
		if c.ColumnID != "c1" {
			continue
		}
		if c.Order < 0 || c.Order > 1 || seen[c.Order] {
			t.Fatalf("orders not dense 0..n-1: %#v", s.Snapshot().Cards)
		}
		seen[c.Order] = true
	}
}

func TestReorderColumnsResyncsOnFailure(t *testing.T) {
	api := &fakeAPI{errs: map[string]error{"reorderColumns": errRejected}}
	s := loadedStore(t, api)
	fetchesBefore := api.fetches

	err := s.ReorderColumns(context.Background(), "b1", []string{"c2", "c1"})
	if !errors.Is(err, errRejected) {
		t.Fatalf("expected wrapped rejection, got %v", err)
	}
	if api.fetches != fetchesBefore+1 {
		t.Fatalf("expected a full reload after failed reorder, fetches=%d", api.fetches)
	}
	// Reload restored the server ordering.
	snap := s.Snapshot()
	if snap.Columns[0].ID != "c1" || snap.Columns[1].ID != "c2" {
		t.Fatalf("state not resynchronized: %#v", snap.Columns)
	}
}

func TestReorderColumnsOptimistic(t *testing.T) {
	api := &fakeAPI{}
	s := loadedStore(t, api)

	if err := s.ReorderColumns(context.Background(), "b1", []string{"c2", "c1"}); err != nil {
		t.Fatalf("reorder columns: %v", err)
	}
	snap := s.Snapshot()
	if snap.Columns[0].ID != "c2" || snap.Columns[1].ID != "c1" {
		t.Fatalf("optimistic column order not applied: %#v", snap.Columns)
	}
}

func TestUpdateBoardTitleRollsBackOnRejection(t *testing.T) {
	api := &fakeAPI{errs: map[string]error{"updateBoard": errRejected}}
	s := loadedStore(t, api)

	err := s.UpdateBoardTitle(context.Background(), "b1", "Renamed")
	if !errors.Is(err, errRejected) {
		t.Fatalf("expected wrapped rejection, got %v", err)
	}
	if got := s.Snapshot().Board.Title; got != "Roadmap" {
		t.Fatalf("previous title not restored: %q", got)
	}
}

func TestUpdateBoardTitleOptimistic(t *testing.T) {
	api := &fakeAPI{}
	s := loadedStore(t, api)

	if err := s.UpdateBoardTitle(context.Background(), "b1", "Renamed"); err != nil {
		t.Fatalf("update board title: %v", err)
	}
	if got := s.Snapshot().Board.Title; got != "Renamed" {
		t.Fatalf("optimistic title not applied: %q", got)
	}
}
