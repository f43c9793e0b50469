package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"boardsync/domain"
	"boardsync/store"
)

type fakeAPI struct {
	snap domain.Snapshot
}

func (f *fakeAPI) FetchBoard(_ context.Context, _ string) (*domain.Snapshot, error) {
	snap := f.snap
	return &snap, nil
}

func (f *fakeAPI) CreateColumn(context.Context, string, string) error { return nil }

func (f *fakeAPI) UpdateColumnTitle(context.Context, string, string) error { return nil }

func (f *fakeAPI) DeleteColumn(context.Context, string) error { return nil }

func (f *fakeAPI) ReorderColumns(context.Context, string, []string) error { return nil }

func (f *fakeAPI) CreateCard(context.Context, string, string) error { return nil }

func (f *fakeAPI) UpdateCard(context.Context, string, domain.CardPatch) error { return nil }

func (f *fakeAPI) MoveCard(context.Context, string, string, int) error { return nil }

func (f *fakeAPI) ReorderCards(context.Context, string, []string) error { return nil }

func (f *fakeAPI) DeleteCard(context.Context, string) error { return nil }

func (f *fakeAPI) AddCardMember(context.Context, string, string) error { return nil }

func (f *fakeAPI) RemoveCardMember(context.Context, string, string) error { return nil }

func (f *fakeAPI) UpdateBoardTitle(context.Context, string, string) error { return nil }

func TestApplyAndLogReportsPostApplyState(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	api := &fakeAPI{snap: domain.Snapshot{
		Board:   domain.Board{ID: "b1", Title: "Roadmap"},
		Columns: []domain.Column{{ID: "c1", BoardID: "b1", Title: "Todo"}},
	}}
	st := store.New(api, nil)
	if err := st.LoadBoard(context.Background(), "b1"); err != nil {
		t.Fatalf("load board: %v", err)
	}

	data, err := json.Marshal(domain.CardEventData{
		Card: domain.Card{ID: "k1", ColumnID: "c1", Title: "task"},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	applyAndLog(st, domain.Event{
		ID:      "e1",
		BoardID: "b1",
		Type:    domain.CardCreated,
		Data:    data,
		Time:    1,
	})

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Message != "board updated" {
		t.Fatalf("unexpected message %q", entry.Message)
	}
	// the announced event must already be in the snapshot when logged
	if got := entry.Data["cards"]; got != 1 {
		t.Fatalf("expected logged card count 1, got %#v", got)
	}
	if got := entry.Data["event"]; got != domain.CardCreated {
		t.Fatalf("unexpected event field %#v", got)
	}
}
