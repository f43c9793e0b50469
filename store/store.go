// Package store holds the client-side read model of one open board and
// reconciles three independent mutation streams: user actions issued
// against the REST API, their responses, and broadcast events produced
// by other clients. Mutations fall into exactly two categories:
//
//   - echo-only: local state changes only when the broadcast naming the
//     entity arrives, so every client converges in broadcast order;
//   - optimistic: the change is applied immediately from a captured
//     prior value and rolled back (or resynced) when the request fails.
//
// Only drag-and-drop reordering and inline title edits are optimistic.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// API is the slice of the board REST surface the store drives.
type API interface {
	FetchBoard(ctx context.Context, boardID string) (*domain.Snapshot, error)
	CreateColumn(ctx context.Context, boardID, title string) error
	UpdateColumnTitle(ctx context.Context, columnID, title string) error
	DeleteColumn(ctx context.Context, columnID string) error
	ReorderColumns(ctx context.Context, boardID string, orderedColumnIDs []string) error
	CreateCard(ctx context.Context, columnID, title string) error
	UpdateCard(ctx context.Context, cardID string, patch domain.CardPatch) error
	MoveCard(ctx context.Context, cardID, toColumn string, newOrder int) error
	ReorderCards(ctx context.Context, columnID string, orderedCardIDs []string) error
	DeleteCard(ctx context.Context, cardID string) error
	AddCardMember(ctx context.Context, cardID, userID string) error
	RemoveCardMember(ctx context.Context, cardID, userID string) error
	UpdateBoardTitle(ctx context.Context, boardID, title string) error
}

// Channel delivers broadcast events. Subscribe registers a handler and
// returns a function detaching it.
type Channel interface {
	Subscribe(fn func(domain.Event)) func()
}

// Store is the single source of truth for one open board.
type Store struct {
	api API
	log *log.Logger

	mu       sync.Mutex
	ready    bool
	board    *domain.Board
	columns  []domain.Column
	cards    []domain.Card
	activity []domain.ActivityEntry

	channel Channel
	detach  func()
}

// New creates a store backed by the given API.
func New(api API, logger *log.Logger) *Store {
	if api == nil {
		panic("store.New: api is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{api: api, log: logger}
}

// Ready reports whether a board snapshot has been loaded.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Snapshot returns a deep copy of the current read model. Callers must
// not cache entity data across renders; they read through the store.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap domain.Snapshot
	if s.board != nil {
		snap.Board = *s.board
		snap.Board.Members = append([]domain.Member(nil), s.board.Members...)
	}
	snap.Columns = append([]domain.Column(nil), s.columns...)
	snap.Cards = make([]domain.Card, len(s.cards))
	for i, c := range s.cards {
		snap.Cards[i] = cloneCard(c)
	}
	snap.Activity = append([]domain.ActivityEntry(nil), s.activity...)
	return snap
}

// LoadBoard fetches the full board snapshot, replacing all state. On
// failure nothing is applied; the caller decides whether to retry.
func (s *Store) LoadBoard(ctx context.Context, boardID string) error {
	snap, err := s.api.FetchBoard(ctx, boardID)
	if err != nil {
		return fmt.Errorf("load board %s: %w", boardID, err)
	}

	s.mu.Lock()
	board := snap.Board
	s.board = &board
	s.columns = append([]domain.Column(nil), snap.Columns...)
	s.cards = append([]domain.Card(nil), snap.Cards...)
	s.activity = append([]domain.ActivityEntry(nil), snap.Activity...)
	sortColumns(s.columns)
	sortCards(s.cards)
	s.ready = true
	s.mu.Unlock()

	s.log.WithFields(log.Fields{
		"board":   boardID,
		"columns": len(snap.Columns),
		"cards":   len(snap.Cards),
	}).Debug("board loaded")
	return nil
}

// AttachChannel subscribes the store to a realtime channel. Re-attaching
// first detaches the previous subscription so handlers never double up.
func (s *Store) AttachChannel(ch Channel) {
	s.mu.Lock()
	prev := s.detach
	s.channel = ch
	s.mu.Unlock()

	if prev != nil {
		prev()
	}
	detach := ch.Subscribe(s.Apply)

	s.mu.Lock()
	s.detach = detach
	s.mu.Unlock()
}

// DetachChannel removes the store's event subscription, if any. State
// is kept as-is: stale but displayable until the caller reloads.
func (s *Store) DetachChannel() {
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.channel = nil
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
}

func cloneCard(c domain.Card) domain.Card {
	out := c
	if c.Deadline != nil {
		d := *c.Deadline
		out.Deadline = &d
	}
	out.Members = append([]string(nil), c.Members...)
	return out
}

func sortColumns(cols []domain.Column) {
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Order < cols[j].Order })
}

func sortCards(cards []domain.Card) {
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Order < cards[j].Order })
}

func indexColumn(cols []domain.Column, id string) int {
	for i := range cols {
		if cols[i].ID == id {
			return i
		}
	}
	return -1
}

func indexCard(cards []domain.Card, id string) int {
	for i := range cards {
		if cards[i].ID == id {
			return i
		}
	}
	return -1
}
