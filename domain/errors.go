package domain

import "errors"

var (
	// ErrNotFound indicates that the named board, column or card does
	// not exist in the addressed state.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates that the acting user is not a member of
	// the addressed board.
	ErrForbidden = errors.New("forbidden")

	// ErrNotLoaded indicates that the store has no board snapshot yet.
	ErrNotLoaded = errors.New("board not loaded")
)
