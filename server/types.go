package server

import (
	"context"

	"boardsync/domain"
)

// Authenticator is implemented by types able to extract user identity
// from Authorization headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
	MemberFromAuthHeader(string) (domain.Member, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when storage fails.
	Remove(ctx context.Context, userID, key string) error
}
