package domain

import "context"

// UserID is the opaque identifier of an authenticated user.
type UserID string

func (id UserID) String() string { return string(id) }

// TokenVerifier validates a connection credential and returns the identity it was issued to.
// Implementations wrap the authority's rejection reason in ErrInvalidToken.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (UserID, error)
}
