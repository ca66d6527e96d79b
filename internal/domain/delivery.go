package domain

import "context"

// AugmentFunc builds the envelope a single recipient receives during a full broadcast.
type AugmentFunc func(ctx context.Context, recipient UserID, env Envelope) (Envelope, error)

// Deliverer routes envelopes to live connections. All methods are fire-and-forget:
// offline recipients and failed writes are not reported to the caller.
type Deliverer interface {
	SendToUser(ctx context.Context, userID UserID, env Envelope)
	BroadcastToRoom(ctx context.Context, members []UserID, env Envelope, exclude UserID)
	BroadcastAll(ctx context.Context, env Envelope, augment AugmentFunc)
}
