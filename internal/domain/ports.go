package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TxState is everything a capacity transaction may read, captured before
// any write of the same attempt is issued.
type TxState struct {
	Event  Event
	Found  bool
	Joined bool
}

// Mutation is the outcome a DecideFunc asks the store to commit.
type Mutation struct {
	Current int
	Joined  bool
}

// DecideFunc validates a TxState and returns the writes to apply. A non-nil
// error aborts the attempt without writing anything.
type DecideFunc func(TxState) (Mutation, error)

// EventStore is the durable record of event documents.
type EventStore interface {
	GetEvent(ctx context.Context, id uuid.UUID) (Event, error)
	// PutEvent inserts a new event. An id that already exists is left
	// untouched and yields ErrConflict.
	PutEvent(ctx context.Context, e Event) error
	// UpdateDetails applies patch to an existing event and returns the
	// result. It never creates an event: a missing id yields ErrNotFound.
	// The participants block is never written.
	UpdateDetails(ctx context.Context, id uuid.UUID, patch EventPatch) (Event, error)
	DeleteEvent(ctx context.Context, id uuid.UUID) error
	ListEvents(ctx context.Context) ([]Event, error)
}

type MembershipStore interface {
	GetMembership(ctx context.Context, userID string) (Membership, error)
}

// CapacityStore is the atomic multi-key compare-and-swap primitive spanning
// one event counter and one user's membership entry for that event.
//
// Mutate reads both keys, passes them to decide, then commits the returned
// mutation only if neither key changed since the read. A lost race yields
// ErrConflict and leaves both keys untouched.
type CapacityStore interface {
	Mutate(ctx context.Context, eventID uuid.UUID, userID string, decide DecideFunc) (Event, error)
}

// Store is what a backend provides to the service layer.
type Store interface {
	EventStore
	MembershipStore
	CapacityStore
}

// Publisher emits domain events to the message bus.
type Publisher interface {
	PublishEvent(ctx context.Context, routingKey, messageID string, body []byte) error
}

// Notifier is told when events or memberships changed so subscribers can
// receive fresh snapshots.
type Notifier interface {
	EventsChanged(ctx context.Context)
	MembershipChanged(ctx context.Context, userID string)
}

type RateLimiter interface {
	AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
