package event

import "time"

// Routing keys published on the booking exchange.
const (
	RoutingEventCreated = "event.created"
	RoutingEventUpdated = "event.updated"
	RoutingEventEnded   = "event.ended"
	RoutingJoinCreated  = "join.created"
	RoutingJoinCanceled = "join.canceled"
)

const (
	EnvelopeVersion = 1
	Producer        = "tablebook"
)

// DomainEventEnvelope is the canonical envelope for every published message.
type DomainEventEnvelope[T any] struct {
	Version    int       `json:"version"`
	Producer   string    `json:"producer"`
	TraceID    string    `json:"trace_id,omitempty"`
	MessageID  string    `json:"message_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    T         `json:"payload"`
}

// EventPayload describes an event lifecycle change. Invite codes are never published.
type EventPayload struct {
	EventID  string    `json:"event_id"`
	Title    string    `json:"title,omitempty"`
	Category string    `json:"category,omitempty"`
	Access   string    `json:"access,omitempty"`
	StartsAt time.Time `json:"starts_at,omitempty"`
	Capacity int       `json:"capacity,omitempty"`
	HostID   string    `json:"host_id,omitempty"`
}

// MembershipPayload describes a join or leave with the counter after commit.
type MembershipPayload struct {
	EventID  string `json:"event_id"`
	UserID   string `json:"user_id"`
	Current  int    `json:"current"`
	Capacity int    `json:"capacity"`
}
