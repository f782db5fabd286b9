package notify

import (
	"context"
)

const (
	KindEvents     = "events"
	KindMembership = "membership"
)

// Message tells other nodes which snapshot to rebuild. It carries no data;
// receivers re-read their own store.
type Message struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id,omitempty"`
	Origin string `json:"origin"`
}

// Relay carries change messages between nodes sharing one store.
type Relay interface {
	Publish(ctx context.Context, msg Message) error
	// Listen blocks, calling fn for every message, until ctx ends.
	Listen(ctx context.Context, fn func(Message)) error
}

func (h *Hub) forward(ctx context.Context, msg Message) {
	if h.relay == nil {
		return
	}
	msg.Origin = h.nodeID
	if err := h.relay.Publish(context.WithoutCancel(ctx), msg); err != nil {
		h.log.Warn().Err(err).Str("kind", msg.Kind).Msg("relay publish failed")
	}
}

// Run applies relay messages from other nodes until ctx ends. It returns
// immediately when the hub has no relay.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	return h.relay.Listen(ctx, func(msg Message) {
		if msg.Origin == h.nodeID {
			return
		}
		switch msg.Kind {
		case KindEvents:
			h.broadcastEvents(ctx)
		case KindMembership:
			if msg.UserID != "" {
				h.broadcastMembership(ctx, msg.UserID)
			}
		default:
			h.log.Debug().Str("kind", msg.Kind).Msg("unknown relay message")
		}
	})
}
