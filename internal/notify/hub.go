package notify

import (
	"context"
	"sync"

	"github.com/baechuer/tablebook/internal/domain"
	"github.com/baechuer/tablebook/internal/metrics"
	"github.com/baechuer/tablebook/internal/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Source reads the full snapshots fanned out to subscribers.
type Source interface {
	Events(ctx context.Context) ([]domain.Event, error)
	Membership(ctx context.Context, userID string) (domain.Membership, error)
}

// Subscription yields complete snapshots on C until cancelled. Only the
// latest undelivered snapshot is kept, and a snapshot equal to the previous
// one may be delivered again.
type Subscription[T any] struct {
	C <-chan T

	ch     chan T
	cancel context.CancelFunc
	once   sync.Once
	remove func()
}

// Cancel stops delivery and closes C. Safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.cancel()
		s.remove()
	})
}

// offer replaces any pending snapshot with v. Callers hold the hub lock, so
// there is a single producer per channel.
func (s *Subscription[T]) offer(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Hub fans out event and membership snapshots to local subscribers and,
// through an optional Relay, to other nodes.
type Hub struct {
	src    Source
	relay  Relay
	nodeID string
	log    zerolog.Logger

	// eventsMu and membersMu serialize read+deliver so each subscription
	// sees snapshots in read order.
	eventsMu  sync.Mutex
	membersMu sync.Mutex

	mu         sync.Mutex
	eventSubs  map[*Subscription[[]domain.Event]]struct{}
	memberSubs map[string]map[*Subscription[domain.Membership]]struct{}
}

func NewHub(src Source, relay Relay) *Hub {
	if src == nil {
		panic("notify.NewHub: nil source")
	}
	return &Hub{
		src:        src,
		relay:      relay,
		nodeID:     uuid.NewString(),
		log:        logger.Component("notify"),
		eventSubs:  map[*Subscription[[]domain.Event]]struct{}{},
		memberSubs: map[string]map[*Subscription[domain.Membership]]struct{}{},
	}
}

// SubscribeEvents delivers the current event list immediately and again
// after every change, until ctx ends or Cancel is called.
func (h *Hub) SubscribeEvents(ctx context.Context) (*Subscription[[]domain.Event], error) {
	h.eventsMu.Lock()
	defer h.eventsMu.Unlock()

	snap, err := h.src.Events(ctx)
	if err != nil {
		return nil, err
	}

	sub := &Subscription[[]domain.Event]{ch: make(chan []domain.Event, 1)}
	sub.C = sub.ch
	sub.ch <- snap

	h.mu.Lock()
	h.eventSubs[sub] = struct{}{}
	h.mu.Unlock()
	metrics.Subscribers.WithLabelValues("events").Inc()
	metrics.SnapshotsDelivered.WithLabelValues("events").Inc()

	sub.remove = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.eventSubs[sub]; ok {
			delete(h.eventSubs, sub)
			close(sub.ch)
			metrics.Subscribers.WithLabelValues("events").Dec()
		}
	}
	wctx, cancel := context.WithCancel(ctx)
	sub.cancel = cancel
	go func() {
		<-wctx.Done()
		sub.Cancel()
	}()
	return sub, nil
}

// SubscribeMemberships delivers one user's membership map immediately and
// after every change to it.
func (h *Hub) SubscribeMemberships(ctx context.Context, userID string) (*Subscription[domain.Membership], error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	h.membersMu.Lock()
	defer h.membersMu.Unlock()

	snap, err := h.src.Membership(ctx, userID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription[domain.Membership]{ch: make(chan domain.Membership, 1)}
	sub.C = sub.ch
	sub.ch <- snap.Clone()

	h.mu.Lock()
	set := h.memberSubs[userID]
	if set == nil {
		set = map[*Subscription[domain.Membership]]struct{}{}
		h.memberSubs[userID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.Subscribers.WithLabelValues("memberships").Inc()
	metrics.SnapshotsDelivered.WithLabelValues("memberships").Inc()

	sub.remove = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		set := h.memberSubs[userID]
		if _, ok := set[sub]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.memberSubs, userID)
			}
			close(sub.ch)
			metrics.Subscribers.WithLabelValues("memberships").Dec()
		}
	}
	wctx, cancel := context.WithCancel(ctx)
	sub.cancel = cancel
	go func() {
		<-wctx.Done()
		sub.Cancel()
	}()
	return sub, nil
}

// EventsChanged implements domain.Notifier.
func (h *Hub) EventsChanged(ctx context.Context) {
	h.broadcastEvents(ctx)
	h.forward(ctx, Message{Kind: KindEvents})
}

// MembershipChanged implements domain.Notifier.
func (h *Hub) MembershipChanged(ctx context.Context, userID string) {
	h.broadcastMembership(ctx, userID)
	h.forward(ctx, Message{Kind: KindMembership, UserID: userID})
}

// Refresh re-sends every snapshot. Subscribers see a duplicate when nothing
// changed, which lets clients re-bucket events when the day rolls over.
func (h *Hub) Refresh(ctx context.Context) {
	h.broadcastEvents(ctx)

	h.mu.Lock()
	users := make([]string, 0, len(h.memberSubs))
	for u := range h.memberSubs {
		users = append(users, u)
	}
	h.mu.Unlock()
	for _, u := range users {
		h.broadcastMembership(ctx, u)
	}
}

func (h *Hub) broadcastEvents(ctx context.Context) {
	h.eventsMu.Lock()
	defer h.eventsMu.Unlock()

	h.mu.Lock()
	n := len(h.eventSubs)
	h.mu.Unlock()
	if n == 0 {
		return
	}

	snap, err := h.src.Events(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("events snapshot failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.eventSubs {
		sub.offer(snap)
		metrics.SnapshotsDelivered.WithLabelValues("events").Inc()
	}
}

func (h *Hub) broadcastMembership(ctx context.Context, userID string) {
	h.membersMu.Lock()
	defer h.membersMu.Unlock()

	h.mu.Lock()
	n := len(h.memberSubs[userID])
	h.mu.Unlock()
	if n == 0 {
		return
	}

	snap, err := h.src.Membership(ctx, userID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("membership snapshot failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.memberSubs[userID] {
		// each subscriber gets its own copy; maps are not safe to share
		sub.offer(snap.Clone())
		metrics.SnapshotsDelivered.WithLabelValues("memberships").Inc()
	}
}
