package service

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	contract "github.com/baechuer/tablebook/internal/contracts/event"
	"github.com/baechuer/tablebook/internal/domain"
	"github.com/baechuer/tablebook/internal/metrics"
	"github.com/baechuer/tablebook/internal/pkg/logger"
	"github.com/google/uuid"
)

// Join adds userID to the event and bumps participants.current by one.
//
// Every precondition is checked against state read inside the same attempt,
// and re-checked on each retry. userID must already be normalized.
func (s *BookingService) Join(ctx context.Context, eventID uuid.UUID, userID, inviteCode string) (domain.Event, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Event{}, domain.ErrUnauthenticated
	}

	e, err := s.transact(ctx, "join", eventID, userID, func(st domain.TxState) (domain.Mutation, error) {
		if !st.Found {
			return domain.Mutation{}, domain.ErrNotFound
		}
		if st.Event.IsPrivate() {
			if err := domain.CheckInviteCode(st.Event.InviteCode, inviteCode); err != nil {
				return domain.Mutation{}, err
			}
		}
		if st.Joined {
			return domain.Mutation{}, domain.ErrAlreadyJoined
		}
		p := st.Event.Participants
		if p.Current >= p.Max {
			return domain.Mutation{}, domain.ErrEventFull
		}
		return domain.Mutation{Current: p.Current + 1, Joined: true}, nil
	})
	if err != nil {
		if !domain.IsRetryable(err) {
			s.audit.JoinRejected(ctx, eventID, userID, err)
		}
		return domain.Event{}, err
	}

	s.audit.JoinCreated(ctx, eventID, userID, e.Participants.Current, e.Participants.Max)
	s.changed(ctx, userID)
	s.publish(ctx, contract.RoutingJoinCreated, contract.MembershipPayload{
		EventID:  eventID.String(),
		UserID:   userID,
		Current:  e.Participants.Current,
		Capacity: e.Participants.Max,
	})
	return e, nil
}

// Leave removes userID from the event and decrements participants.current,
// never below zero.
func (s *BookingService) Leave(ctx context.Context, eventID uuid.UUID, userID string) (domain.Event, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Event{}, domain.ErrUnauthenticated
	}

	e, err := s.transact(ctx, "leave", eventID, userID, func(st domain.TxState) (domain.Mutation, error) {
		if !st.Found {
			return domain.Mutation{}, domain.ErrNotFound
		}
		if !st.Joined {
			return domain.Mutation{}, domain.ErrNotJoined
		}
		next := st.Event.Participants.Current - 1
		if next < 0 {
			next = 0
		}
		return domain.Mutation{Current: next, Joined: false}, nil
	})
	if err != nil {
		return domain.Event{}, err
	}

	s.audit.LeaveCompleted(ctx, eventID, userID, e.Participants.Current)
	s.changed(ctx, userID)
	s.publish(ctx, contract.RoutingJoinCanceled, contract.MembershipPayload{
		EventID:  eventID.String(),
		UserID:   userID,
		Current:  e.Participants.Current,
		Capacity: e.Participants.Max,
	})
	return e, nil
}

// transact runs decide through the store's compare-and-swap until it
// commits, fails a precondition, or the retry budget is spent.
//
// The caller's cancellation is dropped: an issued transaction runs to
// completion or failure, bounded by txTimeout.
func (s *BookingService) transact(ctx context.Context, op string, eventID uuid.UUID, userID string, decide domain.DecideFunc) (domain.Event, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.txTimeout)
	defer cancel()
	defer func() {
		metrics.CapacityTxDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	log := logger.WithCtx(ctx)
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, s.backoff(attempt)) {
				break
			}
		}

		e, err := s.store.Mutate(ctx, eventID, userID, decide)
		if err == nil {
			metrics.CapacityTx.WithLabelValues(op, "ok").Inc()
			return e, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			if outcome(err) == "error" {
				err = domain.Unavailable(op, err)
			}
			metrics.CapacityTx.WithLabelValues(op, outcome(err)).Inc()
			if errors.Is(err, domain.ErrStoreUnavailable) {
				log.Error().Err(err).Str("op", op).Str("event_id", eventID.String()).Msg("capacity tx store failure")
			}
			return domain.Event{}, err
		}

		metrics.CapacityTxConflicts.WithLabelValues(op).Inc()
		log.Debug().
			Str("op", op).
			Str("event_id", eventID.String()).
			Int("attempt", attempt+1).
			Msg("capacity tx conflict, retrying")
	}

	metrics.CapacityTx.WithLabelValues(op, "contention").Inc()
	s.audit.Contention(ctx, op, eventID, userID, s.maxAttempts)
	return domain.Event{}, domain.ErrContention
}

// backoff grows exponentially from baseBackoff, capped at maxBackoff, with
// +/-10% jitter so racing clients spread out.
func (s *BookingService) backoff(attempt int) time.Duration {
	d := s.baseBackoff
	for i := 1; i < attempt && d < s.maxBackoff; i++ {
		d *= 2
	}
	if d > s.maxBackoff {
		d = s.maxBackoff
	}
	if span := int64(d / 5); span > 0 {
		d += time.Duration(rand.Int63n(span)) - d/10
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrMissingInviteCode):
		return "missing_invite"
	case errors.Is(err, domain.ErrInvalidInviteCode):
		return "invalid_invite"
	case errors.Is(err, domain.ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, domain.ErrNotJoined):
		return "not_joined"
	case errors.Is(err, domain.ErrEventFull):
		return "full"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
