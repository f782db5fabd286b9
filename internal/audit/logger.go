package audit

import (
	"context"

	appCtx "github.com/baechuer/tablebook/internal/pkg/context"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for booking activity
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// Nop discards every record.
func Nop() *Logger {
	return New(zerolog.Nop())
}

func (l *Logger) EventCreated(ctx context.Context, eventID uuid.UUID, hostID, access string, capacity int) {
	l.log.Info().
		Str("action", "event_created").
		Str("event_id", eventID.String()).
		Str("host_id", hostID).
		Str("access", access).
		Int("max", capacity).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Event created")
}

func (l *Logger) EventUpdated(ctx context.Context, eventID uuid.UUID, actorID string) {
	l.log.Info().
		Str("action", "event_updated").
		Str("event_id", eventID.String()).
		Str("actor_id", actorID).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Event details updated")
}

func (l *Logger) EventEnded(ctx context.Context, eventID uuid.UUID, actorID string, participants int) {
	l.log.Warn().
		Str("action", "event_ended").
		Str("event_id", eventID.String()).
		Str("actor_id", actorID).
		Int("participants", participants).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Event ended by host")
}

// JoinCreated logs when a user joins an event
func (l *Logger) JoinCreated(ctx context.Context, eventID uuid.UUID, userID string, current, capacity int) {
	l.log.Info().
		Str("action", "join_created").
		Str("event_id", eventID.String()).
		Str("user_id", userID).
		Int("current", current).
		Int("max", capacity).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("User joined event")
}

// JoinRejected logs a join that failed a precondition.
func (l *Logger) JoinRejected(ctx context.Context, eventID uuid.UUID, userID string, reason error) {
	l.log.Info().
		Str("action", "join_rejected").
		Str("event_id", eventID.String()).
		Str("user_id", userID).
		Str("reason", reason.Error()).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Join rejected")
}

// LeaveCompleted logs when a user leaves an event
func (l *Logger) LeaveCompleted(ctx context.Context, eventID uuid.UUID, userID string, current int) {
	l.log.Info().
		Str("action", "join_canceled").
		Str("event_id", eventID.String()).
		Str("user_id", userID).
		Int("current", current).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("User left event")
}

// Contention logs a transaction that ran out of retries.
func (l *Logger) Contention(ctx context.Context, op string, eventID uuid.UUID, userID string, attempts int) {
	l.log.Error().
		Str("action", "tx_contention").
		Str("op", op).
		Str("event_id", eventID.String()).
		Str("user_id", userID).
		Int("attempts", attempts).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Capacity transaction exhausted retries")
}
