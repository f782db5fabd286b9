package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/baechuer/tablebook/internal/audit"
	"github.com/baechuer/tablebook/internal/catalog"
	contract "github.com/baechuer/tablebook/internal/contracts/event"
	"github.com/baechuer/tablebook/internal/domain"
	appCtx "github.com/baechuer/tablebook/internal/pkg/context"
	"github.com/baechuer/tablebook/internal/pkg/logger"
	"github.com/google/uuid"
)

const (
	DefaultMaxAttempts = 8
	DefaultBaseBackoff = 5 * time.Millisecond
	DefaultMaxBackoff  = 250 * time.Millisecond
	DefaultTxTimeout   = 10 * time.Second
)

type Deps struct {
	Store   domain.Store
	Catalog *catalog.Catalog

	// Optional collaborators.
	Notifier  domain.Notifier
	Publisher domain.Publisher
	Audit     *audit.Logger

	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	TxTimeout   time.Duration

	// Location is the store timezone used for schedules and "today".
	Location *time.Location
	Now      func() time.Time
}

type BookingService struct {
	store     domain.Store
	snaps     *Snapshots
	catalog   *catalog.Catalog
	notifier  domain.Notifier
	publisher domain.Publisher
	audit     *audit.Logger

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	txTimeout   time.Duration

	loc *time.Location
	now func() time.Time
}

func New(d Deps) *BookingService {
	if d.Store == nil {
		panic("service.New: nil store")
	}
	s := &BookingService{
		store:       d.Store,
		snaps:       NewSnapshots(d.Store),
		catalog:     d.Catalog,
		notifier:    d.Notifier,
		publisher:   d.Publisher,
		audit:       d.Audit,
		maxAttempts: d.MaxAttempts,
		baseBackoff: d.BaseBackoff,
		maxBackoff:  d.MaxBackoff,
		txTimeout:   d.TxTimeout,
		loc:         d.Location,
		now:         d.Now,
	}
	if s.catalog == nil {
		s.catalog = catalog.Default()
	}
	if s.audit == nil {
		s.audit = audit.Nop()
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.baseBackoff <= 0 {
		s.baseBackoff = DefaultBaseBackoff
	}
	if s.maxBackoff < s.baseBackoff {
		s.maxBackoff = DefaultMaxBackoff
	}
	if s.txTimeout <= 0 {
		s.txTimeout = DefaultTxTimeout
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *BookingService) Location() *time.Location { return s.loc }

func (s *BookingService) Now() time.Time { return s.now().In(s.loc) }

func (s *BookingService) Catalog() *catalog.Catalog { return s.catalog }

// Actor is the authenticated caller as resolved by the transport layer.
type Actor struct {
	UserID string
	Name   string
	Email  string
	Role   string
}

func (a Actor) DisplayName() string {
	switch {
	case strings.TrimSpace(a.Name) != "":
		return strings.TrimSpace(a.Name)
	case strings.TrimSpace(a.Email) != "":
		return strings.TrimSpace(a.Email)
	default:
		return "Unknown"
	}
}

func (a Actor) privileged() bool {
	return strings.EqualFold(strings.TrimSpace(a.Role), "admin")
}

func (s *BookingService) changed(ctx context.Context, userID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.EventsChanged(ctx)
	if userID != "" {
		s.notifier.MembershipChanged(ctx, userID)
	}
}

// publish sends a domain event after commit. Failures are logged, never
// returned: the write already happened.
func (s *BookingService) publish(ctx context.Context, routingKey string, payload any) {
	if s.publisher == nil {
		return
	}
	env := contract.DomainEventEnvelope[any]{
		Version:    contract.EnvelopeVersion,
		Producer:   contract.Producer,
		TraceID:    appCtx.GetRequestID(ctx),
		MessageID:  uuid.NewString(),
		OccurredAt: s.now().UTC(),
		Payload:    payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		logger.WithCtx(ctx).Error().Err(err).Str("routing_key", routingKey).Msg("encode domain event")
		return
	}
	if err := s.publisher.PublishEvent(ctx, routingKey, env.MessageID, body); err != nil {
		logger.WithCtx(ctx).Warn().Err(err).
			Str("routing_key", routingKey).
			Str("message_id", env.MessageID).
			Msg("publish domain event failed")
	}
}
