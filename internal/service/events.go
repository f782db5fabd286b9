package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/baechuer/tablebook/internal/classify"
	contract "github.com/baechuer/tablebook/internal/contracts/event"
	"github.com/baechuer/tablebook/internal/domain"
	"github.com/google/uuid"
)

// Draft is a booking form submission. Date is MM/DD/YYYY, Time optional.
type Draft struct {
	Title           string
	Description     string
	Category        string
	Date            string
	Time            string
	Access          domain.Access
	MaxParticipants int
}

// CreateEvent validates a draft against the store catalog and persists it
// with zero participants.
func (s *BookingService) CreateEvent(ctx context.Context, host Actor, d Draft) (domain.Event, error) {
	if strings.TrimSpace(host.UserID) == "" {
		return domain.Event{}, domain.ErrUnauthenticated
	}

	e, err := s.buildEvent(host, d)
	if err != nil {
		return domain.Event{}, err
	}
	if err := s.store.PutEvent(ctx, e); err != nil {
		return domain.Event{}, err
	}

	s.audit.EventCreated(ctx, e.ID, e.HostID, string(e.Access), e.Participants.Max)
	s.changed(ctx, "")
	s.publish(ctx, contract.RoutingEventCreated, lifecyclePayload(e))
	return e, nil
}

func (s *BookingService) buildEvent(host Actor, d Draft) (domain.Event, error) {
	fields := map[string]string{}

	title := strings.TrimSpace(d.Title)
	if title == "" {
		fields["title"] = "required"
	}
	desc := strings.TrimSpace(d.Description)
	if n := domain.CountWords(desc); n > s.catalog.MaxDescriptionWords {
		fields["description"] = fmt.Sprintf("at most %d words (got %d)", s.catalog.MaxDescriptionWords, n)
	}
	category, ok := s.catalog.Category(d.Category)
	if !ok {
		fields["category"] = "unknown category"
	}
	access := d.Access
	if access == "" {
		access = domain.AccessPublic
	}
	if !access.Valid() {
		fields["access"] = "must be public or private"
	}
	if d.MaxParticipants < 1 || d.MaxParticipants > s.catalog.MaxParticipants {
		fields["max_participants"] = fmt.Sprintf("must be between 1 and %d", s.catalog.MaxParticipants)
	}

	startsAt, err := classify.ParseScheduleStrict(d.Date, d.Time, s.loc)
	switch {
	case err != nil:
		fields["date"] = "expected MM/DD/YYYY and optional HH:MM AM/PM"
	case !startsAt.After(s.Now()):
		fields["date"] = "must be in the future"
	case !s.catalog.Open(startsAt):
		w, _ := s.catalog.HoursFor(startsAt)
		fields["time"] = fmt.Sprintf("outside store hours on %s (%s-%s)", startsAt.Weekday(), w.Open, w.Close)
	}

	if len(fields) > 0 {
		return domain.Event{}, &domain.ValidationError{Fields: fields}
	}

	e := domain.Event{
		ID:           uuid.New(),
		Title:        title,
		Description:  desc,
		Category:     category,
		StartsAt:     startsAt.UTC(),
		HasTime:      strings.TrimSpace(d.Time) != "",
		Access:       access,
		Participants: domain.Participants{Current: 0, Max: d.MaxParticipants},
		Host:         host.DisplayName(),
		HostID:       host.UserID,
		CreatedAt:    s.now().UTC(),
	}
	if access == domain.AccessPrivate {
		code, err := domain.GenerateInviteCode()
		if err != nil {
			return domain.Event{}, fmt.Errorf("generate invite code: %w", err)
		}
		e.InviteCode = code
	}
	return e, nil
}

// UpdateDetails edits host-owned, non-counter fields. The store applies the
// patch in place and never recreates an event ended in the meantime.
func (s *BookingService) UpdateDetails(ctx context.Context, eventID uuid.UUID, actor Actor, patch domain.EventPatch) (domain.Event, error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return domain.Event{}, domain.ErrUnauthenticated
	}
	if err := s.validatePatch(&patch); err != nil {
		return domain.Event{}, err
	}

	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if e.HostID != actor.UserID && !actor.privileged() {
		return domain.Event{}, domain.ErrForbidden
	}

	var updated domain.Event
	for attempt := 0; ; attempt++ {
		updated, err = s.store.UpdateDetails(ctx, eventID, patch)
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
		if attempt+1 >= s.maxAttempts || !sleepCtx(ctx, s.backoff(attempt+1)) {
			return domain.Event{}, domain.ErrContention
		}
	}
	if err != nil {
		return domain.Event{}, err
	}

	s.audit.EventUpdated(ctx, eventID, actor.UserID)
	s.changed(ctx, "")
	s.publish(ctx, contract.RoutingEventUpdated, lifecyclePayload(updated))
	return updated, nil
}

func (s *BookingService) validatePatch(p *domain.EventPatch) error {
	fields := map[string]string{}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		fields["title"] = "required"
	}
	if p.Description != nil {
		if n := domain.CountWords(*p.Description); n > s.catalog.MaxDescriptionWords {
			fields["description"] = fmt.Sprintf("at most %d words (got %d)", s.catalog.MaxDescriptionWords, n)
		}
	}
	if p.Category != nil {
		canonical, ok := s.catalog.Category(*p.Category)
		if !ok {
			fields["category"] = "unknown category"
		} else {
			p.Category = &canonical
		}
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// EndEvent deletes the event. Only the host (or an admin) may end it.
func (s *BookingService) EndEvent(ctx context.Context, eventID uuid.UUID, actor Actor) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return domain.ErrUnauthenticated
	}
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if e.HostID != actor.UserID && !actor.privileged() {
		return domain.ErrForbidden
	}
	if err := s.store.DeleteEvent(ctx, eventID); err != nil {
		return err
	}

	s.audit.EventEnded(ctx, eventID, actor.UserID, e.Participants.Current)
	s.changed(ctx, "")
	s.publish(ctx, contract.RoutingEventEnded, contract.EventPayload{EventID: eventID.String(), HostID: e.HostID})
	return nil
}

func (s *BookingService) GetEvent(ctx context.Context, eventID uuid.UUID) (domain.Event, error) {
	return s.store.GetEvent(ctx, eventID)
}

func (s *BookingService) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return s.snaps.Events(ctx)
}

// Board returns every event bucketed relative to the store's current time.
func (s *BookingService) Board(ctx context.Context) (classify.Buckets, error) {
	events, err := s.snaps.Events(ctx)
	if err != nil {
		return classify.Buckets{}, err
	}
	return classify.Partition(events, s.Now()), nil
}

func (s *BookingService) Membership(ctx context.Context, userID string) (domain.Membership, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrUnauthenticated
	}
	return s.snaps.Membership(ctx, userID)
}

func lifecyclePayload(e domain.Event) contract.EventPayload {
	return contract.EventPayload{
		EventID:  e.ID.String(),
		Title:    e.Title,
		Category: e.Category,
		Access:   string(e.Access),
		StartsAt: e.StartsAt,
		Capacity: e.Participants.Max,
		HostID:   e.HostID,
	}
}
