package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/baechuer/tablebook/internal/domain"
	"github.com/baechuer/tablebook/internal/infrastructure/memory"
	"github.com/baechuer/tablebook/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var host = service.Actor{UserID: "hostexamplecom", Email: "host@example.com", Name: "Hana"}

func validDraft() service.Draft {
	return service.Draft{
		Title:           "Commander Night",
		Description:     "Bring a deck.",
		Category:        "magic the gathering",
		Date:            "05/15/2026", // Friday
		Time:            "07:30 PM",
		Access:          domain.AccessPublic,
		MaxParticipants: 8,
	}
}

func TestCreateEvent_Public(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)

	e, err := svc.CreateEvent(context.Background(), host, validDraft())
	require.NoError(t, err)

	assert.Equal(t, "Magic the Gathering", e.Category)
	assert.Equal(t, "MAGIC THE GATHERING", e.Tag())
	assert.Equal(t, "Hana", e.Host)
	assert.Equal(t, "hostexamplecom", e.HostID)
	assert.Empty(t, e.InviteCode)
	assert.Equal(t, domain.Participants{Current: 0, Max: 8}, e.Participants)
	assert.Equal(t, "05/15/2026", e.DateText(storeTZ))
	assert.Equal(t, "07:30 PM", e.TimeText(storeTZ))

	stored, err := store.GetEvent(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, stored.ID)
}

func TestCreateEvent_PrivateGetsInviteCode(t *testing.T) {
	svc := newService(t, memory.New())
	d := validDraft()
	d.Access = domain.AccessPrivate

	e, err := svc.CreateEvent(context.Background(), host, d)
	require.NoError(t, err)
	assert.Len(t, e.InviteCode, domain.InviteCodeLength)
}

func TestCreateEvent_SameTitleDistinctIDs(t *testing.T) {
	svc := newService(t, memory.New())

	a, err := svc.CreateEvent(context.Background(), host, validDraft())
	require.NoError(t, err)
	b, err := svc.CreateEvent(context.Background(), host, validDraft())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	events, err := svc.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestCreateEvent_Validation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(d *service.Draft)
		field string
	}{
		{"empty title", func(d *service.Draft) { d.Title = "  " }, "title"},
		{"too many words", func(d *service.Draft) { d.Description = strings.Repeat("word ", 101) }, "description"},
		{"unknown category", func(d *service.Draft) { d.Category = "Chess" }, "category"},
		{"bad access", func(d *service.Draft) { d.Access = "secret" }, "access"},
		{"zero cap", func(d *service.Draft) { d.MaxParticipants = 0 }, "max_participants"},
		{"cap over 10", func(d *service.Draft) { d.MaxParticipants = 11 }, "max_participants"},
		{"bad date", func(d *service.Draft) { d.Date = "2026-05-15" }, "date"},
		{"in the past", func(d *service.Draft) { d.Date = "05/13/2026" }, "date"},
		{"before opening", func(d *service.Draft) { d.Time = "11:00 AM" }, "time"},
		{"thursday after 8pm", func(d *service.Draft) { d.Date = "05/21/2026"; d.Time = "08:30 PM" }, "time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, memory.New())
			d := validDraft()
			tt.edit(&d)

			_, err := svc.CreateEvent(context.Background(), host, d)
			require.ErrorIs(t, err, domain.ErrValidation)
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestCreateEvent_FridayLate_OK(t *testing.T) {
	svc := newService(t, memory.New())
	d := validDraft()
	d.Time = "11:45 PM"
	d.Description = strings.Repeat("word ", 100)

	_, err := svc.CreateEvent(context.Background(), host, d)
	require.NoError(t, err)
}

func TestCreateEvent_Unauthenticated(t *testing.T) {
	svc := newService(t, memory.New())
	_, err := svc.CreateEvent(context.Background(), service.Actor{}, validDraft())
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestUpdateDetails_HostOnly_PreservesCounter(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	ctx := context.Background()

	e, err := svc.CreateEvent(ctx, host, validDraft())
	require.NoError(t, err)
	_, err = svc.Join(ctx, e.ID, "alice", "")
	require.NoError(t, err)

	title := "Commander Night II"
	cat := "dnd"
	_, err = svc.UpdateDetails(ctx, e.ID, service.Actor{UserID: "alice"}, domain.EventPatch{Title: &title})
	require.ErrorIs(t, err, domain.ErrForbidden)

	got, err := svc.UpdateDetails(ctx, e.ID, host, domain.EventPatch{Title: &title, Category: &cat})
	require.NoError(t, err)
	assert.Equal(t, "Commander Night II", got.Title)
	assert.Equal(t, "DnD", got.Category)
	assert.Equal(t, 1, got.Participants.Current)

	bad := "Chess"
	_, err = svc.UpdateDetails(ctx, e.ID, host, domain.EventPatch{Category: &bad})
	require.ErrorIs(t, err, domain.ErrValidation)
}

// endsAfterRead deletes the event right after the first read, the way a
// concurrent End Event lands between an edit's lookup and its write.
type endsAfterRead struct {
	domain.Store
	once sync.Once
}

func (s *endsAfterRead) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	e, err := s.Store.GetEvent(ctx, id)
	s.once.Do(func() { _ = s.Store.DeleteEvent(ctx, id) })
	return e, err
}

func TestUpdateDetails_EndedMidEditStaysEnded(t *testing.T) {
	mem := memory.New()
	svc := newService(t, mem)
	ctx := context.Background()

	e, err := svc.CreateEvent(ctx, host, validDraft())
	require.NoError(t, err)
	_, err = svc.Join(ctx, e.ID, "alice", "")
	require.NoError(t, err)

	racing := newService(t, &endsAfterRead{Store: mem})
	title := "Commander Night II"
	_, err = racing.UpdateDetails(ctx, e.ID, host, domain.EventPatch{Title: &title})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.GetEvent(ctx, e.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	list, err := svc.ListEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// conflictingUpdates fails the first n detail writes with ErrConflict.
type conflictingUpdates struct {
	domain.Store
	n     int
	calls int
}

func (s *conflictingUpdates) UpdateDetails(ctx context.Context, id uuid.UUID, p domain.EventPatch) (domain.Event, error) {
	s.calls++
	if s.calls <= s.n {
		return domain.Event{}, domain.ErrConflict
	}
	return s.Store.UpdateDetails(ctx, id, p)
}

func TestUpdateDetails_RetriesConflicts(t *testing.T) {
	mem := memory.New()
	e, err := newService(t, mem).CreateEvent(context.Background(), host, validDraft())
	require.NoError(t, err)
	title := "Renamed"

	store := &conflictingUpdates{Store: mem, n: 2}
	got, err := newService(t, store).UpdateDetails(context.Background(), e.ID, host, domain.EventPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, 3, store.calls)

	store = &conflictingUpdates{Store: mem, n: 1000}
	_, err = newService(t, store).UpdateDetails(context.Background(), e.ID, host, domain.EventPatch{Title: &title})
	require.ErrorIs(t, err, domain.ErrContention)
	assert.Equal(t, 5, store.calls)
}

func TestEndEvent(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	ctx := context.Background()

	e, err := svc.CreateEvent(ctx, host, validDraft())
	require.NoError(t, err)
	_, err = svc.Join(ctx, e.ID, "alice", "")
	require.NoError(t, err)

	require.ErrorIs(t, svc.EndEvent(ctx, e.ID, service.Actor{UserID: "alice"}), domain.ErrForbidden)
	require.NoError(t, svc.EndEvent(ctx, e.ID, host))

	_, err = svc.GetEvent(ctx, e.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Join(ctx, e.ID, "bob", "")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Leave(ctx, e.ID, "alice")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// ended events drop out of membership snapshots
	m, err := svc.Membership(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, m)

	require.ErrorIs(t, svc.EndEvent(ctx, e.ID, host), domain.ErrNotFound)
}

func TestEndEvent_AdminMayEnd(t *testing.T) {
	svc := newService(t, memory.New())
	e, err := svc.CreateEvent(context.Background(), host, validDraft())
	require.NoError(t, err)

	require.NoError(t, svc.EndEvent(context.Background(), e.ID, service.Actor{UserID: "ops", Role: "admin"}))
}

func TestBoard(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	ctx := context.Background()

	up, err := svc.CreateEvent(ctx, host, validDraft())
	require.NoError(t, err)

	today := validDraft()
	today.Date = "05/14/2026"
	today.Time = "06:00 PM"
	live, err := svc.CreateEvent(ctx, host, today)
	require.NoError(t, err)

	b, err := svc.Board(ctx)
	require.NoError(t, err)
	require.Len(t, b.Live, 1)
	require.Len(t, b.Upcoming, 1)
	assert.Equal(t, live.ID, b.Live[0].ID)
	assert.Equal(t, up.ID, b.Upcoming[0].ID)
}

// Membership count per event must equal participants.current after a
// storm of concurrent joins and leaves.
func TestMembershipMatchesCounter(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	ctx := context.Background()
	e, err := svc.CreateEvent(ctx, host, validDraft())
	require.NoError(t, err)

	users := make([]string, 16)
	for i := range users {
		users[i] = fmt.Sprintf("u%d", i)
	}

	var wg sync.WaitGroup
	for round := 0; round < 4; round++ {
		for _, u := range users {
			wg.Add(1)
			go func(u string, leave bool) {
				defer wg.Done()
				if leave {
					_, _ = svc.Leave(ctx, e.ID, u)
				} else {
					_, _ = svc.Join(ctx, e.ID, u, "")
				}
			}(u, round%2 == 1)
		}
		wg.Wait()
	}
	for _, u := range users[:5] {
		_, _ = svc.Join(ctx, e.ID, u, "")
	}

	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	members := 0
	for _, u := range users {
		m, err := svc.Membership(ctx, u)
		require.NoError(t, err)
		if m.Has(e.ID) {
			members++
		}
	}
	assert.Equal(t, members, got.Participants.Current)
	assert.GreaterOrEqual(t, got.Participants.Current, 0)
	assert.LessOrEqual(t, got.Participants.Current, got.Participants.Max)
}
