package memory

import (
	"context"
	"sync"

	"github.com/baechuer/tablebook/internal/domain"
	"github.com/google/uuid"
)

// Store keeps events and memberships in process. A single mutex makes every
// Mutate serializable, so it never reports a conflict.
type Store struct {
	mu          sync.RWMutex
	events      map[uuid.UUID]domain.Event
	order       []uuid.UUID
	memberships map[string]domain.Membership
}

func New() *Store {
	return &Store{
		events:      map[uuid.UUID]domain.Event{},
		memberships: map[string]domain.Membership{},
	}
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *Store) PutEvent(ctx context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return domain.ErrConflict
	}
	s.events[e.ID] = e
	s.order = append(s.order, e.ID)
	return nil
}

func (s *Store) UpdateDetails(ctx context.Context, id uuid.UUID, patch domain.EventPatch) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	e = patch.Apply(e)
	s.events[id] = e
	return e, nil
}

func (s *Store) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.events, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListEvents returns events in creation order.
func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.events[id])
	}
	return out, nil
}

func (s *Store) GetMembership(ctx context.Context, userID string) (domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.memberships[userID].Clone(), nil
}

func (s *Store) Mutate(ctx context.Context, eventID uuid.UUID, userID string, decide domain.DecideFunc) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.events[eventID]
	state := domain.TxState{
		Event:  e,
		Found:  found,
		Joined: s.memberships[userID].Has(eventID),
	}
	m, err := decide(state)
	if err != nil {
		return domain.Event{}, err
	}

	e.Participants.Current = m.Current
	s.events[eventID] = e

	mem := s.memberships[userID]
	if m.Joined {
		if mem == nil {
			mem = domain.Membership{}
			s.memberships[userID] = mem
		}
		mem[eventID] = true
	} else if mem != nil {
		delete(mem, eventID)
	}
	return e, nil
}
