package service

import (
	"context"

	"github.com/baechuer/tablebook/internal/domain"
	"github.com/google/uuid"
)

// Snapshots reads the complete views handed to subscribers and to list
// endpoints.
type Snapshots struct {
	store domain.Store
}

func NewSnapshots(store domain.Store) *Snapshots {
	return &Snapshots{store: store}
}

func (s *Snapshots) Events(ctx context.Context) ([]domain.Event, error) {
	return s.store.ListEvents(ctx)
}

// Membership returns the user's joined set without entries for events that
// have since been ended.
func (s *Snapshots) Membership(ctx context.Context, userID string) (domain.Membership, error) {
	m, err := s.store.GetMembership(ctx, userID)
	if err != nil || len(m) == 0 {
		return m, err
	}
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[uuid.UUID]struct{}, len(events))
	for _, e := range events {
		live[e.ID] = struct{}{}
	}
	out := make(domain.Membership, len(m))
	for id := range m {
		if _, ok := live[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}
