package domain

import "github.com/google/uuid"

// Membership is one user's joined set: event id -> true. Absent keys mean
// not joined; a false value is never stored.
type Membership map[uuid.UUID]bool

func (m Membership) Has(eventID uuid.UUID) bool {
	return m[eventID]
}

func (m Membership) Clone() Membership {
	out := make(Membership, len(m))
	for k, v := range m {
		if v {
			out[k] = true
		}
	}
	return out
}
