package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

type Access string

const (
	AccessPublic  Access = "public"
	AccessPrivate Access = "private"
)

func (a Access) Valid() bool {
	return a == AccessPublic || a == AccessPrivate
}

const (
	DateLayout = "01/02/2006"
	TimeLayout = "03:04 PM"
)

type Participants struct {
	Current int `json:"current" bson:"current"`
	Max     int `json:"max" bson:"max"`
}

// Event is the stored event document. StartsAt is the source of truth for
// the schedule; date and time text are derived from it.
type Event struct {
	ID           uuid.UUID    `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Category     string       `json:"category"`
	StartsAt     time.Time    `json:"starts_at"`
	HasTime      bool         `json:"has_time"`
	Access       Access       `json:"access"`
	InviteCode   string       `json:"invite_code,omitempty"`
	Participants Participants `json:"participants"`
	Host         string       `json:"host"`
	HostID       string       `json:"host_id"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (e Event) IsPrivate() bool { return e.Access == AccessPrivate }

func (e Event) IsFull() bool { return e.Participants.Current >= e.Participants.Max }

// Tag is the upper-cased category shown on event cards.
func (e Event) Tag() string { return strings.ToUpper(e.Category) }

func (e Event) DateText(loc *time.Location) string {
	if e.StartsAt.IsZero() {
		return ""
	}
	return e.StartsAt.In(loc).Format(DateLayout)
}

// TimeText is empty for events scheduled without an explicit time.
func (e Event) TimeText(loc *time.Location) string {
	if !e.HasTime || e.StartsAt.IsZero() {
		return ""
	}
	return e.StartsAt.In(loc).Format(TimeLayout)
}

// EventPatch holds the host-editable fields. Nil means unchanged.
type EventPatch struct {
	Title       *string
	Description *string
	Category    *string
}

func (p EventPatch) Apply(e Event) Event {
	p = p.Trimmed()
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	return e
}

// Trimmed returns a copy with surrounding whitespace removed from every set
// field.
func (p EventPatch) Trimmed() EventPatch {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	return EventPatch{
		Title:       trim(p.Title),
		Description: trim(p.Description),
		Category:    trim(p.Category),
	}
}

// NormalizeUserID derives the membership key from an account email:
// lower-cased with every non-alphanumeric rune removed.
func NormalizeUserID(email string) string {
	var b strings.Builder
	b.Grow(len(email))
	for _, r := range strings.ToLower(strings.TrimSpace(email)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CountWords counts whitespace separated words.
func CountWords(s string) int {
	return len(strings.Fields(s))
}
