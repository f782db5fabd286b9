package classify

import (
	"sort"
	"time"

	"github.com/baechuer/tablebook/internal/domain"
)

type Bucket string

const (
	Live     Bucket = "live"
	Upcoming Bucket = "upcoming"
	Past     Bucket = "past"
)

type Status string

const (
	Open    Status = "open"
	Full    Status = "full"
	Private Status = "private"
)

var statusColors = map[Status]string{
	Full:    "#FF3B30",
	Private: "#FFCC00",
	Open:    "#34C759",
}

func (s Status) Color() string { return statusColors[s] }

// BucketOf places an instant relative to now. Same calendar day (in now's
// location) is Live regardless of time of day.
func BucketOf(at, now time.Time) Bucket {
	if !at.IsZero() && sameDay(at.In(now.Location()), now) {
		return Live
	}
	if at.After(now) {
		return Upcoming
	}
	return Past
}

// StatusOf ranks Full over Private over Open.
func StatusOf(p domain.Participants, access domain.Access) Status {
	switch {
	case p.Current >= p.Max:
		return Full
	case access == domain.AccessPrivate:
		return Private
	default:
		return Open
	}
}

func EventStatus(e domain.Event) Status {
	return StatusOf(e.Participants, e.Access)
}

type Buckets struct {
	Live     []domain.Event
	Upcoming []domain.Event
	Past     []domain.Event
}

// Partition buckets events relative to now and sorts each bucket ascending
// by start. Ties keep input order; Invalid instants go last.
func Partition(events []domain.Event, now time.Time) Buckets {
	var b Buckets
	for _, e := range events {
		switch BucketOf(e.StartsAt, now) {
		case Live:
			b.Live = append(b.Live, e)
		case Upcoming:
			b.Upcoming = append(b.Upcoming, e)
		default:
			b.Past = append(b.Past, e)
		}
	}
	sortByStart(b.Live)
	sortByStart(b.Upcoming)
	sortByStart(b.Past)
	return b
}

func sortByStart(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, c := events[i].StartsAt, events[j].StartsAt
		if a.IsZero() || c.IsZero() {
			return !a.IsZero() && c.IsZero()
		}
		return a.Before(c)
	})
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
