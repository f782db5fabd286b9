package calendar

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/baechuer/tablebook/internal/classify"
	"github.com/baechuer/tablebook/internal/domain"
)

const (
	ProductID = "-//tablebook//events//EN"

	// DefaultDuration is the block a timed event occupies in calendar apps.
	DefaultDuration = 3 * time.Hour
)

// Feed builds an iCalendar of live and upcoming events. Invite codes never
// appear in it.
func Feed(name string, events []domain.Event, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	cal.SetName(name)
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone(now.Location().String())
	cal.SetRefreshInterval("PT15M")

	b := classify.Partition(events, now)
	for _, group := range [][]domain.Event{b.Live, b.Upcoming} {
		for _, e := range group {
			addEvent(cal, e, now)
		}
	}
	return cal
}

func Write(w io.Writer, name string, events []domain.Event, now time.Time) error {
	return Feed(name, events, now).SerializeTo(w)
}

func addEvent(cal *ical.Calendar, e domain.Event, now time.Time) {
	ve := cal.AddEvent(e.ID.String() + "@tablebook")
	ve.SetDtStampTime(now)
	ve.SetCreatedTime(e.CreatedAt)
	ve.SetSummary(fmt.Sprintf("%s [%s]", e.Title, e.Tag()))
	ve.AddCategory(e.Category)

	status := classify.EventStatus(e)
	desc := fmt.Sprintf("Hosted by %s. %d/%d participants (%s)",
		e.Host, e.Participants.Current, e.Participants.Max, status)
	if e.Description != "" {
		desc = e.Description + "\n\n" + desc
	}
	ve.SetDescription(desc)
	ve.SetColor(status.Color())
	if e.IsPrivate() {
		ve.SetClass(ical.ClassificationPrivate)
	}

	local := e.StartsAt.In(now.Location())
	if e.HasTime {
		ve.SetStartAt(e.StartsAt)
		ve.SetEndAt(e.StartsAt.Add(DefaultDuration))
		return
	}
	ve.SetAllDayStartAt(local)
	ve.SetAllDayEndAt(local.AddDate(0, 0, 1))
}
