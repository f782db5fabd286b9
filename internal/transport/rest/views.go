package rest

import (
	"time"

	"github.com/baechuer/tablebook/internal/classify"
	"github.com/baechuer/tablebook/internal/domain"
)

type eventView struct {
	ID           string              `json:"id"`
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Category     string              `json:"category"`
	Tag          string              `json:"tag"`
	StartsAt     *time.Time          `json:"starts_at,omitempty"`
	Date         string              `json:"date"`
	Time         string              `json:"time,omitempty"`
	Access       domain.Access       `json:"access"`
	InviteCode   string              `json:"invite_code,omitempty"`
	Participants domain.Participants `json:"participants"`
	Host         string              `json:"host"`
	HostID       string              `json:"host_id"`
	Status       classify.Status     `json:"status"`
	StatusColor  string              `json:"status_color"`
	Bucket       classify.Bucket     `json:"bucket"`
	CreatedAt    time.Time           `json:"created_at"`
}

type boardView struct {
	Live     []eventView `json:"live"`
	Upcoming []eventView `json:"upcoming"`
	Past     []eventView `json:"past,omitempty"`
}

// toView renders e for viewerID; only the host sees the invite code.
func toView(e domain.Event, now time.Time, viewerID string) eventView {
	loc := now.Location()
	status := classify.EventStatus(e)
	v := eventView{
		ID:           e.ID.String(),
		Title:        e.Title,
		Description:  e.Description,
		Category:     e.Category,
		Tag:          e.Tag(),
		Date:         e.DateText(loc),
		Time:         e.TimeText(loc),
		Access:       e.Access,
		Participants: e.Participants,
		Host:         e.Host,
		HostID:       e.HostID,
		Status:       status,
		StatusColor:  status.Color(),
		Bucket:       classify.BucketOf(e.StartsAt, now),
		CreatedAt:    e.CreatedAt,
	}
	if !e.StartsAt.IsZero() {
		at := e.StartsAt.In(loc)
		v.StartsAt = &at
	}
	if viewerID != "" && viewerID == e.HostID {
		v.InviteCode = e.InviteCode
	}
	return v
}

func toViews(events []domain.Event, now time.Time, viewerID string) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, toView(e, now, viewerID))
	}
	return out
}

// toBoard never exposes invite codes; boards are public.
func toBoard(events []domain.Event, now time.Time, includePast bool) boardView {
	b := classify.Partition(events, now)
	v := boardView{
		Live:     toViews(b.Live, now, ""),
		Upcoming: toViews(b.Upcoming, now, ""),
	}
	if includePast {
		v.Past = toViews(b.Past, now, "")
	}
	return v
}
