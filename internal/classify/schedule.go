package classify

import (
	"strconv"
	"strings"
	"time"

	"github.com/baechuer/tablebook/internal/domain"
)

// Invalid is the instant unparseable schedules resolve to. It is the zero
// time, so it sorts after every real instant in Partition.
var Invalid = time.Time{}

// ParseSchedule turns "MM/DD/YYYY" plus an optional "HH:MM [AM|PM]" into an
// instant in loc. Without a time the event is placed at local noon. Bad
// input yields Invalid.
func ParseSchedule(dateText, timeText string, loc *time.Location) time.Time {
	t, err := ParseScheduleStrict(dateText, timeText, loc)
	if err != nil {
		return Invalid
	}
	return t
}

// ParseScheduleStrict is ParseSchedule for callers that need to reject bad
// input, such as the booking form.
func ParseScheduleStrict(dateText, timeText string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	y, m, d, ok := parseDate(dateText)
	if !ok {
		return Invalid, domain.ErrMalformed
	}
	hour, minute := 12, 0
	if strings.TrimSpace(timeText) != "" {
		hour, minute, ok = parseClock(timeText)
		if !ok {
			return Invalid, domain.ErrMalformed
		}
	}
	return time.Date(y, time.Month(m), d, hour, minute, 0, 0, loc), nil
}

func parseDate(s string) (y, m, d int, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	var ok1, ok2, ok3 bool
	m, ok1 = atoiDigits(parts[0])
	d, ok2 = atoiDigits(parts[1])
	y, ok3 = atoiDigits(parts[2])
	if !ok1 || !ok2 || !ok3 || len(parts[2]) != 4 {
		return 0, 0, 0, false
	}
	if m < 1 || m > 12 || d < 1 {
		return 0, 0, 0, false
	}
	// time.Date normalizes 02/30 into March; reject instead.
	if time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC).Day() != d {
		return 0, 0, 0, false
	}
	return y, m, d, true
}

func parseClock(s string) (hour, minute int, ok bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	meridiem := ""
	switch {
	case strings.HasSuffix(s, "AM"):
		meridiem, s = "AM", strings.TrimSpace(strings.TrimSuffix(s, "AM"))
	case strings.HasSuffix(s, "PM"):
		meridiem, s = "PM", strings.TrimSpace(strings.TrimSuffix(s, "PM"))
	}

	hh, mm, found := strings.Cut(s, ":")
	if !found || len(mm) != 2 {
		return 0, 0, false
	}
	hour, ok = atoiDigits(hh)
	if !ok {
		return 0, 0, false
	}
	if minute, ok = atoiDigits(mm); !ok || minute > 59 {
		return 0, 0, false
	}

	switch meridiem {
	case "":
		if hour < 0 || hour > 23 {
			return 0, 0, false
		}
	default:
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		// 12:xx AM is just after midnight, 12:xx PM just after noon.
		hour %= 12
		if meridiem == "PM" {
			hour += 12
		}
	}
	return hour, minute, true
}

// atoiDigits parses a non-empty run of ASCII digits. Signs and spaces are
// rejected, unlike strconv.Atoi.
func atoiDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}
