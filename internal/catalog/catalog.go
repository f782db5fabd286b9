package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Window is one day's opening hours as "HH:MM" in store-local time.
// Close may be "24:00" for midnight.
type Window struct {
	Open  string `yaml:"open" json:"open"`
	Close string `yaml:"close" json:"close"`
}

// Catalog holds the store rules the booking form enforces.
type Catalog struct {
	// Categories is the fixed set of event tags shown in the booking form.
	Categories []string `yaml:"categories" json:"categories"`

	// MaxParticipants caps participants.max for new events.
	MaxParticipants int `yaml:"max_participants" json:"max_participants"`

	// MaxDescriptionWords limits event descriptions.
	MaxDescriptionWords int `yaml:"max_description_words" json:"max_description_words"`

	// Hours maps lower-case weekday names ("sunday".."saturday") to opening hours.
	Hours map[string]Window `yaml:"hours" json:"hours"`
}

func Default() *Catalog {
	weekday := Window{Open: "12:00", Close: "20:00"}
	weekend := Window{Open: "12:00", Close: "24:00"}
	return &Catalog{
		Categories:          []string{"Yu-Gi-Oh", "Magic the Gathering", "BeybladeX", "DnD", "PokemonTCG", "Misc"},
		MaxParticipants:     10,
		MaxDescriptionWords: 100,
		Hours: map[string]Window{
			"sunday":    weekday,
			"monday":    weekday,
			"tuesday":   weekday,
			"wednesday": weekday,
			"thursday":  weekday,
			"friday":    weekend,
			"saturday":  weekend,
		},
	}
}

// Normalize fills zero values from Default so partial files still work.
func (c *Catalog) Normalize() {
	def := Default()
	if len(c.Categories) == 0 {
		c.Categories = def.Categories
	}
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = def.MaxParticipants
	}
	if c.MaxDescriptionWords <= 0 {
		c.MaxDescriptionWords = def.MaxDescriptionWords
	}
	if c.Hours == nil {
		c.Hours = map[string]Window{}
	}
	for day, w := range def.Hours {
		if _, ok := c.Hours[day]; !ok {
			c.Hours[day] = w
		}
	}
}

// Load reads a catalog YAML file. An empty path or a missing file yields
// the default catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	normalized := make(map[string]Window, len(c.Hours))
	for day, w := range c.Hours {
		normalized[strings.ToLower(strings.TrimSpace(day))] = w
	}
	c.Hours = normalized
	c.Normalize()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	for day, w := range c.Hours {
		open, err := minutes(w.Open)
		if err != nil {
			return fmt.Errorf("catalog hours %s open: %w", day, err)
		}
		closeAt, err := minutes(w.Close)
		if err != nil {
			return fmt.Errorf("catalog hours %s close: %w", day, err)
		}
		if closeAt <= open {
			return fmt.Errorf("catalog hours %s: close %s not after open %s", day, w.Close, w.Open)
		}
	}
	return nil
}

// Category returns the canonical spelling of name, matched case-insensitively.
func (c *Catalog) Category(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, cat := range c.Categories {
		if strings.EqualFold(cat, name) {
			return cat, true
		}
	}
	return "", false
}

// HoursFor returns the opening window for t's weekday.
func (c *Catalog) HoursFor(t time.Time) (Window, bool) {
	w, ok := c.Hours[strings.ToLower(t.Weekday().String())]
	return w, ok
}

// Open reports whether t (already in store-local time) falls inside the
// opening window: open <= t < close.
func (c *Catalog) Open(t time.Time) bool {
	w, ok := c.HoursFor(t)
	if !ok {
		return false
	}
	open, err1 := minutes(w.Open)
	closeAt, err2 := minutes(w.Close)
	if err1 != nil || err2 != nil {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= open && m < closeAt
}

func minutes(hhmm string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	return h*60 + m, nil
}
