// Package catalog serves the symposium's event list.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type Category string

const (
	CategoryTechnical    Category = "Technical"
	CategoryNonTechnical Category = "Non-Technical"
)

var (
	ErrUnknownCategory = errors.New("unknown event category")
	ErrEventNotFound   = errors.New("event not found")
)

// ParseCategory accepts the category name in any case.
func ParseCategory(s string) (Category, error) {
	switch {
	case strings.EqualFold(s, string(CategoryTechnical)):
		return CategoryTechnical, nil
	case strings.EqualFold(s, string(CategoryNonTechnical)):
		return CategoryNonTechnical, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

type Event struct {
	ID          int      `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Category    Category `yaml:"category" json:"category"`
	Description string   `yaml:"description" json:"description"`
	Date        string   `yaml:"date" json:"date"`
	Time        string   `yaml:"time" json:"time"`
	Venue       string   `yaml:"venue" json:"venue"`
	TeamSize    string   `yaml:"team_size" json:"team_size"`
	PrizePool   string   `yaml:"prize_pool" json:"prize_pool"`
	Image       string   `yaml:"image" json:"image"`
}

//go:embed events.yaml
var defaultEvents []byte

// Catalog is read-only after construction.
type Catalog struct {
	events []Event
	byID   map[int]int
}

// Default returns the embedded catalogue.
func Default() (*Catalog, error) {
	return Parse(defaultEvents)
}

// Parse decodes a YAML document with a top-level "events" list.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Events []Event `yaml:"events"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode event catalogue: %w", err)
	}

	c := &Catalog{events: doc.Events, byID: make(map[int]int, len(doc.Events))}
	for i, e := range doc.Events {
		if _, err := ParseCategory(string(e.Category)); err != nil {
			return nil, fmt.Errorf("event %d: %w", e.ID, err)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate event id %d", e.ID)
		}
		c.byID[e.ID] = i
	}
	return c, nil
}

// All returns the events in catalogue order.
func (c *Catalog) All() []Event {
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *Catalog) ByID(id int) (Event, error) {
	i, ok := c.byID[id]
	if !ok {
		return Event{}, fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	return c.events[i], nil
}

func (c *Catalog) ByCategory(category string) ([]Event, error) {
	cat, err := ParseCategory(category)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(c.events))
	for _, e := range c.events {
		if e.Category == cat {
			out = append(out, e)
		}
	}
	return out, nil
}
