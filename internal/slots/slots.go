// Package slots produces the bookable appointment slots of a department.
//
// Slots are instants in the business timezone. The display string is only a
// rendering of that instant and is parsed back before any comparison.
package slots

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultDaysAhead = 7
	DefaultLeadTime  = 2 * time.Hour
	DefaultTimezone  = "Asia/Kolkata"

	// Layout is the display format of a slot in the business timezone.
	Layout = "2006-01-02 15:04"

	openHour  = 9
	closeHour = 18
	lunchHour = 13
)

var slotMinutes = [...]int{0, 30}

type Slot struct {
	At time.Time
}

func (s Slot) String() string {
	return s.At.Format(Layout)
}

type Generator struct {
	Location  *time.Location
	DaysAhead int
	LeadTime  time.Duration
	Now       func() time.Time
}

func NewGenerator(loc *time.Location, daysAhead int, leadTime time.Duration) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	if daysAhead <= 0 {
		daysAhead = DefaultDaysAhead
	}
	if leadTime < 0 {
		leadTime = DefaultLeadTime
	}
	return &Generator{
		Location:  loc,
		DaysAhead: daysAhead,
		LeadTime:  leadTime,
		Now:       time.Now,
	}
}

func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load business timezone %q: %w", name, err)
	}
	return loc, nil
}

// location falls back to UTC for generators built as struct literals.
func (g *Generator) location() *time.Location {
	if g.Location == nil {
		return time.UTC
	}
	return g.Location
}

func (g *Generator) now() time.Time {
	if g.Now == nil {
		return time.Now().In(g.location())
	}
	return g.Now().In(g.location())
}

// Generate lists the candidate slots for today and the following days,
// business hours only, skipping the lunch hour and anything not strictly
// after now plus the lead time.
func (g *Generator) Generate() []Slot {
	now := g.now()
	return g.generateAt(now)
}

func (g *Generator) generateAt(now time.Time) []Slot {
	cutoff := now.Add(g.LeadTime)
	slots := make([]Slot, 0, g.DaysAhead*(closeHour-openHour-1)*len(slotMinutes))
	for d := 0; d < g.DaysAhead; d++ {
		for hour := openHour; hour < closeHour; hour++ {
			if hour == lunchHour {
				continue
			}
			for _, minute := range slotMinutes {
				at := time.Date(now.Year(), now.Month(), now.Day()+d, hour, minute, 0, 0, now.Location())
				if !at.After(cutoff) {
					continue
				}
				slots = append(slots, Slot{At: at})
			}
		}
	}
	return slots
}

// Times returns the candidate instants, handy for store queries.
func Times(slots []Slot) []time.Time {
	out := make([]time.Time, len(slots))
	for i, slot := range slots {
		out[i] = slot.At
	}
	return out
}

func Strings(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, slot := range slots {
		out[i] = slot.String()
	}
	return out
}

// Resolve parses a display string and checks it against the slots generated
// right now. The second return is false when the slot is not bookable.
func (g *Generator) Resolve(value string) (Slot, bool) {
	at, err := Parse(value, g.location())
	if err != nil {
		return Slot{}, false
	}
	for _, slot := range g.Generate() {
		if slot.At.Equal(at) {
			return slot, true
		}
	}
	return Slot{}, false
}

func Parse(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	at, err := time.ParseInLocation(Layout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot %q: %w", value, err)
	}
	return at, nil
}

// Exclude drops slots whose instant appears in booked.
func Exclude(slots []Slot, booked []time.Time) []Slot {
	if len(booked) == 0 {
		return slots
	}
	taken := make(map[int64]struct{}, len(booked))
	for _, at := range booked {
		taken[at.Unix()] = struct{}{}
	}
	out := make([]Slot, 0, len(slots))
	for _, slot := range slots {
		if _, ok := taken[slot.At.Unix()]; ok {
			continue
		}
		out = append(out, slot)
	}
	return out
}
