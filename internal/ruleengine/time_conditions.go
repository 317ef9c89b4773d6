package ruleengine

import (
	"sync"
	"time"
)

const (
	businessHourStart = 9
	businessHourEnd   = 17
)

// TimeConditions are evaluated in Timezone (IANA name, default UTC).
type TimeConditions struct {
	Timezone string `json:"timezone,omitempty"`

	// HourStart/HourEnd describe the window [HourStart, HourEnd) in 0-23.
	// When HourStart > HourEnd the window spans midnight (22 -> 6).
	// Validate rejects a window with only one bound.
	HourStart *int `json:"hour_start,omitempty"`
	HourEnd   *int `json:"hour_end,omitempty"`

	// DaysOfWeek uses 0 = Sunday ... 6 = Saturday.
	DaysOfWeek  []int `json:"days_of_week,omitempty"`
	DaysOfMonth []int `json:"days_of_month,omitempty"`

	// StartDate and EndDate are inclusive bounds.
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	BusinessHoursOnly bool `json:"business_hours_only,omitempty"`
	AfterHoursOnly    bool `json:"after_hours_only,omitempty"`
	WeekendOnly       bool `json:"weekend_only,omitempty"`
	WeekdayOnly       bool `json:"weekday_only,omitempty"`
}

func (c *TimeConditions) matches(tx *TransactionContext, _ *environment) bool {
	local := tx.Timestamp.In(loadLocation(c.Timezone))
	hour := local.Hour()
	weekday := local.Weekday()

	if c.HourStart != nil && c.HourEnd != nil && !inHourWindow(hour, *c.HourStart, *c.HourEnd) {
		return false
	}
	if len(c.DaysOfWeek) > 0 && !containsInt(c.DaysOfWeek, int(weekday)) {
		return false
	}
	if len(c.DaysOfMonth) > 0 && !containsInt(c.DaysOfMonth, local.Day()) {
		return false
	}
	if c.StartDate != nil && tx.Timestamp.Before(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && tx.Timestamp.After(*c.EndDate) {
		return false
	}

	weekend := weekday == time.Saturday || weekday == time.Sunday
	business := !weekend && hour >= businessHourStart && hour < businessHourEnd

	if c.BusinessHoursOnly && !business {
		return false
	}
	if c.AfterHoursOnly && business {
		return false
	}
	if c.WeekendOnly && !weekend {
		return false
	}
	if c.WeekdayOnly && weekend {
		return false
	}
	return true
}

// inHourWindow handles both same-day and overnight windows.
// An empty window (start == end) imposes no constraint.
func inHourWindow(hour, start, end int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

var locations sync.Map // map[string]*time.Location

// loadLocation resolves an IANA zone, caching lookups.
// Unknown or empty names fall back to UTC.
func loadLocation(name string) *time.Location {
	if name == "" || name == "UTC" {
		return time.UTC
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locations.Store(name, loc)
	return loc
}
