package models

import (
	"fmt"
	"strings"
	"time"
)

// TimeRange is a daily interval in "HH:MM" wall-clock form. The interval is
// closed-open: a call arriving exactly at Start is within hours, one arriving
// exactly at End is outside.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WeeklySchedule maps lowercase weekday names ("monday", ...) to the open
// intervals for that day. Days with no entry are closed all day.
type WeeklySchedule map[string][]TimeRange

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeeklySchedule decodes the untyped schedule value from a node config.
func ParseWeeklySchedule(raw any) (WeeklySchedule, error) {
	days, ok := raw.(map[string]any)
	if !ok {
		if typed, ok := raw.(WeeklySchedule); ok {
			return typed, typed.validate()
		}

		return nil, fmt.Errorf("schedule must be an object, got %T", raw)
	}

	schedule := make(WeeklySchedule, len(days))

	for day, rawRanges := range days {
		day = strings.ToLower(day)
		if _, ok := weekdayNames[day]; !ok {
			return nil, fmt.Errorf("unknown weekday %q", day)
		}

		ranges, ok := rawRanges.([]any)
		if !ok {
			return nil, fmt.Errorf("ranges for %s must be a list", day)
		}

		for _, rawRange := range ranges {
			entry, ok := rawRange.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("range for %s must be an object", day)
			}

			start, _ := entry["start"].(string)
			end, _ := entry["end"].(string)
			schedule[day] = append(schedule[day], TimeRange{Start: start, End: end})
		}
	}

	return schedule, schedule.validate()
}

func (s WeeklySchedule) validate() error {
	for day, ranges := range s {
		for _, r := range ranges {
			if _, err := parseClock(r.Start); err != nil {
				return fmt.Errorf("%s: bad start %q: %w", day, r.Start, err)
			}

			if _, err := parseClock(r.End); err != nil {
				return fmt.Errorf("%s: bad end %q: %w", day, r.End, err)
			}
		}
	}

	return nil
}

// Within reports whether t falls inside the schedule, using t's own location.
func (s WeeklySchedule) Within(t time.Time) bool {
	var dayName string

	for name, wd := range weekdayNames {
		if wd == t.Weekday() {
			dayName = name

			break
		}
	}

	minute := t.Hour()*60 + t.Minute()

	for _, r := range s[dayName] {
		start, err := parseClock(r.Start)
		if err != nil {
			continue
		}

		end, err := parseClock(r.End)
		if err != nil {
			continue
		}

		// Closed-open interval: [start, end).
		if minute >= start && minute < end {
			return true
		}
	}

	return false
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(v string) (int, error) {
	var hour, minute int

	if _, err := fmt.Sscanf(v, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("expected HH:MM: %w", err)
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("out of range: %s", v)
	}

	return hour*60 + minute, nil
}
