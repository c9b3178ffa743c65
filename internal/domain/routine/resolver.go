package routine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResolveOccurrence maps a schedule rule and a calendar day to the instant
// the obligation becomes actionable: the rule's time-of-day on that day in
// loc, minus the lead minutes. It returns false when the rule's weekday set
// excludes the day or the time-of-day is malformed.
//
// The instant is constructed in loc, not UTC, so an 08:00 rule means local
// 08:00 on both sides of a daylight-saving transition.
func ResolveOccurrence(rule *ScheduleRule, day time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	day = day.In(loc)

	if !containsWeekday(rule.Weekdays, day.Weekday()) {
		return time.Time{}, false
	}

	hour, minute, err := parseTimeOfDay(rule.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}

	at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	return at.Add(-time.Duration(rule.LeadMinutes) * time.Minute), true
}

func containsWeekday(weekdays []int, wd time.Weekday) bool {
	for _, d := range weekdays {
		if time.Weekday(d) == wd {
			return true
		}
	}
	return false
}

// parseTimeOfDay parses "HH:MM" in 24-hour form.
func parseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
