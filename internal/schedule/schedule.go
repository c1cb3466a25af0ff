// Package schedule turns delivery preferences into absolute delivery times.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"holdmail/internal/model"
)

// Defaults applied when a preference leaves a field empty.
const (
	DefaultTimezone  = "UTC"
	DefaultTimeOfDay = "09:00"
	DefaultDayOfWeek = "monday"
)

// ErrInvalidTimeOfDay is returned for a time of day that is not "HH:MM".
var ErrInvalidTimeOfDay = errors.New("invalid time of day")

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Resolve picks the preference that governs mail from sender. A sender
// preference with a frequency replaces the user's frequency, day and time;
// the timezone always comes from the user.
func Resolve(user model.DeliveryPreference, sender *model.DeliveryPreference) model.DeliveryPreference {
	active := user
	if sender != nil && sender.Frequency != "" {
		active = *sender
	}
	active.Timezone = user.Timezone
	return active
}

// ComputeScheduledFor returns the next delivery instant strictly after now, or
// nil when the preference does not batch mail (realtime, none, empty or an
// unknown frequency).
func ComputeScheduledFor(p model.DeliveryPreference, now time.Time) (*time.Time, error) {
	switch p.Frequency {
	case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly:
	default:
		return nil, nil
	}

	loc, err := LoadLocation(p.Timezone)
	if err != nil {
		return nil, err
	}

	hour, minute, err := ParseTimeOfDay(p.TimeOfDay)
	if err != nil {
		return nil, err
	}

	local := now.In(loc)
	y, m, d := local.Date()

	// day walks calendar dates; only its Y-M-D is used.
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	step := func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	switch p.Frequency {
	case model.FrequencyWeekly:
		target := ParseWeekday(p.DayOfWeek)
		day = day.AddDate(0, 0, (int(target)-int(local.Weekday())+7)%7)
		step = func(t time.Time) time.Time { return t.AddDate(0, 0, 7) }
	case model.FrequencyMonthly:
		// Always the 1st of the following month, never an anniversary of now.
		day = time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
		step = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	}

	// A date whose wall clock skips the time of day is passed over.
	for range maxSearch {
		if next, ok := wallClock(day, hour, minute, loc, now); ok {
			next = next.UTC()
			return &next, nil
		}
		day = step(day)
	}
	return nil, fmt.Errorf("no %s occurrence of %02d:%02d in %s", p.Frequency, hour, minute, loc)
}

const maxSearch = 64

// wallClock returns the earliest instant after now that reads hour:minute on
// the calendar date of day in loc. A repeated reading yields two candidates
// and a skipped one yields none.
func wallClock(day time.Time, hour, minute int, loc *time.Location, now time.Time) (time.Time, bool) {
	y, m, d := day.Date()
	naive := time.Date(y, m, d, hour, minute, 0, 0, time.UTC)

	var best time.Time
	found := false
	seen := make(map[int]bool, 3)
	for _, at := range []time.Time{naive.Add(-36 * time.Hour), naive, naive.Add(36 * time.Hour)} {
		_, offset := at.In(loc).Zone()
		if seen[offset] {
			continue
		}
		seen[offset] = true

		t := naive.Add(-time.Duration(offset) * time.Second)
		lt := t.In(loc)
		ly, lm, ld := lt.Date()
		if ly != y || lm != m || ld != d || lt.Hour() != hour || lt.Minute() != minute {
			continue
		}
		if !t.After(now) {
			continue
		}
		if !found || t.Before(best) {
			best, found = t, true
		}
	}
	return best, found
}

// LoadLocation resolves an IANA zone name. An empty name yields UTC.
func LoadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}

// ParseTimeOfDay parses "HH:MM" (24h). An empty string yields the default.
func ParseTimeOfDay(s string) (int, int, error) {
	if s == "" {
		s = DefaultTimeOfDay
	}
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	hour, err := strconv.Atoi(hs)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	minute, err := strconv.Atoi(ms)
	if err != nil || minute < 0 || minute > 59 || len(ms) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return hour, minute, nil
}

// ParseWeekday maps a lowercase or capitalized day name to a weekday.
// Unknown or empty names fall back to Monday.
func ParseWeekday(s string) time.Weekday {
	if wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]; ok {
		return wd
	}
	return weekdays[DefaultDayOfWeek]
}
