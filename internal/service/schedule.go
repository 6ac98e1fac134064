package service

import (
	"errors"
	"fmt"
	"time"

	"export-worker-service/internal/entity"
)

var (
	ErrBadFrequency = errors.New("invalid schedule frequency")
	ErrBadTime      = errors.New("schedule time must be HH:MM")
)

// NextRun computes the earliest instant at or after now that satisfies the
// schedule: today at the configured wall-clock time in the schedule's
// timezone, advanced per frequency when that candidate has already passed.
func NextRun(s entity.Schedule, now time.Time) (time.Time, error) {
	if !entity.ValidFrequency(s.Frequency) {
		return time.Time{}, ErrBadFrequency
	}

	var hour, minute int
	if n, err := fmt.Sscanf(s.Time, "%d:%d", &hour, &minute); n != 2 || err != nil {
		return time.Time{}, ErrBadTime
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, ErrBadTime
	}

	loc := time.UTC
	if s.Timezone != "" {
		l, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}
		loc = l
	}

	local := now.In(loc)
	cand := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)

	switch s.Frequency {
	case entity.FrequencyDaily, entity.FrequencyCustom:
		if !cand.After(now) {
			cand = cand.AddDate(0, 0, 1)
		}
	case entity.FrequencyWeekly:
		daysUntil := (s.DayOfWeek - int(cand.Weekday()) + 7) % 7
		if daysUntil == 0 && !cand.After(now) {
			daysUntil = 7
		}
		cand = cand.AddDate(0, 0, daysUntil)
	case entity.FrequencyMonthly:
		cand = time.Date(local.Year(), local.Month(), s.DayOfMonth, hour, minute, 0, 0, loc)
		if !cand.After(now) {
			cand = cand.AddDate(0, 1, 0)
		}
	}
	return cand, nil
}
