package service_test

import (
	"testing"
	"time"

	"export-worker-service/internal/entity"
	"export-worker-service/internal/service"
)

func mustRun(t *testing.T, s entity.Schedule, now time.Time) time.Time {
	t.Helper()
	got, err := service.NextRun(s, now)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	return got
}

func TestNextRunDaily(t *testing.T) {
	// Tuesday 2025-06-10
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	s := entity.Schedule{Frequency: entity.FrequencyDaily, Time: "09:00"}

	got := mustRun(t, s, now)
	want := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("before today's slot: got %v, want %v", got, want)
	}

	got = mustRun(t, s, time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC))
	want = time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("after today's slot: got %v, want %v", got, want)
	}
}

func TestNextRunWeekly(t *testing.T) {
	// schedule: Mondays at 09:00
	s := entity.Schedule{Frequency: entity.FrequencyWeekly, DayOfWeek: 1, Time: "09:00"}

	// Tuesday -> six days until next Monday
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	got := mustRun(t, s, now)
	want := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("from tuesday: got %v, want %v", got, want)
	}

	// Monday before the slot -> today
	now = time.Date(2025, 6, 9, 8, 0, 0, 0, time.UTC)
	got = mustRun(t, s, now)
	want = time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("monday before slot: got %v, want %v", got, want)
	}

	// Monday after the slot -> a week later
	now = time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC)
	got = mustRun(t, s, now)
	want = time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("monday after slot: got %v, want %v", got, want)
	}
}

func TestNextRunMonthly(t *testing.T) {
	s := entity.Schedule{Frequency: entity.FrequencyMonthly, DayOfMonth: 15, Time: "06:30"}

	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	got := mustRun(t, s, now)
	want := time.Date(2025, 6, 15, 6, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("before the 15th: got %v, want %v", got, want)
	}

	now = time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	got = mustRun(t, s, now)
	want = time.Date(2025, 7, 15, 6, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("after the 15th: got %v, want %v", got, want)
	}
}

func TestNextRunHonorsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	s := entity.Schedule{Frequency: entity.FrequencyDaily, Time: "09:00", Timezone: "America/New_York"}

	// 12:00 UTC in June is 08:00 in New York, so today's 09:00 local is ahead
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	got := mustRun(t, s, now)
	want := time.Date(2025, 6, 10, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextRunRejectsBadInput(t *testing.T) {
	now := time.Now()

	if _, err := service.NextRun(entity.Schedule{Frequency: "hourly", Time: "09:00"}, now); err != service.ErrBadFrequency {
		t.Fatalf("expected ErrBadFrequency, got %v", err)
	}
	if _, err := service.NextRun(entity.Schedule{Frequency: entity.FrequencyDaily, Time: "nine"}, now); err != service.ErrBadTime {
		t.Fatalf("expected ErrBadTime, got %v", err)
	}
	if _, err := service.NextRun(entity.Schedule{Frequency: entity.FrequencyDaily, Time: "25:00"}, now); err != service.ErrBadTime {
		t.Fatalf("expected ErrBadTime for out-of-range hour, got %v", err)
	}
}
