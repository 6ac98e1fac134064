package entity_test

import (
	"testing"

	"export-worker-service/internal/entity"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to entity.JobStatus
		want     bool
	}{
		{entity.StatusPending, entity.StatusProcessing, true},
		{entity.StatusPending, entity.StatusCancelled, true},
		{entity.StatusPending, entity.StatusCompleted, false},
		{entity.StatusProcessing, entity.StatusCompleted, true},
		{entity.StatusProcessing, entity.StatusFailed, true},
		{entity.StatusProcessing, entity.StatusPending, true},
		{entity.StatusProcessing, entity.StatusCancelled, true},
		{entity.StatusCompleted, entity.StatusPending, false},
		{entity.StatusFailed, entity.StatusPending, false},
		{entity.StatusCancelled, entity.StatusProcessing, false},
	}
	for _, c := range cases {
		if got := entity.CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestProgressSetUnits(t *testing.T) {
	var p entity.Progress

	p.SetUnits(3, 1)
	if p.Percentage != 33 {
		t.Fatalf("expected 33%%, got %d", p.Percentage)
	}

	p.SetUnits(3, 2)
	if p.Percentage != 67 {
		t.Fatalf("expected 67%% (rounded), got %d", p.Percentage)
	}

	p.SetUnits(3, 3)
	if p.Percentage != 100 {
		t.Fatalf("expected 100%%, got %d", p.Percentage)
	}

	p.SetUnits(0, 0)
	if p.Percentage != 0 {
		t.Fatalf("expected 0%% for zero total, got %d", p.Percentage)
	}
}

func TestJobCanRetry(t *testing.T) {
	j := entity.Job{Retry: entity.Retry{Attempts: 2, MaxAttempts: 3}}
	if !j.CanRetry() {
		t.Fatal("expected retry allowed at 2/3 attempts")
	}

	j.Retry.Attempts = 3
	if j.CanRetry() {
		t.Fatal("expected retry denied at 3/3 attempts")
	}
}

func TestValidKind(t *testing.T) {
	for _, k := range []entity.ExportKind{
		entity.KindContent, entity.KindAnalytics, entity.KindReports,
		entity.KindAssets, entity.KindBulk,
	} {
		if !entity.ValidKind(k) {
			t.Errorf("expected %s valid", k)
		}
	}
	if entity.ValidKind("pdf") {
		t.Error("expected unknown kind invalid")
	}
}
