package retry_test

import (
	"testing"
	"time"

	"export-worker-service/internal/errclass"
	"export-worker-service/internal/retry"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := retry.DefaultPolicy()
	c := errclass.Classification{Category: errclass.CategoryNetwork, Retryable: true}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
	}
	for attempts, w := range want {
		if got := p.Delay(c, "connection refused", attempts); got != w {
			t.Errorf("attempts=%d: delay = %v, want %v", attempts, got, w)
		}
	}
}

func TestDelayRateLimitedAIGetsExtraFactor(t *testing.T) {
	p := retry.DefaultPolicy()
	c := errclass.Classification{Category: errclass.CategoryAI, Retryable: true}

	// 1000 * 2^1 * 5
	if got := p.Delay(c, "openai rate limit reached", 1); got != 10*time.Second {
		t.Fatalf("delay = %v, want 10s", got)
	}

	// network errors never get the factor, even with the keyword
	n := errclass.Classification{Category: errclass.CategoryNetwork, Retryable: true}
	if got := p.Delay(n, "rate limit on proxy", 1); got != 2*time.Second {
		t.Fatalf("delay = %v, want 2s", got)
	}
}

func TestShouldRetry(t *testing.T) {
	p := retry.DefaultPolicy()
	cases := []struct {
		name     string
		c        errclass.Classification
		attempts int
		max      int
		want     bool
	}{
		{
			name:     "retryable network under limit",
			c:        errclass.Classification{Category: errclass.CategoryNetwork, Retryable: true},
			attempts: 1, max: 3, want: true,
		},
		{
			name:     "attempts exhausted",
			c:        errclass.Classification{Category: errclass.CategoryNetwork, Retryable: true},
			attempts: 3, max: 3, want: false,
		},
		{
			name:     "not retryable",
			c:        errclass.Classification{Category: errclass.CategoryStorage, Retryable: false},
			attempts: 0, max: 3, want: false,
		},
		{
			name:     "format never retried",
			c:        errclass.Classification{Category: errclass.CategoryFormat, Retryable: true},
			attempts: 0, max: 3, want: false,
		},
		{
			name: "publishing high severity never retried",
			c: errclass.Classification{
				Category: errclass.CategoryPublishing, Severity: errclass.SeverityHigh, Retryable: true,
			},
			attempts: 0, max: 3, want: false,
		},
		{
			name: "publishing medium severity retried",
			c: errclass.Classification{
				Category: errclass.CategoryPublishing, Severity: errclass.SeverityMedium, Retryable: true,
			},
			attempts: 0, max: 3, want: true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := p.ShouldRetry(c.c, c.attempts, c.max); got != c.want {
				t.Fatalf("ShouldRetry = %v, want %v", got, c.want)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	p := retry.DefaultPolicy()
	c := errclass.Classification{Category: errclass.CategoryUnknown, Retryable: true}

	d := p.Decide(c, "boom", 0, 3)
	if !d.Retry || d.Delay != time.Second {
		t.Fatalf("expected retry with 1s delay, got %+v", d)
	}

	d = p.Decide(c, "boom", 3, 3)
	if d.Retry {
		t.Fatalf("expected no retry after exhaustion, got %+v", d)
	}
}

func TestZeroPolicyFallsBackToDefaults(t *testing.T) {
	var p retry.Policy
	c := errclass.Classification{Category: errclass.CategoryNetwork, Retryable: true}
	if got := p.Delay(c, "timeout", 1); got != 2*time.Second {
		t.Fatalf("delay = %v, want 2s", got)
	}
}
