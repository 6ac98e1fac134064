// Package retry decides whether and when a classified export failure is
// attempted again. Decisions are pure functions of the classification and the
// job's retry bookkeeping.
package retry

import (
	"math"
	"strings"
	"time"

	"export-worker-service/internal/errclass"
)

const (
	DefaultBaseDelay       = 1000 * time.Millisecond
	DefaultMultiplier      = 2.0
	DefaultRateLimitFactor = 5.0
)

type Policy struct {
	BaseDelay       time.Duration
	Multiplier      float64
	RateLimitFactor float64
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:       DefaultBaseDelay,
		Multiplier:      DefaultMultiplier,
		RateLimitFactor: DefaultRateLimitFactor,
	}
}

type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide returns the retry decision for a failure that occurred when the job
// had already made `attempts` of `maxAttempts` attempts.
func (p Policy) Decide(c errclass.Classification, message string, attempts, maxAttempts int) Decision {
	if !p.ShouldRetry(c, attempts, maxAttempts) {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Delay(c, message, attempts)}
}

// ShouldRetry applies the taxonomy rules: format errors are structural and
// never retried, and a high-severity publishing error means an expired auth
// token, which will not fix itself.
func (p Policy) ShouldRetry(c errclass.Classification, attempts, maxAttempts int) bool {
	if !c.Retryable {
		return false
	}
	if c.Category == errclass.CategoryFormat {
		return false
	}
	if c.Category == errclass.CategoryPublishing && c.Severity == errclass.SeverityHigh {
		return false
	}
	return attempts < maxAttempts
}

// Delay computes base * multiplier^attempts, with an extra rate-limit factor
// for throttled ai/publishing dependencies. The rate-limit trigger is the
// literal "rate limit" keyword, independent of the derived severity; see the
// design notes before simplifying this.
func (p Policy) Delay(c errclass.Classification, message string, attempts int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = DefaultMultiplier
	}

	d := time.Duration(float64(base) * math.Pow(mult, float64(attempts)))

	if c.Category == errclass.CategoryAI || c.Category == errclass.CategoryPublishing {
		if strings.Contains(strings.ToLower(message), "rate limit") {
			factor := p.RateLimitFactor
			if factor <= 0 {
				factor = DefaultRateLimitFactor
			}
			d = time.Duration(float64(d) * factor)
		}
	}
	return d
}
