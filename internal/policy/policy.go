// Package policy decides what happens to a schedule record after a publish
// attempt: mark success, retry at a computed future time, or give up and
// trigger the manual-publish fallback.
package policy

import (
	"time"

	"postflow/internal/domain"
)

type Kind int

const (
	KindRetry Kind = iota
	KindFallback
)

type Action struct {
	Kind    Kind
	RetryAt time.Time
	// undo the claim's tries increment; only ever set for rate-limited skips
	RefundTry bool
}

type Policy struct {
	MaxTries int
	// indexed by the attempt number that just failed: first failure waits
	// Delays[0], the last failure before exhaustion waits Delays[MaxTries-1]
	Delays []time.Duration
	// short fixed backoff for rate-limited skips
	RateLimitDelay time.Duration
	// whether a rate-limited skip consumes one of the record's tries
	RateLimitConsumesTry bool
	Now                  func() time.Time
}

func Default() *Policy {
	return &Policy{
		MaxTries:             4,
		Delays:               []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second, 3600 * time.Second},
		RateLimitDelay:       30 * time.Second,
		RateLimitConsumesTry: true,
	}
}

func (p *Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Decide maps a failed attempt to its disposition. tries is the record's try
// count after the claim increment. Fatal codes short-circuit the remaining
// try budget: a misconfigured account should not retry four times before
// informing the user.
func (p *Policy) Decide(code domain.ErrorCode, tries int) Action {
	if code.Fatal() {
		return Action{Kind: KindFallback}
	}

	if code == domain.ErrRateLimit {
		a := Action{Kind: KindRetry, RetryAt: p.now().Add(p.RateLimitDelay), RefundTry: !p.RateLimitConsumesTry}
		if p.RateLimitConsumesTry && tries >= p.MaxTries {
			return Action{Kind: KindFallback}
		}
		return a
	}

	if tries >= p.MaxTries {
		return Action{Kind: KindFallback}
	}

	idx := tries - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Delays) {
		idx = len(p.Delays) - 1
	}
	return Action{Kind: KindRetry, RetryAt: p.now().Add(p.Delays[idx])}
}
