package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"postflow/internal/domain"
	"postflow/internal/notifier"
	"postflow/internal/observability"
	"postflow/internal/policy"
	"postflow/internal/publisher"
	"postflow/internal/ratelimit"
	"postflow/internal/store"
	"postflow/internal/token"
	"postflow/internal/util"
)

const lastErrorLimit = 500

// Processor runs one publish attempt for a record the caller has already
// claimed. Every branch resolves the record (success, retry, or fallback);
// nothing is left in processing except on storage errors, which the stale
// sweep eventually repairs.
type Processor struct {
	Store      store.ScheduleStore
	Creds      store.CredentialStore
	Tokens     *token.Guard
	Publishers publisher.Registry
	Shared     *ratelimit.Limiter
	// per-process smoothing; the shared window is the authority
	Local    *rate.Limiter
	Breakers map[domain.Platform]*gobreaker.CircuitBreaker
	Policy   *policy.Policy
	Notifier *notifier.Notifier
	Timeout  time.Duration
	Now      func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Dispatch satisfies the scanner's dispatcher port for in-process execution.
func (p *Processor) Dispatch(ctx context.Context, rec store.ScheduleRecord) error {
	_, err := p.Attempt(ctx, rec)
	return err
}

// Attempt executes the publish path for a claimed record. The returned
// outcome is non-nil exactly when the record was marked success. A non-nil
// error reports the attempt failure after its disposition (retry or
// fallback) has already been written.
func (p *Processor) Attempt(ctx context.Context, rec store.ScheduleRecord) (*publisher.Outcome, error) {
	log := slog.With("schedule_id", rec.ID, "platform", rec.Platform, "try", rec.Tries)

	// 1) per-process smoothing
	if p.Local != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Local.Wait(waitCtx)
		cancel()
		if err != nil {
			return nil, p.resolveFailure(ctx, rec, domain.ErrRateLimit, "local rate limiter saturated")
		}
	}

	// 2) shared platform window
	allowed, err := p.Shared.TryAcquire(ctx, rec.Platform)
	if err != nil {
		return nil, p.resolveFailure(ctx, rec, domain.ErrUnknown, "rate window check failed: "+err.Error())
	}
	if !allowed {
		observability.RateLimited.WithLabelValues(string(rec.Platform)).Inc()
		log.Info("publish deferred by rate window")
		return nil, p.resolveFailure(ctx, rec, domain.ErrRateLimit, "rate limit exceeded for "+string(rec.Platform))
	}

	// 3) token guard
	tok, err := p.Tokens.EnsureValid(ctx, rec.SocialAccountID)
	if err != nil {
		var fe *token.FatalError
		if errors.As(err, &fe) {
			return nil, p.fallback(ctx, rec, fe.Code, fe.Error())
		}
		return nil, p.resolveFailure(ctx, rec, domain.ErrUnknown, "token check failed: "+err.Error())
	}

	cred, found, err := p.Creds.GetCredential(ctx, rec.SocialAccountID)
	if err != nil {
		return nil, p.resolveFailure(ctx, rec, domain.ErrUnknown, "credential lookup failed: "+err.Error())
	}
	if !found {
		return nil, p.fallback(ctx, rec, domain.ErrInvalidAccount, "account "+rec.SocialAccountID+" not linked")
	}

	pub, ok := p.Publishers.For(rec.Platform)
	if !ok {
		return nil, p.fallback(ctx, rec, domain.ErrInvalidAccount, "no publisher for platform "+string(rec.Platform))
	}

	payload := publisher.Payload{
		Text:        rec.Text,
		Title:       rec.Title,
		Description: rec.Description,
		MediaURLs:   rec.MediaURLs,
		AccountRef:  cred.ExternalRef,
	}

	// 4) publish call behind the breaker
	start := time.Now()
	outcome, err := p.execute(ctx, pub, payload, tok.Token)
	observability.PublishLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		observability.PublishAttempts.WithLabelValues(string(rec.Platform), "ok").Inc()
		_ = p.Store.InsertAttempt(ctx, store.AttemptLog{
			ScheduleID: rec.ID, Platform: rec.Platform, HTTPStatus: 200, At: p.now(),
		})
		if err := p.Store.MarkSuccess(ctx, rec.ID, outcome.URL, p.now()); err != nil {
			return nil, err
		}
		log.Info("published", "url", outcome.URL)
		return &outcome, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.PublishAttempts.WithLabelValues(string(rec.Platform), "breaker_open").Inc()
		return nil, p.resolveFailure(ctx, rec, domain.ErrUnknown, "platform circuit open")
	}

	code := publisher.CodeOf(err)
	msg := util.TruncateError(err.Error(), lastErrorLimit)
	observability.PublishAttempts.WithLabelValues(string(rec.Platform), string(code)).Inc()
	_ = p.Store.InsertAttempt(ctx, store.AttemptLog{
		ScheduleID: rec.ID, Platform: rec.Platform,
		HTTPStatus: httpStatusOf(err), ErrorCode: string(code), ErrorMsg: msg, At: p.now(),
	})
	log.Info("publish attempt failed", "code", code, "err", msg)
	return nil, p.resolveFailure(ctx, rec, code, msg)
}

func (p *Processor) execute(ctx context.Context, pub publisher.Publisher, payload publisher.Payload, accessToken string) (publisher.Outcome, error) {
	call := func() (any, error) {
		callCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		return pub.Publish(callCtx, payload, accessToken)
	}

	cb := p.Breakers[pub.Platform()]
	if cb == nil {
		out, err := call()
		if err != nil {
			return publisher.Outcome{}, err
		}
		return out.(publisher.Outcome), nil
	}
	out, err := cb.Execute(call)
	if err != nil {
		return publisher.Outcome{}, err
	}
	return out.(publisher.Outcome), nil
}

// resolveFailure applies the retry/fallback policy to a failed attempt and
// writes the resulting state. Returns an error carrying the failure so
// callers can report it; the record itself is always resolved first.
func (p *Processor) resolveFailure(ctx context.Context, rec store.ScheduleRecord, code domain.ErrorCode, msg string) error {
	action := p.Policy.Decide(code, rec.Tries)
	if action.Kind == policy.KindFallback {
		return p.fallback(ctx, rec, code, msg)
	}
	if err := p.Store.MarkRetry(ctx, rec.ID, msg, action.RetryAt, action.RefundTry, p.now()); err != nil {
		return err
	}
	return &AttemptError{Code: code, Message: msg}
}

// fallback performs the terminal transition and fires the manual-publish
// notification exactly once, guarded by the fallback_sent flag flip.
func (p *Processor) fallback(ctx context.Context, rec store.ScheduleRecord, code domain.ErrorCode, msg string) error {
	won, err := p.Store.MarkFallback(ctx, rec.ID, msg, p.now())
	if err != nil {
		return err
	}
	if won {
		observability.Fallbacks.WithLabelValues(string(rec.Platform)).Inc()
		if p.Notifier != nil {
			if nerr := p.Notifier.Notify(ctx, rec, msg); nerr != nil {
				// delivery failure never reverts the terminal state
				slog.Error("fallback notification failed", "schedule_id", rec.ID, "err", nerr)
			}
		}
	}
	return &AttemptError{Code: code, Message: msg, Fallback: true}
}

// AttemptError reports a resolved publish failure to the caller.
type AttemptError struct {
	Code     domain.ErrorCode
	Message  string
	Fallback bool
}

func (e *AttemptError) Error() string { return string(e.Code) + ": " + e.Message }

func httpStatusOf(err error) int {
	var pe *publisher.Error
	if errors.As(err, &pe) {
		return pe.HTTPStatus
	}
	return 0
}
