package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"postflow/internal/domain"
	"postflow/internal/notifier"
	"postflow/internal/policy"
	"postflow/internal/publisher"
	"postflow/internal/ratelimit"
	"postflow/internal/store"
	"postflow/internal/store/memory"
	"postflow/internal/token"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakePublisher struct {
	platform domain.Platform

	mu      sync.Mutex
	results []error // consumed per call; nil means success
	calls   int
}

func (f *fakePublisher) Platform() domain.Platform { return f.platform }

func (f *fakePublisher) Publish(ctx context.Context, p publisher.Payload, accessToken string) (publisher.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.calls < len(f.results) {
		err = f.results[f.calls]
	}
	f.calls++
	if err != nil {
		return publisher.Outcome{}, err
	}
	return publisher.Outcome{URL: "https://example.com/post/1"}, nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLinker struct{}

func (fakeLinker) SignedLinks(ctx context.Context, contentID string) ([]notifier.SignedLink, error) {
	return []notifier.SignedLink{{Label: "video.mp4", URL: "https://signed/" + contentID, ExpiresAt: t0.Add(24 * time.Hour)}}, nil
}

type recordingMailer struct {
	mu    sync.Mutex
	sends []string
}

func (m *recordingMailer) Send(ctx context.Context, userID, subject, textBody, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, subject)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}

type env struct {
	store  *memory.Store
	pub    *fakePublisher
	mailer *recordingMailer
	proc   *Processor
	now    time.Time
}

func newEnv(t *testing.T, platform domain.Platform, results ...error) *env {
	t.Helper()
	s := memory.New()
	s.PutCredential(store.Credential{
		AccountID: "acct1", UserID: "u1", Platform: platform,
		AccessToken: "tok", ExpiresAt: t0.Add(time.Hour), ExternalRef: "page1",
	})
	pub := &fakePublisher{platform: platform, results: results}
	mailer := &recordingMailer{}

	e := &env{store: s, pub: pub, mailer: mailer, now: t0}
	e.proc = &Processor{
		Store:      s,
		Creds:      s,
		Tokens:     &token.Guard{Creds: s, ExpirySkew: 10 * time.Minute, Now: e.clock},
		Publishers: publisher.NewRegistry(pub),
		Shared: &ratelimit.Limiter{
			Store: s, Window: time.Minute, DefaultCapacity: 100, Now: e.clock,
		},
		Policy: &policy.Policy{
			MaxTries:             4,
			Delays:               []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second, 3600 * time.Second},
			RateLimitDelay:       30 * time.Second,
			RateLimitConsumesTry: true,
			Now:                  e.clock,
		},
		Notifier: &notifier.Notifier{Links: fakeLinker{}, Mailer: mailer},
		Now:      e.clock,
	}
	return e
}

func (e *env) clock() time.Time { return e.now }

func (e *env) seed(t *testing.T, platform domain.Platform) {
	t.Helper()
	err := e.store.Insert(context.Background(), store.ScheduleRecord{
		ID: "sch_1", UserID: "u1", ContentID: "c1", SocialAccountID: "acct1",
		Platform: platform, Text: "hello world", MediaURLs: []string{"https://cdn/x.jpg"},
		ScheduledTime: t0.Add(-time.Minute), Status: domain.StatusPending,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (e *env) claim(t *testing.T) store.ScheduleRecord {
	t.Helper()
	rec, _, _ := e.store.Get(context.Background(), "sch_1")
	claimed, err := e.store.Claim(context.Background(), "sch_1", rec.Status, e.now)
	if err != nil || claimed == nil {
		t.Fatalf("claim: rec=%v err=%v", claimed, err)
	}
	return *claimed
}

func TestAttemptSuccess(t *testing.T) {
	e := newEnv(t, domain.PlatformFacebookPage)
	e.seed(t, domain.PlatformFacebookPage)

	out, err := e.proc.Attempt(context.Background(), e.claim(t))
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if out.URL != "https://example.com/post/1" {
		t.Fatalf("unexpected url %s", out.URL)
	}

	rec, _, _ := e.store.Get(context.Background(), "sch_1")
	if rec.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %s", rec.Status)
	}
	if rec.PublishedURL == "" || rec.Tries != 1 {
		t.Fatalf("expected published url and tries=1, got url=%q tries=%d", rec.PublishedURL, rec.Tries)
	}
	if len(e.store.Attempts()) != 1 {
		t.Fatalf("expected one attempt row, got %d", len(e.store.Attempts()))
	}
}

func TestFatalContentGoesStraightToFallback(t *testing.T) {
	e := newEnv(t, domain.PlatformInstagramBusiness,
		&publisher.Error{Code: domain.ErrInvalidMedia, HTTPStatus: 400, Message: "bad image"})
	e.seed(t, domain.PlatformInstagramBusiness)

	_, err := e.proc.Attempt(context.Background(), e.claim(t))
	var ae *AttemptError
	if !errors.As(err, &ae) || !ae.Fallback {
		t.Fatalf("expected fallback attempt error, got %v", err)
	}

	rec, _, _ := e.store.Get(context.Background(), "sch_1")
	if rec.Status != domain.StatusFailed || !rec.FallbackSent {
		t.Fatalf("expected failed+fallback_sent, got status=%s sent=%v", rec.Status, rec.FallbackSent)
	}
	if rec.Tries != 1 {
		t.Fatalf("fatal error must not burn the retry budget, got tries=%d", rec.Tries)
	}
	if rec.NextRetryAt != nil {
		t.Fatalf("fallback must clear the retry schedule")
	}
	if e.mailer.count() != 1 {
		t.Fatalf("expected exactly one fallback notification, got %d", e.mailer.count())
	}
}

func TestTransientFailureSchedulesRetry(t *testing.T) {
	e := newEnv(t, domain.PlatformLinkedIn,
		&publisher.Error{Code: domain.ErrUnknown, HTTPStatus: 500, Message: "upstream hiccup"})
	e.seed(t, domain.PlatformLinkedIn)

	_, err := e.proc.Attempt(context.Background(), e.claim(t))
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Fallback {
		t.Fatalf("expected retryable attempt error, got %v", err)
	}

	rec, _, _ := e.store.Get(context.Background(), "sch_1")
	if rec.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}
	if rec.NextRetryAt == nil || !rec.NextRetryAt.Equal(t0.Add(60*time.Second)) {
		t.Fatalf("expected first retry after 60s, got %v", rec.NextRetryAt)
	}
	if rec.LastError == "" {
		t.Fatalf("expected last error recorded")
	}
	if e.mailer.count() != 0 {
		t.Fatalf("retryable failure must not notify")
	}
}

func TestRetryEscalationExhaustsToFallback(t *testing.T) {
	e := newEnv(t, domain.PlatformLinkedIn,
		&publisher.Error{Code: domain.ErrUnknown, HTTPStatus: 500, Message: "down"},
		&publisher.Error{Code: domain.ErrUnknown, HTTPStatus: 500, Message: "down"},
		&publisher.Error{Code: domain.ErrUnknown, HTTPStatus: 500, Message: "down"},
		&publisher.Error{Code: domain.ErrUnknown, HTTPStatus: 500, Message: "down"},
	)
	e.seed(t, domain.PlatformLinkedIn)

	delays := []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}
	for i, want := range delays {
		_, _ = e.proc.Attempt(context.Background(), e.claim(t))
		rec, _, _ := e.store.Get(context.Background(), "sch_1")
		if rec.Status != domain.StatusFailed || rec.FallbackSent {
			t.Fatalf("try %d: expected retryable failed, got status=%s sent=%v", i+1, rec.Status, rec.FallbackSent)
		}
		if got := rec.NextRetryAt.Sub(e.now); got != want {
			t.Fatalf("try %d: expected delay %v, got %v", i+1, want, got)
		}
		e.now = *rec.NextRetryAt
	}

	// fourth and final try
	_, err := e.proc.Attempt(context.Background(), e.claim(t))
	var ae *AttemptError
	if !errors.As(err, &ae) || !ae.Fallback {
		t.Fatalf("expected fallback on final try, got %v", err)
	}
	rec, _, _ := e.store.Get(context.Background(), "sch_1")
	if rec.Tries != 4 || !rec.FallbackSent {
		t.Fatalf("expected tries=4 and fallback sent, got tries=%d sent=%v", rec.Tries, rec.FallbackSent)
	}
	if e.mailer.count() != 1 {
		t.Fatalf("expected a single notification after exhaustion, got %d", e.mailer.count())
	}
	if e.pub.callCount() != 4 {
		t.Fatalf("expected 4 publish calls, got %d", e.pub.callCount())
	}
}

func TestRateWindowExhaustedDefersWithoutPublishing(t *testing.T) {
	e := newEnv(t, domain.PlatformLinkedIn)
	e.seed(t, domain.PlatformLinkedIn)
	e.proc.Shared = &ratelimit.Limiter{
		Store: e.store, Window: time.Minute,
		Capacity: map[string]int{"linkedin": 1}, Now: e.clock,
	}
	// use up the window before the attempt
	if ok, _, err := e.store.Acquire(context.Background(), "linkedin", time.Minute, 1, e.now); !ok || err != nil {
		t.Fatalf("seed window: ok=%v err=%v", ok, err)
	}

	_, err := e.proc.Attempt(context.Background(), e.claim(t))
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Code != domain.ErrRateLimit {
		t.Fatalf("expected rate_limit, got %v", err)
	}
	if e.pub.callCount() != 0 {
		t.Fatalf("rate-limited attempt must not reach the platform")
	}

	rec, _, _ := e.store.Get(context.Background(), "sch_1")
	if rec.Status != domain.StatusFailed || rec.NextRetryAt == nil {
		t.Fatalf("expected short-backoff retry, got status=%s retryAt=%v", rec.Status, rec.NextRetryAt)
	}
	if got := rec.NextRetryAt.Sub(e.now); got != 30*time.Second {
		t.Fatalf("expected 30s backoff, got %v", got)
	}
}

func TestTokenRefreshFailureFallsBackAndDisables(t *testing.T) {
	e := newEnv(t, domain.PlatformYouTubeDraft)
	e.seed(t, domain.PlatformYouTubeDraft)
	// expired credential and a refresher that always fails
	e.store.PutCredential(store.Credential{
		AccountID: "acct1", UserID: "u1", Platform: domain.PlatformYouTubeDraft,
		AccessToken: "tok", RefreshToken: "r", ExpiresAt: t0.Add(-time.Minute), ExternalRef: "chan1",
	})
	e.proc.Tokens.Refresher = refresherFunc(func(ctx context.Context, cred store.Credential) (token.AccessToken, error) {
		return token.AccessToken{}, errors.New("grant revoked")
	})

	_, err := e.proc.Attempt(context.Background(), e.claim(t))
	var ae *AttemptError
	if !errors.As(err, &ae) || !ae.Fallback || ae.Code != domain.ErrTokenRefreshFailed {
		t.Fatalf("expected token_refresh_failed fallback, got %v", err)
	}
	if e.pub.callCount() != 0 {
		t.Fatalf("failed token guard must not reach the platform")
	}

	cred, _, _ := e.store.GetCredential(context.Background(), "acct1")
	if !cred.Disabled {
		t.Fatalf("expected account disabled")
	}
	if e.mailer.count() != 1 {
		t.Fatalf("expected fallback notification, got %d", e.mailer.count())
	}
}

func TestFallbackNotificationExactlyOnce(t *testing.T) {
	e := newEnv(t, domain.PlatformLinkedIn)
	e.seed(t, domain.PlatformLinkedIn)
	rec := e.claim(t)

	if err := e.proc.fallback(context.Background(), rec, domain.ErrPermission, "no access"); err == nil {
		t.Fatalf("fallback should report the attempt error")
	}
	// a racing duplicate resolution must not notify again
	if err := e.proc.fallback(context.Background(), rec, domain.ErrPermission, "no access"); err == nil {
		t.Fatalf("fallback should report the attempt error")
	}
	if e.mailer.count() != 1 {
		t.Fatalf("expected one notification across duplicate fallbacks, got %d", e.mailer.count())
	}
}

type refresherFunc func(ctx context.Context, cred store.Credential) (token.AccessToken, error)

func (f refresherFunc) Refresh(ctx context.Context, cred store.Credential) (token.AccessToken, error) {
	return f(ctx, cred)
}
