package store

import (
	"context"
	"time"

	"postflow/internal/domain"
)

type ScheduleRecord struct {
	ID              string
	UserID          string
	ContentID       string
	SocialAccountID string
	Platform        domain.Platform
	Text            string
	Title           string
	Description     string
	MediaURLs       []string
	ScheduledTime   time.Time
	Status          domain.Status
	Tries           int
	LastError       string
	PublishedURL    string
	NextRetryAt     *time.Time
	ProcessingStart *time.Time
	FallbackSent    bool
	FallbackSentAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Credential struct {
	AccountID    string
	UserID       string
	Platform     domain.Platform
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Disabled     bool
	// platform-side target: page id, ig user id, author urn, channel id
	ExternalRef string
}

type AttemptLog struct {
	ScheduleID string
	Platform   domain.Platform
	HTTPStatus int
	ErrorCode  string
	ErrorMsg   string
	Response   string
	At         time.Time
}

type Heartbeat struct {
	Instance    string
	CompletedAt time.Time
	Claimed     int
	Dispatched  int
}

// ScheduleStore is the storage port for schedule records. Claim is the one
// cross-instance synchronization primitive: it must be a single atomic
// compare-and-set at the storage layer, never read-then-write.
type ScheduleStore interface {
	Insert(ctx context.Context, rec ScheduleRecord) error
	Get(ctx context.Context, id string) (ScheduleRecord, bool, error)

	// FindDue returns claimable records whose time has come, ordered by
	// scheduled_time ascending: pending, or failed with next_retry_at <= now.
	FindDue(ctx context.Context, now time.Time, limit int) ([]ScheduleRecord, error)

	// Claim conditionally moves a record into processing and increments tries.
	// Returns (nil, nil) when another instance won the race or the record was
	// cancelled underneath us.
	Claim(ctx context.Context, id string, expected domain.Status, now time.Time) (*ScheduleRecord, error)

	MarkSuccess(ctx context.Context, id, publishedURL string, now time.Time) error

	// MarkRetry records a retryable failure. refundTry undoes the claim's
	// tries increment for outcomes not attributable to the record itself
	// (rate-limited skips, when so configured).
	MarkRetry(ctx context.Context, id, lastError string, nextRetryAt time.Time, refundTry bool, now time.Time) error

	// MarkFallback performs the terminal failed transition and flips
	// fallback_sent in the same statement. Returns false when the flag was
	// already set, which is the exactly-once guard for the notifier.
	MarkFallback(ctx context.Context, id, lastError string, now time.Time) (bool, error)

	Cancel(ctx context.Context, id string, now time.Time) (bool, error)

	// ReclaimStale resets processing records whose claim began before the
	// cutoff back to pending, making them claimable again.
	ReclaimStale(ctx context.Context, olderThan, now time.Time) (int, error)

	InsertAttempt(ctx context.Context, in AttemptLog) error
}

type CredentialStore interface {
	GetCredential(ctx context.Context, accountID string) (Credential, bool, error)
	SaveToken(ctx context.Context, accountID, accessToken string, expiresAt, now time.Time) error
	DisableAccount(ctx context.Context, accountID string, now time.Time) error
}

// RateStore is the shared, atomically-incrementable window counter visible to
// all dispatcher instances.
type RateStore interface {
	// Acquire increments the platform's counter for the window containing
	// now, rolling the window over when it has elapsed. Returns whether the
	// caller is within capacity and the resulting count.
	Acquire(ctx context.Context, platform string, window time.Duration, capacity int, now time.Time) (bool, int, error)
}

type HeartbeatStore interface {
	InsertHeartbeat(ctx context.Context, hb Heartbeat) error
	LatestHeartbeat(ctx context.Context) (Heartbeat, bool, error)
}
