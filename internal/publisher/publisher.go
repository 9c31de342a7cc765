// Package publisher holds one variant per platform. Each enforces the
// platform's payload constraints before touching the network, performs the
// publish call, and maps the platform's HTTP/JSON errors onto the closed
// domain.ErrorCode set so the retry policy never has to parse error strings.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"postflow/internal/domain"
)

type Payload struct {
	Text        string
	Title       string
	Description string
	MediaURLs   []string
	// platform-side target: page id, ig user id, author urn, channel id
	AccountRef string
}

type Outcome struct {
	URL string
}

// Error is a classified publish failure. HTTPStatus is zero for failures
// raised before the network call (payload validation).
type Error struct {
	Code       domain.ErrorCode
	HTTPStatus int
	Message    string
}

func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s (http %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the classification from any error in the attempt path.
// Transport-level failures (timeouts, refused connections) come back as
// unknown, which the policy treats as retryable-transient.
func CodeOf(err error) domain.ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return domain.ErrUnknown
}

type Publisher interface {
	Platform() domain.Platform
	Publish(ctx context.Context, p Payload, accessToken string) (Outcome, error)
}

type Registry map[domain.Platform]Publisher

func NewRegistry(pubs ...Publisher) Registry {
	r := make(Registry, len(pubs))
	for _, p := range pubs {
		r[p.Platform()] = p
	}
	return r
}

func (r Registry) For(p domain.Platform) (Publisher, bool) {
	pub, ok := r[p]
	return pub, ok
}

// Platform payload constraints. Text limits are the practical caps, not the
// marketing numbers.
const (
	FacebookTextLimit  = 63000
	InstagramTextLimit = 2200
	LinkedInTextLimit  = 3000
	YouTubeTitleLimit  = 100
	YouTubeDescLimit   = 5000
	facebookMediaLimit = 10
)

func invalidContent(format string, args ...any) *Error {
	return &Error{Code: domain.ErrInvalidMedia, Message: fmt.Sprintf(format, args...)}
}

// ValidatePayload enforces the per-platform constraints table. Violations are
// fatal-content: retrying unchanged content cannot succeed.
func ValidatePayload(platform domain.Platform, p Payload) error {
	switch platform {
	case domain.PlatformFacebookPage:
		if len(p.Text) > FacebookTextLimit {
			return invalidContent("text length %d exceeds facebook limit %d", len(p.Text), FacebookTextLimit)
		}
		if len(p.MediaURLs) > facebookMediaLimit {
			return invalidContent("too many media attachments: %d", len(p.MediaURLs))
		}
	case domain.PlatformInstagramBusiness:
		if len(p.Text) > InstagramTextLimit {
			return invalidContent("caption length %d exceeds instagram limit %d", len(p.Text), InstagramTextLimit)
		}
		if len(p.MediaURLs) != 1 {
			return invalidContent("instagram requires exactly one image or video URL, got %d", len(p.MediaURLs))
		}
	case domain.PlatformLinkedIn:
		if len(p.Text) > LinkedInTextLimit {
			return invalidContent("text length %d exceeds linkedin limit %d", len(p.Text), LinkedInTextLimit)
		}
	case domain.PlatformYouTubeDraft:
		if len(p.Title) > YouTubeTitleLimit {
			return invalidContent("title length %d exceeds youtube limit %d", len(p.Title), YouTubeTitleLimit)
		}
		if len(p.Description) > YouTubeDescLimit {
			return invalidContent("description length %d exceeds youtube limit %d", len(p.Description), YouTubeDescLimit)
		}
		if len(p.MediaURLs) == 0 {
			return invalidContent("youtube draft requires a video source")
		}
	default:
		return &Error{Code: domain.ErrInvalidAccount, Message: fmt.Sprintf("unsupported platform %q", platform)}
	}
	return nil
}

// classifyStatus is the default HTTP status mapping for platforms without
// richer error bodies.
func classifyStatus(status int) domain.ErrorCode {
	switch {
	case status == http.StatusUnauthorized:
		return domain.ErrTokenExpired
	case status == http.StatusForbidden:
		return domain.ErrPermission
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimit
	case status == http.StatusNotFound:
		return domain.ErrInvalidAccount
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.ErrInvalidMedia
	default:
		return domain.ErrUnknown
	}
}
