package domain

// ErrorCode is the closed classification for publish failures. Every platform
// error maps onto one of these; the retry policy keys off the code alone.
type ErrorCode string

const (
	ErrTokenExpired       ErrorCode = "token_expired"
	ErrRateLimit          ErrorCode = "rate_limit"
	ErrPermission         ErrorCode = "permission_error"
	ErrInvalidMedia       ErrorCode = "invalid_media"
	ErrInvalidAccount     ErrorCode = "invalid_account"
	ErrTokenRefreshFailed ErrorCode = "token_refresh_failed"
	ErrUnknown            ErrorCode = "unknown"
)

// Fatal codes short-circuit the retry budget: the condition will not clear on
// its own, so retrying only delays telling the user.
func (c ErrorCode) Fatal() bool {
	switch c {
	case ErrPermission, ErrInvalidMedia, ErrInvalidAccount, ErrTokenRefreshFailed:
		return true
	}
	return false
}

func (c ErrorCode) Retryable() bool { return !c.Fatal() }
