// Package token ensures a social account's access token is valid before a
// publish attempt, refreshing when near expiry. Refresh failure is fatal:
// a revoked grant will not self-heal without user action, so the account is
// disabled and the record goes straight to fallback.
package token

import (
	"context"
	"fmt"
	"time"

	"postflow/internal/domain"
	"postflow/internal/observability"
	"postflow/internal/store"
)

type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

type Refresher interface {
	Refresh(ctx context.Context, cred store.Credential) (AccessToken, error)
}

type FatalError struct {
	Code domain.ErrorCode
	Err  error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code)
}

func (e *FatalError) Unwrap() error { return e.Err }

type Guard struct {
	Creds     store.CredentialStore
	Refresher Refresher
	// tokens expiring within this window get refreshed up front instead of
	// failing mid-publish
	ExpirySkew time.Duration
	Now        func() time.Time
}

func (g *Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

// EnsureValid returns a usable access token for the account, refreshing and
// persisting it when the stored one is at or near expiry.
func (g *Guard) EnsureValid(ctx context.Context, accountID string) (AccessToken, error) {
	cred, found, err := g.Creds.GetCredential(ctx, accountID)
	if err != nil {
		return AccessToken{}, err
	}
	if !found {
		return AccessToken{}, &FatalError{Code: domain.ErrInvalidAccount, Err: fmt.Errorf("account %s not linked", accountID)}
	}
	if cred.Disabled {
		return AccessToken{}, &FatalError{Code: domain.ErrInvalidAccount, Err: fmt.Errorf("account %s disabled", accountID)}
	}

	now := g.now()
	if cred.ExpiresAt.After(now.Add(g.ExpirySkew)) {
		return AccessToken{Token: cred.AccessToken, ExpiresAt: cred.ExpiresAt}, nil
	}

	refreshed, err := g.Refresher.Refresh(ctx, cred)
	if err != nil {
		observability.TokenRefreshes.WithLabelValues("error").Inc()
		if derr := g.Creds.DisableAccount(ctx, accountID, now); derr != nil {
			return AccessToken{}, derr
		}
		return AccessToken{}, &FatalError{Code: domain.ErrTokenRefreshFailed, Err: err}
	}
	observability.TokenRefreshes.WithLabelValues("ok").Inc()

	if err := g.Creds.SaveToken(ctx, accountID, refreshed.Token, refreshed.ExpiresAt, now); err != nil {
		return AccessToken{}, err
	}
	return refreshed, nil
}
