package token

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/linkedin"

	"postflow/internal/domain"
	"postflow/internal/store"
)

// OAuthRefresher exchanges refresh tokens against each platform family's
// token endpoint. Instagram business accounts authorize through the facebook
// app, youtube through google.
type OAuthRefresher struct {
	Configs map[domain.Platform]*oauth2.Config
	Timeout time.Duration
}

type ClientCredentials struct {
	ID     string
	Secret string
}

func NewOAuthRefresher(fb, li, goog ClientCredentials, timeout time.Duration) *OAuthRefresher {
	cfg := func(c ClientCredentials, ep oauth2.Endpoint) *oauth2.Config {
		return &oauth2.Config{ClientID: c.ID, ClientSecret: c.Secret, Endpoint: ep}
	}
	return &OAuthRefresher{
		Configs: map[domain.Platform]*oauth2.Config{
			domain.PlatformFacebookPage:      cfg(fb, facebook.Endpoint),
			domain.PlatformInstagramBusiness: cfg(fb, facebook.Endpoint),
			domain.PlatformLinkedIn:          cfg(li, linkedin.Endpoint),
			domain.PlatformYouTubeDraft:      cfg(goog, google.Endpoint),
		},
		Timeout: timeout,
	}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, cred store.Credential) (AccessToken, error) {
	cfg, ok := r.Configs[cred.Platform]
	if !ok {
		return AccessToken{}, fmt.Errorf("no oauth config for platform %s", cred.Platform)
	}
	if cred.RefreshToken == "" {
		return AccessToken{}, fmt.Errorf("account %s has no refresh token", cred.AccountID)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	// an expired Expiry forces TokenSource to hit the refresh endpoint
	src := cfg.TokenSource(ctx, &oauth2.Token{
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return AccessToken{}, fmt.Errorf("refresh %s token: %w", cred.Platform, err)
	}
	return AccessToken{Token: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}
