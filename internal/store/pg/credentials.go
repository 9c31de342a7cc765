package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"postflow/internal/store"
)

func (s *Store) GetCredential(ctx context.Context, accountID string) (store.Credential, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT account_id, user_id, platform, access_token, COALESCE(refresh_token,''),
		       expires_at, disabled, COALESCE(external_ref,'')
		FROM social_accounts WHERE account_id=$1
	`, accountID)
	var c store.Credential
	err := row.Scan(&c.AccountID, &c.UserID, &c.Platform, &c.AccessToken, &c.RefreshToken,
		&c.ExpiresAt, &c.Disabled, &c.ExternalRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Credential{}, false, nil
		}
		return store.Credential{}, false, err
	}
	return c, true, nil
}

func (s *Store) SaveToken(ctx context.Context, accountID, accessToken string, expiresAt, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE social_accounts SET access_token=$2, expires_at=$3, updated_at=$4
		WHERE account_id=$1
	`, accountID, accessToken, expiresAt, now)
	return err
}

func (s *Store) DisableAccount(ctx context.Context, accountID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE social_accounts SET disabled=TRUE, updated_at=$2 WHERE account_id=$1
	`, accountID, now)
	return err
}
