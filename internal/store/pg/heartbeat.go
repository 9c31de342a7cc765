package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"postflow/internal/store"
)

func (s *Store) InsertHeartbeat(ctx context.Context, hb store.Heartbeat) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO scan_heartbeats (instance, completed_at, claimed, dispatched)
		VALUES ($1,$2,$3,$4)
	`, hb.Instance, hb.CompletedAt, hb.Claimed, hb.Dispatched)
	return err
}

func (s *Store) LatestHeartbeat(ctx context.Context) (store.Heartbeat, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT instance, completed_at, claimed, dispatched
		FROM scan_heartbeats ORDER BY completed_at DESC LIMIT 1
	`)
	var hb store.Heartbeat
	err := row.Scan(&hb.Instance, &hb.CompletedAt, &hb.Claimed, &hb.Dispatched)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Heartbeat{}, false, nil
		}
		return store.Heartbeat{}, false, err
	}
	return hb, true, nil
}
