package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"postflow/internal/domain"
	"postflow/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const scheduleColumns = `
	id, user_id, content_id, social_account_id, platform,
	text, COALESCE(title,''), COALESCE(description,''), media_urls,
	scheduled_time, status, tries, COALESCE(last_error,''), COALESCE(published_url,''),
	next_retry_at, processing_started_at, fallback_sent, fallback_sent_at,
	created_at, updated_at`

func scanSchedule(row pgx.Row) (store.ScheduleRecord, error) {
	var rec store.ScheduleRecord
	var mediaJSON []byte
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.ContentID, &rec.SocialAccountID, &rec.Platform,
		&rec.Text, &rec.Title, &rec.Description, &mediaJSON,
		&rec.ScheduledTime, &rec.Status, &rec.Tries, &rec.LastError, &rec.PublishedURL,
		&rec.NextRetryAt, &rec.ProcessingStart, &rec.FallbackSent, &rec.FallbackSentAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return store.ScheduleRecord{}, err
	}
	_ = json.Unmarshal(mediaJSON, &rec.MediaURLs)
	return rec, nil
}

func (s *Store) Insert(ctx context.Context, rec store.ScheduleRecord) error {
	media, _ := json.Marshal(rec.MediaURLs)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO schedules
			(id, user_id, content_id, social_account_id, platform, text, title, description,
			 media_urls, scheduled_time, status, tries, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
	`, rec.ID, rec.UserID, rec.ContentID, rec.SocialAccountID, rec.Platform,
		rec.Text, nullIfEmpty(rec.Title), nullIfEmpty(rec.Description),
		media, rec.ScheduledTime, rec.Status, rec.Tries, rec.CreatedAt)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (store.ScheduleRecord, bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id=$1`, id)
	rec, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ScheduleRecord{}, false, nil
		}
		return store.ScheduleRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) FindDue(ctx context.Context, now time.Time, limit int) ([]store.ScheduleRecord, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE scheduled_time <= $1
		  AND (status = 'pending'
		       OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1))
		ORDER BY scheduled_time ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ScheduleRecord
	for rows.Next() {
		rec, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Claim is the single compare-and-set that de-duplicates dispatch across
// concurrent scanner instances. Zero rows affected means somebody else won.
func (s *Store) Claim(ctx context.Context, id string, expected domain.Status, now time.Time) (*store.ScheduleRecord, error) {
	if err := domain.Transition(expected, domain.StatusProcessing); err != nil {
		return nil, err
	}
	row := s.DB.QueryRow(ctx, `
		UPDATE schedules
		SET status='processing', processing_started_at=$3, tries=tries+1, updated_at=$3
		WHERE id=$1 AND status=$2
		  AND ($2 <> 'failed' OR (next_retry_at IS NOT NULL AND next_retry_at <= $3))
		RETURNING `+scheduleColumns,
		id, expected, now)
	rec, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) MarkSuccess(ctx context.Context, id, publishedURL string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE schedules
		SET status='success', published_url=$2, next_retry_at=NULL, last_error=NULL,
		    processing_started_at=NULL, updated_at=$3
		WHERE id=$1 AND status='processing'
	`, id, publishedURL, now)
	return err
}

func (s *Store) MarkRetry(ctx context.Context, id, lastError string, nextRetryAt time.Time, refundTry bool, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE schedules
		SET status='failed', next_retry_at=$2, last_error=$3,
		    tries = tries - CASE WHEN $4 THEN 1 ELSE 0 END,
		    processing_started_at=NULL, updated_at=$5
		WHERE id=$1 AND status='processing'
	`, id, nextRetryAt, nullIfEmpty(lastError), refundTry, now)
	return err
}

func (s *Store) MarkFallback(ctx context.Context, id, lastError string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE schedules
		SET status='failed', next_retry_at=NULL, last_error=$2,
		    fallback_sent=TRUE, fallback_sent_at=$3,
		    processing_started_at=NULL, updated_at=$3
		WHERE id=$1 AND fallback_sent=FALSE
	`, id, nullIfEmpty(lastError), now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE schedules
		SET status='cancelled', next_retry_at=NULL, updated_at=$2
		WHERE id=$1 AND status IN ('pending','failed')
	`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ReclaimStale(ctx context.Context, olderThan, now time.Time) (int, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE schedules
		SET status='pending', processing_started_at=NULL, updated_at=$2
		WHERE status='processing' AND processing_started_at < $1
	`, olderThan, now)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (s *Store) InsertAttempt(ctx context.Context, in store.AttemptLog) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO publish_attempts (schedule_id, platform, http_status, error_code, error_msg, response_body, attempted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, in.ScheduleID, in.Platform, in.HTTPStatus, nullIfEmpty(in.ErrorCode), nullIfEmpty(in.ErrorMsg), nullIfEmpty(in.Response), in.At)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
