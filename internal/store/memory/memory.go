// Package memory is an in-process implementation of the storage ports, used
// for deterministic tests. Claim semantics match the postgres store: a single
// compare-and-set under one lock.
package memory

import (
	"context"
	"sync"
	"time"

	"postflow/internal/domain"
	"postflow/internal/store"
)

type Store struct {
	mu         sync.Mutex
	schedules  map[string]*store.ScheduleRecord
	creds      map[string]*store.Credential
	windows    map[string]*window
	attempts   []store.AttemptLog
	heartbeats []store.Heartbeat
}

type window struct {
	start time.Time
	count int
}

func New() *Store {
	return &Store{
		schedules: make(map[string]*store.ScheduleRecord),
		creds:     make(map[string]*store.Credential),
		windows:   make(map[string]*window),
	}
}

func (s *Store) Insert(ctx context.Context, rec store.ScheduleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	s.schedules[rec.ID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (store.ScheduleRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.schedules[id]
	if !ok {
		return store.ScheduleRecord{}, false, nil
	}
	return *rec, true, nil
}

func (s *Store) FindDue(ctx context.Context, now time.Time, limit int) ([]store.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ScheduleRecord
	for _, rec := range s.schedules {
		if rec.ScheduledTime.After(now) {
			continue
		}
		due := rec.Status == domain.StatusPending ||
			(rec.Status == domain.StatusFailed && rec.NextRetryAt != nil && !rec.NextRetryAt.After(now))
		if due {
			out = append(out, *rec)
		}
	}
	// ascending scheduled_time, stable enough for tests
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ScheduledTime.Before(out[i].ScheduledTime) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Claim(ctx context.Context, id string, expected domain.Status, now time.Time) (*store.ScheduleRecord, error) {
	if err := domain.Transition(expected, domain.StatusProcessing); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.schedules[id]
	if !ok || rec.Status != expected {
		return nil, nil
	}
	if expected == domain.StatusFailed && (rec.NextRetryAt == nil || rec.NextRetryAt.After(now)) {
		return nil, nil
	}
	rec.Status = domain.StatusProcessing
	t := now
	rec.ProcessingStart = &t
	rec.Tries++
	rec.UpdatedAt = now
	cp := *rec
	return &cp, nil
}

func (s *Store) MarkSuccess(ctx context.Context, id, publishedURL string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.schedules[id]
	if !ok || rec.Status != domain.StatusProcessing {
		return nil
	}
	rec.Status = domain.StatusSuccess
	rec.PublishedURL = publishedURL
	rec.NextRetryAt = nil
	rec.LastError = ""
	rec.ProcessingStart = nil
	rec.UpdatedAt = now
	return nil
}

func (s *Store) MarkRetry(ctx context.Context, id, lastError string, nextRetryAt time.Time, refundTry bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.schedules[id]
	if !ok || rec.Status != domain.StatusProcessing {
		return nil
	}
	rec.Status = domain.StatusFailed
	at := nextRetryAt
	rec.NextRetryAt = &at
	rec.LastError = lastError
	if refundTry {
		rec.Tries--
	}
	rec.ProcessingStart = nil
	rec.UpdatedAt = now
	return nil
}

func (s *Store) MarkFallback(ctx context.Context, id, lastError string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.schedules[id]
	if !ok || rec.FallbackSent {
		return false, nil
	}
	rec.Status = domain.StatusFailed
	rec.NextRetryAt = nil
	rec.LastError = lastError
	rec.FallbackSent = true
	t := now
	rec.FallbackSentAt = &t
	rec.ProcessingStart = nil
	rec.UpdatedAt = now
	return true, nil
}

func (s *Store) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.schedules[id]
	if !ok || !rec.Status.Claimable() {
		return false, nil
	}
	rec.Status = domain.StatusCancelled
	rec.NextRetryAt = nil
	rec.UpdatedAt = now
	return true, nil
}

func (s *Store) ReclaimStale(ctx context.Context, olderThan, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.schedules {
		if rec.Status == domain.StatusProcessing && rec.ProcessingStart != nil && rec.ProcessingStart.Before(olderThan) {
			rec.Status = domain.StatusPending
			rec.ProcessingStart = nil
			rec.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertAttempt(ctx context.Context, in store.AttemptLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, in)
	return nil
}

func (s *Store) Attempts() []store.AttemptLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AttemptLog, len(s.attempts))
	copy(out, s.attempts)
	return out
}

func (s *Store) GetCredential(ctx context.Context, accountID string) (store.Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[accountID]
	if !ok {
		return store.Credential{}, false, nil
	}
	return *c, true, nil
}

func (s *Store) PutCredential(c store.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.creds[c.AccountID] = &cp
}

func (s *Store) SaveToken(ctx context.Context, accountID, accessToken string, expiresAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.creds[accountID]; ok {
		c.AccessToken = accessToken
		c.ExpiresAt = expiresAt
	}
	return nil
}

func (s *Store) DisableAccount(ctx context.Context, accountID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.creds[accountID]; ok {
		c.Disabled = true
	}
	return nil
}

func (s *Store) Acquire(ctx context.Context, platform string, windowSize time.Duration, capacity int, now time.Time) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[platform]
	if !ok || !now.Before(w.start.Add(windowSize)) {
		w = &window{start: now}
		s.windows[platform] = w
	}
	if w.count >= capacity {
		return false, w.count, nil
	}
	w.count++
	return true, w.count, nil
}

func (s *Store) InsertHeartbeat(ctx context.Context, hb store.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats = append(s.heartbeats, hb)
	return nil
}

func (s *Store) LatestHeartbeat(ctx context.Context) (store.Heartbeat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heartbeats) == 0 {
		return store.Heartbeat{}, false, nil
	}
	return s.heartbeats[len(s.heartbeats)-1], true, nil
}

func (s *Store) Heartbeats() []store.Heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Heartbeat, len(s.heartbeats))
	copy(out, s.heartbeats)
	return out
}
