package service

import (
	"context"
	"time"

	"postflow/internal/domain"
	"postflow/internal/publisher"
	"postflow/internal/store"
)

// ScheduleService is the lifecycle surface consumed by the API: create,
// cancel, inspect. The pipeline itself never goes through here.
type ScheduleService struct {
	Store      store.ScheduleStore
	Heartbeats store.HeartbeatStore
	Now        func() time.Time
}

func (s *ScheduleService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Create validates the request against the platform's payload constraints up
// front, so unpublishable content is rejected at the door instead of burning
// a scheduled attempt.
func (s *ScheduleService) Create(ctx context.Context, req domain.CreateScheduleRequest, scheduleID string) (store.ScheduleRecord, error) {
	if err := req.Validate(); err != nil {
		return store.ScheduleRecord{}, err
	}
	if err := publisher.ValidatePayload(req.Platform, publisher.Payload{
		Text:        req.Text,
		Title:       req.Title,
		Description: req.Description,
		MediaURLs:   req.MediaURLs,
	}); err != nil {
		return store.ScheduleRecord{}, err
	}

	now := s.now()
	rec := store.ScheduleRecord{
		ID:              scheduleID,
		UserID:          req.UserID,
		ContentID:       req.ContentID,
		SocialAccountID: req.SocialAccountID,
		Platform:        req.Platform,
		Text:            req.Text,
		Title:           req.Title,
		Description:     req.Description,
		MediaURLs:       req.MediaURLs,
		ScheduledTime:   req.ScheduledTime,
		Status:          domain.StatusPending,
		Tries:           0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Store.Insert(ctx, rec); err != nil {
		return store.ScheduleRecord{}, err
	}
	return rec, nil
}

func (s *ScheduleService) Get(ctx context.Context, id string) (store.ScheduleRecord, bool, error) {
	return s.Store.Get(ctx, id)
}

// Cancel conditionally moves a pending/failed record to cancelled. Returns
// false when the record is processing or already terminal.
func (s *ScheduleService) Cancel(ctx context.Context, id string) (bool, error) {
	return s.Store.Cancel(ctx, id, s.now())
}

func (s *ScheduleService) LatestHeartbeat(ctx context.Context) (store.Heartbeat, bool, error) {
	return s.Heartbeats.LatestHeartbeat(ctx)
}
