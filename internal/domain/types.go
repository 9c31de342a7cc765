package domain

import (
	"errors"
	"fmt"
	"time"
)

type Platform string

const (
	PlatformFacebookPage      Platform = "facebook_page"
	PlatformInstagramBusiness Platform = "instagram_business"
	PlatformLinkedIn          Platform = "linkedin"
	PlatformYouTubeDraft      Platform = "youtube_draft"
)

var Platforms = []Platform{
	PlatformFacebookPage,
	PlatformInstagramBusiness,
	PlatformLinkedIn,
	PlatformYouTubeDraft,
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformFacebookPage, PlatformInstagramBusiness, PlatformLinkedIn, PlatformYouTubeDraft:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var ErrIllegalTransition = errors.New("illegal status transition")

// transitions is the closed state machine for a schedule record.
// processing -> pending covers stale-claim reclaim only.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusSuccess, StatusFailed, StatusPending},
	StatusFailed:     {StatusProcessing, StatusCancelled},
	StatusSuccess:    {},
	StatusCancelled:  {},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func Transition(cur, next Status) error {
	if !cur.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur, next)
	}
	return nil
}

// Claimable reports whether a record in this status may be claimed for a
// publish attempt (pending for the first try, failed for retries).
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusFailed
}

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusCancelled
}

type CreateScheduleRequest struct {
	UserID          string    `json:"userId"`
	ContentID       string    `json:"contentId"`
	SocialAccountID string    `json:"socialAccountId"`
	Platform        Platform  `json:"platform"`
	Text            string    `json:"text"`
	Title           string    `json:"title,omitempty"`
	Description     string    `json:"description,omitempty"`
	MediaURLs       []string  `json:"mediaUrls,omitempty"`
	ScheduledTime   time.Time `json:"scheduledTime"`
}

var (
	ErrMissingFields   = errors.New("missing required fields")
	ErrUnknownPlatform = errors.New("unknown platform")
)

func (r CreateScheduleRequest) Validate() error {
	if r.UserID == "" || r.ContentID == "" || r.SocialAccountID == "" {
		return ErrMissingFields
	}
	if !r.Platform.Valid() {
		return fmt.Errorf("%w %q", ErrUnknownPlatform, r.Platform)
	}
	if r.ScheduledTime.IsZero() {
		return ErrMissingFields
	}
	return nil
}

type CreateScheduleResponse struct {
	ScheduleID string `json:"scheduleId"`
	Status     string `json:"status"`
}
