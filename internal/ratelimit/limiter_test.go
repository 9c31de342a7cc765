package ratelimit

import (
	"context"
	"testing"
	"time"

	"postflow/internal/domain"
	"postflow/internal/store/memory"
)

func TestTryAcquireCapacityBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := &Limiter{
		Store:    memory.New(),
		Window:   time.Minute,
		Capacity: map[string]int{"linkedin": 3},
		Now:      func() time.Time { return now },
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.TryAcquire(ctx, domain.PlatformLinkedIn)
		if err != nil || !ok {
			t.Fatalf("acquire %d: expected allowed, got ok=%v err=%v", i+1, ok, err)
		}
	}
	ok, err := l.TryAcquire(ctx, domain.PlatformLinkedIn)
	if err != nil {
		t.Fatalf("acquire over capacity: %v", err)
	}
	if ok {
		t.Fatalf("expected 4th acquire in window rejected")
	}
}

func TestWindowElapseResets(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := &Limiter{
		Store:    memory.New(),
		Window:   time.Minute,
		Capacity: map[string]int{"linkedin": 1},
		Now:      func() time.Time { return now },
	}

	ctx := context.Background()
	if ok, _ := l.TryAcquire(ctx, domain.PlatformLinkedIn); !ok {
		t.Fatalf("expected first acquire allowed")
	}
	if ok, _ := l.TryAcquire(ctx, domain.PlatformLinkedIn); ok {
		t.Fatalf("expected second acquire rejected")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := l.TryAcquire(ctx, domain.PlatformLinkedIn); !ok {
		t.Fatalf("expected acquire allowed after window elapsed")
	}
}

func TestPlatformsCountedIndependently(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := &Limiter{
		Store:    memory.New(),
		Window:   time.Minute,
		Capacity: map[string]int{"linkedin": 1, "facebook_page": 1},
		Now:      func() time.Time { return now },
	}

	ctx := context.Background()
	if ok, _ := l.TryAcquire(ctx, domain.PlatformLinkedIn); !ok {
		t.Fatalf("linkedin acquire failed")
	}
	if ok, _ := l.TryAcquire(ctx, domain.PlatformFacebookPage); !ok {
		t.Fatalf("facebook window must not share linkedin's counter")
	}
}

func TestDefaultCapacityUsedForUnknownPlatform(t *testing.T) {
	l := &Limiter{Store: memory.New(), Window: time.Minute, DefaultCapacity: 1}
	ctx := context.Background()
	if ok, _ := l.TryAcquire(ctx, domain.PlatformYouTubeDraft); !ok {
		t.Fatalf("expected default capacity to admit first acquire")
	}
	if ok, _ := l.TryAcquire(ctx, domain.PlatformYouTubeDraft); ok {
		t.Fatalf("expected default capacity of 1 to reject second acquire")
	}
}
