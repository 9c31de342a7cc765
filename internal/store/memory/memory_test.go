package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"postflow/internal/domain"
	"postflow/internal/store"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func pendingRecord(id string) store.ScheduleRecord {
	return store.ScheduleRecord{
		ID: id, UserID: "u1", ContentID: "c1", SocialAccountID: "a1",
		Platform: domain.PlatformLinkedIn, Text: "hi",
		ScheduledTime: t0.Add(-time.Minute), Status: domain.StatusPending,
	}
}

func TestClaimWonExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Insert(ctx, pendingRecord("sch_1"))

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan *store.ScheduleRecord, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.Claim(ctx, "sch_1", domain.StatusPending, t0)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if rec != nil {
				wins <- rec
			}
		}()
	}
	wg.Wait()
	close(wins)

	var won []*store.ScheduleRecord
	for rec := range wins {
		won = append(won, rec)
	}
	if len(won) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(won))
	}
	if won[0].Tries != 1 {
		t.Fatalf("expected tries=1 after single claim, got %d", won[0].Tries)
	}
}

func TestClaimIncrementsTriesMonotonically(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Insert(ctx, pendingRecord("sch_1"))

	rec, _ := s.Claim(ctx, "sch_1", domain.StatusPending, t0)
	if rec.Tries != 1 {
		t.Fatalf("first claim: expected tries=1, got %d", rec.Tries)
	}

	retryAt := t0.Add(time.Minute)
	_ = s.MarkRetry(ctx, "sch_1", "boom", retryAt, false, t0)

	// retry not yet due
	if rec, _ := s.Claim(ctx, "sch_1", domain.StatusFailed, t0.Add(30*time.Second)); rec != nil {
		t.Fatalf("expected claim rejected before next_retry_at")
	}

	rec, _ = s.Claim(ctx, "sch_1", domain.StatusFailed, retryAt)
	if rec == nil || rec.Tries != 2 {
		t.Fatalf("second claim: expected tries=2, got %+v", rec)
	}
}

func TestMarkRetryRefundsTry(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Insert(ctx, pendingRecord("sch_1"))

	_, _ = s.Claim(ctx, "sch_1", domain.StatusPending, t0)
	_ = s.MarkRetry(ctx, "sch_1", "rate limited", t0.Add(30*time.Second), true, t0)

	rec, _, _ := s.Get(ctx, "sch_1")
	if rec.Tries != 0 {
		t.Fatalf("expected try refunded, got tries=%d", rec.Tries)
	}
}

func TestMarkFallbackExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Insert(ctx, pendingRecord("sch_1"))
	_, _ = s.Claim(ctx, "sch_1", domain.StatusPending, t0)

	won, err := s.MarkFallback(ctx, "sch_1", "fatal", t0)
	if err != nil || !won {
		t.Fatalf("first fallback: expected won, got won=%v err=%v", won, err)
	}
	won, err = s.MarkFallback(ctx, "sch_1", "fatal again", t0)
	if err != nil || won {
		t.Fatalf("second fallback: expected lost, got won=%v err=%v", won, err)
	}

	rec, _, _ := s.Get(ctx, "sch_1")
	if !rec.FallbackSent || rec.FallbackSentAt == nil {
		t.Fatalf("expected fallback flag and timestamp set")
	}
}

func TestReclaimStaleBoundary(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Insert(ctx, pendingRecord("sch_old"))
	_ = s.Insert(ctx, pendingRecord("sch_new"))

	_, _ = s.Claim(ctx, "sch_old", domain.StatusPending, t0.Add(-3*time.Minute))
	_, _ = s.Claim(ctx, "sch_new", domain.StatusPending, t0.Add(-time.Minute))

	// 120s staleness threshold
	n, err := s.ReclaimStale(ctx, t0.Add(-2*time.Minute), t0)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one stale claim reclaimed, got %d", n)
	}

	old, _, _ := s.Get(ctx, "sch_old")
	if old.Status != domain.StatusPending || old.ProcessingStart != nil {
		t.Fatalf("stale record must return to pending, got %s", old.Status)
	}
	if old.Tries != 1 {
		t.Fatalf("reclaim must not touch tries, got %d", old.Tries)
	}

	fresh, _, _ := s.Get(ctx, "sch_new")
	if fresh.Status != domain.StatusProcessing {
		t.Fatalf("recent claim must be left alone, got %s", fresh.Status)
	}
}

func TestCancelOnlyClaimableStatuses(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Insert(ctx, pendingRecord("sch_1"))

	ok, _ := s.Cancel(ctx, "sch_1", t0)
	if !ok {
		t.Fatalf("expected pending record cancellable")
	}
	// cancelled is terminal
	if ok, _ := s.Cancel(ctx, "sch_1", t0); ok {
		t.Fatalf("expected cancelled record not cancellable again")
	}

	_ = s.Insert(ctx, pendingRecord("sch_2"))
	_, _ = s.Claim(ctx, "sch_2", domain.StatusPending, t0)
	if ok, _ := s.Cancel(ctx, "sch_2", t0); ok {
		t.Fatalf("expected processing record not cancellable")
	}
}

func TestFindDueFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := New()

	early := pendingRecord("sch_early")
	early.ScheduledTime = t0.Add(-2 * time.Hour)
	late := pendingRecord("sch_late")
	late.ScheduledTime = t0.Add(-time.Hour)
	future := pendingRecord("sch_future")
	future.ScheduledTime = t0.Add(time.Hour)
	_ = s.Insert(ctx, early)
	_ = s.Insert(ctx, late)
	_ = s.Insert(ctx, future)

	due, err := s.FindDue(ctx, t0, 10)
	if err != nil {
		t.Fatalf("find due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due records, got %d", len(due))
	}
	if due[0].ID != "sch_early" || due[1].ID != "sch_late" {
		t.Fatalf("expected scheduled_time ordering, got %s then %s", due[0].ID, due[1].ID)
	}
}
