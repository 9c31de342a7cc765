package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"postflow/internal/domain"
	"postflow/internal/store"
	"postflow/internal/store/memory"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type countingDispatcher struct {
	mu    sync.Mutex
	seen  map[string]int
	fail  bool
	block chan struct{} // when set, Dispatch waits for it
}

func (d *countingDispatcher) Dispatch(ctx context.Context, rec store.ScheduleRecord) error {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	if d.seen == nil {
		d.seen = make(map[string]int)
	}
	d.seen[rec.ID]++
	d.mu.Unlock()
	if d.fail {
		return errors.New("publish failed")
	}
	return nil
}

func (d *countingDispatcher) count(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id]
}

func seed(t *testing.T, s *memory.Store, id string, when time.Time) {
	t.Helper()
	err := s.Insert(context.Background(), store.ScheduleRecord{
		ID: id, UserID: "u1", ContentID: "c1", SocialAccountID: "a1",
		Platform: domain.PlatformLinkedIn, Text: "hi",
		ScheduledTime: when, Status: domain.StatusPending,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func newScanner(s *memory.Store, d Dispatcher) *Scanner {
	return &Scanner{
		Store: s, Heartbeats: s, Dispatcher: d,
		Interval: time.Minute, StaleAfter: 2 * time.Minute,
		Batch: 20, MaxConcurrent: 4, Instance: "test-1",
		Now: func() time.Time { return t0 },
	}
}

func TestTickClaimsAndDispatchesDueRecords(t *testing.T) {
	s := memory.New()
	seed(t, s, "sch_due", t0.Add(-time.Minute))
	seed(t, s, "sch_future", t0.Add(time.Hour))
	d := &countingDispatcher{}

	claimed, dispatched, err := newScanner(s, d).Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if claimed != 1 || dispatched != 1 {
		t.Fatalf("expected 1 claimed and dispatched, got %d/%d", claimed, dispatched)
	}
	if d.count("sch_due") != 1 {
		t.Fatalf("expected due record dispatched once, got %d", d.count("sch_due"))
	}
	if d.count("sch_future") != 0 {
		t.Fatalf("future record must not be dispatched")
	}

	hb, found, _ := s.LatestHeartbeat(context.Background())
	if !found || hb.Instance != "test-1" || hb.Claimed != 1 {
		t.Fatalf("expected heartbeat for the cycle, got %+v found=%v", hb, found)
	}
}

func TestTickWritesHeartbeatOnEmptyCycle(t *testing.T) {
	s := memory.New()
	d := &countingDispatcher{}

	if _, _, err := newScanner(s, d).Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	hb, found, _ := s.LatestHeartbeat(context.Background())
	if !found || hb.Claimed != 0 || hb.Dispatched != 0 {
		t.Fatalf("expected empty-cycle heartbeat, got %+v found=%v", hb, found)
	}
}

func TestConcurrentScannersDispatchOnce(t *testing.T) {
	s := memory.New()
	for i := 0; i < 10; i++ {
		seed(t, s, "sch_"+string(rune('a'+i)), t0.Add(-time.Minute))
	}
	d := &countingDispatcher{}
	a := newScanner(s, d)
	b := newScanner(s, d)
	b.Instance = "test-2"

	var wg sync.WaitGroup
	totals := make(chan int, 2)
	for _, sc := range []*Scanner{a, b} {
		wg.Add(1)
		go func(sc *Scanner) {
			defer wg.Done()
			claimed, _, err := sc.Tick(context.Background())
			if err != nil {
				t.Errorf("tick: %v", err)
			}
			totals <- claimed
		}(sc)
	}
	wg.Wait()
	close(totals)

	sum := 0
	for n := range totals {
		sum += n
	}
	if sum != 10 {
		t.Fatalf("expected 10 claims across both instances, got %d", sum)
	}
	for i := 0; i < 10; i++ {
		id := "sch_" + string(rune('a'+i))
		if d.count(id) != 1 {
			t.Fatalf("record %s dispatched %d times, want exactly 1", id, d.count(id))
		}
	}
}

func TestDispatchFailureDoesNotAbortBatch(t *testing.T) {
	s := memory.New()
	seed(t, s, "sch_1", t0.Add(-time.Minute))
	seed(t, s, "sch_2", t0.Add(-time.Minute))
	d := &countingDispatcher{fail: true}

	claimed, dispatched, err := newScanner(s, d).Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if claimed != 2 {
		t.Fatalf("expected both claimed, got %d", claimed)
	}
	if dispatched != 0 {
		t.Fatalf("failed dispatches must not count, got %d", dispatched)
	}
}

func TestSweepReclaimsOnlyStaleClaims(t *testing.T) {
	s := memory.New()
	seed(t, s, "sch_stale", t0.Add(-time.Hour))
	seed(t, s, "sch_live", t0.Add(-time.Hour))

	if _, err := s.Claim(context.Background(), "sch_stale", domain.StatusPending, t0.Add(-3*time.Minute)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.Claim(context.Background(), "sch_live", domain.StatusPending, t0.Add(-time.Minute)); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := newScanner(s, &countingDispatcher{}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaim, got %d", n)
	}

	stale, _, _ := s.Get(context.Background(), "sch_stale")
	if stale.Status != domain.StatusPending {
		t.Fatalf("expected stale claim back to pending, got %s", stale.Status)
	}
	live, _, _ := s.Get(context.Background(), "sch_live")
	if live.Status != domain.StatusProcessing {
		t.Fatalf("live claim must survive the sweep, got %s", live.Status)
	}
}

func TestReclaimedRecordIsClaimableNextTick(t *testing.T) {
	s := memory.New()
	seed(t, s, "sch_1", t0.Add(-time.Hour))
	if _, err := s.Claim(context.Background(), "sch_1", domain.StatusPending, t0.Add(-5*time.Minute)); err != nil {
		t.Fatalf("claim: %v", err)
	}

	d := &countingDispatcher{}
	sc := newScanner(s, d)
	if _, err := sc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	claimed, _, err := sc.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if claimed != 1 || d.count("sch_1") != 1 {
		t.Fatalf("expected reclaimed record re-dispatched, claimed=%d dispatched=%d", claimed, d.count("sch_1"))
	}

	rec, _, _ := s.Get(context.Background(), "sch_1")
	if rec.Tries != 2 {
		t.Fatalf("reclaim keeps the original try, re-claim adds one: want tries=2, got %d", rec.Tries)
	}
}
