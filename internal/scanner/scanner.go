// Package scanner is the orchestrating loop: on a fixed interval it queries
// due schedule records, claims each one, and hands claimed records to the
// dispatcher. Multiple scanner instances may run in parallel; the claim's
// compare-and-set is the only coordination between them.
package scanner

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"postflow/internal/observability"
	"postflow/internal/store"
)

// Dispatcher receives records this instance has exclusively claimed. The
// in-process implementation publishes directly; the queue implementation
// enqueues the claimed id for a consumer, preserving claim-before-dispatch
// ordering either way.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec store.ScheduleRecord) error
}

type Scanner struct {
	Store      store.ScheduleStore
	Heartbeats store.HeartbeatStore
	Dispatcher Dispatcher

	Interval      time.Duration
	SweepInterval time.Duration
	StaleAfter    time.Duration
	Batch         int
	MaxConcurrent int
	Instance      string
	Now           func() time.Time
}

func (s *Scanner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Run ticks until the context is cancelled. The stale-claim sweep runs on its
// own ticker so a slow scan cycle cannot starve reclaims.
func (s *Scanner) Run(ctx context.Context) error {
	scanTicker := time.NewTicker(s.Interval)
	defer scanTicker.Stop()

	sweepInterval := s.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = s.Interval
	}
	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-scanTicker.C:
			if _, _, err := s.Tick(ctx); err != nil {
				slog.Error("scan cycle failed", "err", err)
			}
		case <-sweepTicker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("stale sweep failed", "err", err)
			}
		}
	}
}

// Tick runs one scan cycle: find due records, claim, dispatch. A single
// record's failure never aborts the batch. The heartbeat row is written after
// every completed cycle, including empty ones, so liveness probing sees idle
// instances as healthy.
func (s *Scanner) Tick(ctx context.Context) (claimed, dispatched int, err error) {
	now := s.now()
	due, err := s.Store.FindDue(ctx, now, s.Batch)
	if err != nil {
		return 0, 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.MaxConcurrent > 0 {
		g.SetLimit(s.MaxConcurrent)
	}

	var ok atomic.Int64
	for _, rec := range due {
		claimedRec, err := s.Store.Claim(ctx, rec.ID, rec.Status, now)
		if err != nil {
			slog.Error("claim failed", "schedule_id", rec.ID, "err", err)
			continue
		}
		if claimedRec == nil {
			// another instance won, or a cancellation raced ahead
			observability.Claims.WithLabelValues("lost").Inc()
			continue
		}
		observability.Claims.WithLabelValues("won").Inc()
		claimed++

		rec := *claimedRec
		g.Go(func() error {
			if err := s.Dispatcher.Dispatch(gctx, rec); err != nil {
				slog.Info("dispatch resolved with failure", "schedule_id", rec.ID, "err", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	dispatched = int(ok.Load())

	observability.ScanCycles.Inc()
	hb := store.Heartbeat{Instance: s.Instance, CompletedAt: s.now(), Claimed: claimed, Dispatched: dispatched}
	if err := s.Heartbeats.InsertHeartbeat(ctx, hb); err != nil {
		slog.Error("heartbeat write failed", "err", err)
	}
	return claimed, dispatched, nil
}

// Sweep resets stuck processing claims older than the staleness threshold,
// bounding the damage of a dispatcher that crashed mid-publish.
func (s *Scanner) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	n, err := s.Store.ReclaimStale(ctx, now.Add(-s.StaleAfter), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.Reclaims.Add(float64(n))
		slog.Info("reclaimed stale claims", "count", n)
	}
	return n, nil
}
