// Package worker runs periodic background jobs.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stefando/imageHostAWS/internal/upload"
)

// Sweeper reconciles stale pending records. *upload.Service implements it.
type Sweeper interface {
	ReapStalePending(ctx context.Context, cutoff time.Time) (*upload.ReapReport, error)
}

// Reaper periodically sweeps pending records older than pendingTTL.
type Reaper struct {
	sweeper Sweeper
	logger  *slog.Logger

	interval   time.Duration
	pendingTTL time.Duration
	timeout    time.Duration
	now        func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
}

// NewReaper creates a reaper that runs every interval, each pass bounded by
// timeout.
func NewReaper(s Sweeper, l *slog.Logger, interval, pendingTTL, timeout time.Duration) *Reaper {
	return &Reaper{
		sweeper:    s,
		logger:     l,
		interval:   interval,
		pendingTTL: pendingTTL,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Start launches the ticker goroutine. It returns an error if already started.
func (r *Reaper) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("reaper already started")
	}

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = r.RunOnce(ctx)
			}
		}
	}()
	return nil
}

// RunOnce performs a single sweep and logs its report. A failed pass may
// still return the partial report.
func (r *Reaper) RunOnce(ctx context.Context) (*upload.ReapReport, error) {
	passCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cutoff := r.now().Add(-r.pendingTTL)
	report, err := r.sweeper.ReapStalePending(passCtx, cutoff)
	if err != nil {
		r.logger.Error("reaper pass failed", "cutoff", cutoff, "error", err)
		return report, err
	}

	r.logger.Info("reaper pass complete",
		"scanned", report.Scanned,
		"confirmed", report.Confirmed,
		"removed", report.Removed,
		"failed", report.Failed)
	return report, nil
}

// Shutdown stops the ticker and waits for a running pass, or until ctx is done.
func (r *Reaper) Shutdown(ctx context.Context) error {
	if !r.started.Load() {
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
