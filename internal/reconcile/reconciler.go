// Package reconcile runs the periodic maintenance pass over sessions and the
// overlay store.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tremedam/Agendamento-Pro/internal/session"
)

// DefaultInterval is the pause between two passes.
const DefaultInterval = 30 * time.Minute

// Sessions is the part of the session registry the reconciler drives.
type Sessions interface {
	ExpireInactive(maxAge time.Duration) session.Sweep
}

// Overlay is the part of the overlay store the reconciler drives.
type Overlay interface {
	EvictExpired(ctx context.Context) int
	Resync(ctx context.Context) error
}

// Result reports what a pass changed.
type Result struct {
	SessionsRemoved    int  `json:"sessionsRemoved"`
	SessionsNearExpiry int  `json:"sessionsNearExpiry"`
	RecordsEvicted     int  `json:"recordsEvicted"`
	Resynced           bool `json:"resynced"`
}

// Reconciler is the only component that mutates the overlay store unattended.
type Reconciler struct {
	sessions Sessions
	overlay  Overlay
	interval time.Duration
	logger   *slog.Logger
}

// New constructs a Reconciler. A non-positive interval selects
// DefaultInterval.
func New(sessions Sessions, overlay Overlay, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		sessions: sessions,
		overlay:  overlay,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Interval returns the pause between passes.
func (r *Reconciler) Interval() time.Duration { return r.interval }

// RunOnce expires inactive sessions, evicts expired overlay records and then
// re-synchronizes the store with its mirror. Eviction persists on its own; the
// resync either retries a failed flush or reloads the mirror.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	if r.sessions != nil {
		sweep := r.sessions.ExpireInactive(0)
		res.SessionsRemoved = sweep.Removed
		res.SessionsNearExpiry = sweep.NearExpiry
	}
	if r.overlay != nil {
		res.RecordsEvicted = r.overlay.EvictExpired(ctx)
		if err := r.overlay.Resync(ctx); err != nil {
			return res, fmt.Errorf("reconcile: resync: %w", err)
		}
		res.Resynced = true
	}
	r.logger.Info("reconcile pass",
		slog.Int("sessions_removed", res.SessionsRemoved),
		slog.Int("sessions_near_expiry", res.SessionsNearExpiry),
		slog.Int("records_evicted", res.RecordsEvicted))
	return res, nil
}

// Run executes a pass every interval until ctx is cancelled. Pass errors are
// logged and do not stop the loop.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Warn("reconcile pass failed", slog.Any("error", err))
			}
		}
	}
}
