package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/service"
)

const lockKey = "cabangpos:reconcile"

// Reconciler periodically re-copies credential-store user records into the
// branch mirror. With Redis available a distributed lock keeps concurrent
// server instances from sweeping at the same time; without it every instance
// sweeps, which is wasteful but safe because reconciliation is one-way and
// idempotent.
type Reconciler struct {
	svc      *service.Service
	interval time.Duration
	locker   *redislock.Client
	log      *logrus.Logger
}

func New(svc *service.Service, interval time.Duration, locker *redislock.Client, logger *logrus.Logger) *Reconciler {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Reconciler{svc: svc, interval: interval, locker: locker, log: logger}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	if r.locker != nil {
		lock, err := r.locker.Obtain(ctx, lockKey, r.interval, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			r.log.WithField("module", "reconcile").Debug("sweep held by another instance, skipping")
			return
		}
		if err != nil {
			r.log.WithField("module", "reconcile").Warnf("reconcile lock failed, sweeping anyway: %v", err)
		} else {
			defer func() {
				if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
					r.log.WithField("module", "reconcile").Warnf("reconcile lock release failed: %v", err)
				}
			}()
		}
	}

	summary, err := r.svc.ReconcileUsers(ctx, "")
	if err != nil {
		r.log.WithField("module", "reconcile").Errorf("reconcile sweep failed: %v", err)
		return
	}
	r.logSummary(summary)
}

func (r *Reconciler) logSummary(summary domain.ReconcileSummary) {
	fields := logrus.Fields{
		"module":   "reconcile",
		"checked":  summary.Checked,
		"repaired": summary.Repaired,
		"orphans":  len(summary.Orphans),
	}
	if summary.Repaired > 0 || len(summary.Orphans) > 0 {
		r.log.WithFields(fields).Info("reconcile sweep repaired drift")
		return
	}
	r.log.WithFields(fields).Debug("reconcile sweep clean")
}
