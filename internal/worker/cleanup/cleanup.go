// Package cleanup runs the periodic maintenance pass: expired CSRF tokens,
// expired sessions, audit entries past retention and stale rate-limit
// windows. Deletes are idempotent, so overlapping runs are harmless.
package cleanup

import (
	"context"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/metrics"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/repository"
	"go.uber.org/zap"
)

// StalePurger removes rate-limit windows that started before cutoff.
// *limiter.PG satisfies it.
type StalePurger interface {
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Worker runs the maintenance pass on a fixed interval.
type Worker struct {
	csrf     repository.CsrfRepository
	sessions repository.SessionRepository
	audit    repository.AuditRepository
	limits   StalePurger

	auditRetention time.Duration
	// rateWindowKeep is the longest configured rate-limit window. Rows older
	// than this have fully elapsed and can never gate a request again.
	rateWindowKeep time.Duration
	interval       time.Duration

	metrics *metrics.Collector
	log     *zap.Logger
	now     func() time.Time
}

// New constructs a Worker.
func New(csrf repository.CsrfRepository, sessions repository.SessionRepository,
	audit repository.AuditRepository, limits StalePurger,
	auditRetention, rateWindowKeep, interval time.Duration, m *metrics.Collector, log *zap.Logger) *Worker {
	return &Worker{
		csrf:           csrf,
		sessions:       sessions,
		audit:          audit,
		limits:         limits,
		auditRetention: auditRetention,
		rateWindowKeep: rateWindowKeep,
		interval:       interval,
		metrics:        m,
		log:            log,
		now:            time.Now,
	}
}

// WithClock replaces the time source. Test hook.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Run executes a pass every interval until ctx is canceled. A failing pass
// is logged and retried on the next tick.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Pass(ctx)
		}
	}
}

// Pass performs one maintenance sweep. Each purge failure is logged
// independently; one failing table does not stop the others.
func (w *Worker) Pass(ctx context.Context) {
	now := w.now()

	if n, err := w.csrf.DeleteExpired(ctx, now); err != nil {
		w.log.Error("purge csrf tokens", zap.Error(err))
	} else if n > 0 {
		w.log.Info("purged csrf tokens", zap.Int64("count", n))
	}

	if n, err := w.sessions.DeleteExpired(ctx, now); err != nil {
		w.log.Error("purge sessions", zap.Error(err))
	} else if n > 0 {
		w.log.Info("purged sessions", zap.Int64("count", n))
	}

	if live, err := w.sessions.CountLive(ctx, now); err != nil {
		w.log.Error("count sessions", zap.Error(err))
	} else {
		w.metrics.SetActiveSessions(live)
	}

	if n, err := w.audit.DeleteOlderThan(ctx, now.Add(-w.auditRetention)); err != nil {
		w.log.Error("purge audit entries", zap.Error(err))
	} else if n > 0 {
		w.log.Info("purged audit entries", zap.Int64("count", n))
	}

	if n, err := w.limits.PurgeStale(ctx, now.Add(-w.rateWindowKeep)); err != nil {
		w.log.Error("purge rate windows", zap.Error(err))
	} else if n > 0 {
		w.log.Info("purged rate windows", zap.Int64("count", n))
	}
}
