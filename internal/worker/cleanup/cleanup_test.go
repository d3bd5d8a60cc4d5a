package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/metrics"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type purgeRecorder struct {
	csrfCutoff    time.Time
	sessionCutoff time.Time
	auditCutoff   time.Time
	rateCutoff    time.Time

	live int64

	csrfErr error
}

func (p *purgeRecorder) Insert(context.Context, string, time.Time) error { return nil }

func (p *purgeRecorder) Consume(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (p *purgeRecorder) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	if p.csrfErr != nil {
		return 0, p.csrfErr
	}
	p.csrfCutoff = now
	return 3, nil
}

type sessionPurger struct{ rec *purgeRecorder }

func (s sessionPurger) Create(context.Context, *model.Session) error { return nil }

func (s sessionPurger) Touch(context.Context, string, time.Time) (int64, bool, error) {
	return 0, false, nil
}

func (s sessionPurger) Get(context.Context, string) (*model.Session, error) { return nil, nil }

func (s sessionPurger) Delete(context.Context, string) error { return nil }

func (s sessionPurger) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.rec.sessionCutoff = now
	return 2, nil
}

func (s sessionPurger) CountLive(context.Context, time.Time) (int64, error) {
	return s.rec.live, nil
}

type auditPurger struct{ rec *purgeRecorder }

func (a auditPurger) Insert(context.Context, *model.AuditEntry) error { return nil }

func (a auditPurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	a.rec.auditCutoff = cutoff
	return 5, nil
}

type ratePurger struct{ rec *purgeRecorder }

func (r ratePurger) PurgeStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.rec.rateCutoff = cutoff
	return 1, nil
}

func TestPassUsesRetentionCutoffs(t *testing.T) {
	t.Parallel()
	rec := &purgeRecorder{live: 4}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	w := New(rec, sessionPurger{rec}, auditPurger{rec}, ratePurger{rec},
		90*24*time.Hour, time.Hour, time.Hour,
		metrics.NewCollector(prometheus.NewRegistry()), zap.NewNop()).
		WithClock(func() time.Time { return now })

	w.Pass(context.Background())

	if !rec.csrfCutoff.Equal(now) || !rec.sessionCutoff.Equal(now) {
		t.Fatalf("expiry cutoffs: csrf=%v sessions=%v", rec.csrfCutoff, rec.sessionCutoff)
	}
	if want := now.Add(-90 * 24 * time.Hour); !rec.auditCutoff.Equal(want) {
		t.Fatalf("audit cutoff = %v, want %v", rec.auditCutoff, want)
	}
	if want := now.Add(-time.Hour); !rec.rateCutoff.Equal(want) {
		t.Fatalf("rate cutoff = %v, want %v", rec.rateCutoff, want)
	}
}

func TestPassKeepsLongestRateWindow(t *testing.T) {
	t.Parallel()
	rec := &purgeRecorder{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// a 6h window must survive a pass that runs mid-window
	w := New(rec, sessionPurger{rec}, auditPurger{rec}, ratePurger{rec},
		90*24*time.Hour, 6*time.Hour, time.Hour,
		metrics.NewCollector(prometheus.NewRegistry()), zap.NewNop()).
		WithClock(func() time.Time { return now })

	w.Pass(context.Background())

	if want := now.Add(-6 * time.Hour); !rec.rateCutoff.Equal(want) {
		t.Fatalf("rate cutoff = %v, want %v", rec.rateCutoff, want)
	}
}

func TestPassContinuesAfterFailure(t *testing.T) {
	t.Parallel()
	rec := &purgeRecorder{csrfErr: errors.New("db down")}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	w := New(rec, sessionPurger{rec}, auditPurger{rec}, ratePurger{rec},
		24*time.Hour, time.Hour, time.Hour,
		metrics.NewCollector(prometheus.NewRegistry()), zap.NewNop()).
		WithClock(func() time.Time { return now })

	w.Pass(context.Background())

	// the failing csrf purge must not stop the remaining purges
	if rec.sessionCutoff.IsZero() || rec.auditCutoff.IsZero() || rec.rateCutoff.IsZero() {
		t.Fatalf("later purges skipped: %+v", rec)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	rec := &purgeRecorder{}
	w := New(rec, sessionPurger{rec}, auditPurger{rec}, ratePurger{rec},
		24*time.Hour, time.Hour, time.Millisecond,
		metrics.NewCollector(prometheus.NewRegistry()), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop on cancel")
	}
	if rec.csrfCutoff.IsZero() {
		t.Fatalf("no pass executed while running")
	}
}
