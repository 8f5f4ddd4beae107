package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs one minute before midnight.
const DefaultSweepSchedule = "59 23 * * *"

// SweepFailure is a session the sweeper could not close.
type SweepFailure struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Closed []string       `json:"closed"`
	Failed []SweepFailure `json:"failed"`
}

// SweepStaleSessions force-closes every open session. A failure on one session is
// recorded and the sweep continues; the returned error is only for the listing itself.
func (s *Service) SweepStaleSessions(ctx context.Context) (SweepReport, error) {
	open, err := s.store.ListOpenSessions(ctx, "")
	if err != nil {
		return SweepReport{}, fmt.Errorf("list open sessions: %w", err)
	}

	var report SweepReport
	for _, sess := range open {
		if _, err := s.closeSession(ctx, sess.ID, closeReasonSweep); err != nil {
			s.log.Error("sweep: failed to close session", "session", sess.ID, "error", err)
			report.Failed = append(report.Failed, SweepFailure{SessionID: sess.ID, Error: err.Error()})
			continue
		}
		report.Closed = append(report.Closed, sess.ID)
	}

	s.metrics.SweepRun(len(report.Failed))
	s.log.Info("sweep finished", "closed", len(report.Closed), "failed", len(report.Failed))
	return report, nil
}

// Sweeper runs SweepStaleSessions on a cron schedule.
type Sweeper struct {
	svc     *Service
	cron    *cron.Cron
	log     *slog.Logger
	timeout time.Duration
}

// NewSweeper validates schedule (standard 5-field cron) and prepares the job in loc.
func NewSweeper(svc *Service, schedule string, loc *time.Location, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Sweeper{
		svc:     svc,
		cron:    cron.New(cron.WithLocation(loc)),
		log:     logger,
		timeout: 5 * time.Minute,
	}
	if _, err := w.cron.AddFunc(schedule, w.run); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}
	return w, nil
}

func (w *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	w.log.Info("sweep: auto-closing stale sessions")
	if _, err := w.svc.SweepStaleSessions(ctx); err != nil {
		w.log.Error("sweep aborted", "error", err)
	}
}

// Start begins scheduling in the background.
func (w *Sweeper) Start() { w.cron.Start() }

// Stop stops scheduling and waits for a running sweep to finish or ctx to expire.
func (w *Sweeper) Stop(ctx context.Context) {
	done := w.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
