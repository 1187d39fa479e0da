/*
scheduler.go - Automated directory ingestion scheduler

PURPOSE:
  Periodically ingests every pending export dropped into the input
  directory (invoices, footfall, efficiency) and archives what reconciled.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Files already reconciled are skipped by the runner
  - A pass that finds the ingestion lock taken stops and is retried on the
    next tick. How long it waits for the lock is bounded by the runner's
    locker (etl.WithMaxWait); an unbounded locker waits until Stop

CONFIGURATION:
  - Interval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewIngestionScheduler(runner, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunIngestion endpoint (manual trigger)
  - etl/runner.go: Runner.RunDirectory
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/retail-dsr/etl"
	"github.com/warp/retail-dsr/sales"
)

// IngestionScheduler runs the directory ingestion on an interval.
type IngestionScheduler struct {
	Runner   *etl.Runner
	Interval time.Duration
	Enabled  bool
	Logger   *logrus.Logger

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	statusMu sync.Mutex
	lastRun  time.Time
}

// NewIngestionScheduler creates a scheduler with the default interval.
func NewIngestionScheduler(runner *etl.Runner, logger *logrus.Logger) *IngestionScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IngestionScheduler{
		Runner:   runner,
		Interval: time.Hour,
		Enabled:  true,
		Logger:   logger,
	}
}

func (s *IngestionScheduler) log() *logrus.Entry {
	return s.Logger.WithField("component", "scheduler")
}

// Start begins the scheduler.
func (s *IngestionScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log().Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run(ctx)

	s.log().WithField("interval", s.Interval.String()).Info("started")
}

// Stop stops the scheduler and waits for an in-flight pass to abort.
func (s *IngestionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.cancel()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log().Info("stopped")
}

func (s *IngestionScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately on start
	s.pass(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.pass(ctx)
		case <-s.stop:
			return
		}
	}
}

func (s *IngestionScheduler) pass(ctx context.Context) {
	summary, err := s.RunNow(ctx)
	switch {
	case sales.IsRetryable(err):
		s.log().WithError(err).Info("ingestion lock held elsewhere, retrying next tick")
	case errors.Is(err, context.Canceled):
		s.log().Info("ingestion pass canceled")
	case err != nil:
		s.log().WithError(err).Error("directory ingestion failed")
	case summary.Processed > 0 || summary.Failed > 0:
		s.log().WithFields(logrus.Fields{
			"processed": summary.Processed,
			"skipped":   summary.Skipped,
			"failed":    summary.Failed,
		}).Info("directory ingestion completed")
	}
}

// RunNow ingests the input directory immediately.
func (s *IngestionScheduler) RunNow(ctx context.Context) (etl.Summary, error) {
	summary, err := s.Runner.RunDirectory(ctx, nil)

	s.statusMu.Lock()
	s.lastRun = time.Now()
	s.statusMu.Unlock()

	return summary, err
}

// Status reports when the scheduler last ran and will next run.
func (s *IngestionScheduler) Status() SchedulerStatusDTO {
	s.statusMu.Lock()
	last := s.lastRun
	s.statusMu.Unlock()

	dto := SchedulerStatusDTO{Enabled: s.Enabled, Interval: s.Interval.String()}
	if !last.IsZero() {
		dto.LastRun = formatTimestamp(last)
		if s.Enabled {
			dto.NextRun = formatTimestamp(last.Add(s.Interval))
		}
	}
	return dto
}
