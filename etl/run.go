package etl

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/retail-dsr/sales"
)

// Result is what one ingestion call reports back.
type Result struct {
	RunID     string               `json:"run_id"`
	Source    string               `json:"source"`
	Kind      sales.SourceKind     `json:"kind"`
	Status    sales.RunStatus      `json:"status"`
	Stats     sales.IngestionStats `json:"stats"`
	RowErrors sales.RowErrors      `json:"-"`
}

// runRecorder moves an IngestionRun through its states and persists every
// transition. A nil RunStore disables persistence.
type runRecorder struct {
	runs   sales.RunStore
	logger *logrus.Entry
	now    func() time.Time
	run    sales.IngestionRun
}

func startRun(ctx context.Context, runs sales.RunStore, logger *logrus.Logger, now func() time.Time, source string, kind sales.SourceKind) *runRecorder {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	rec := &runRecorder{
		runs: runs,
		now:  now,
		run: sales.IngestionRun{
			ID:        uuid.NewString(),
			Source:    source,
			Kind:      kind,
			Status:    sales.RunPending,
			StartedAt: now().UTC(),
		},
	}
	rec.logger = logger.WithFields(logrus.Fields{
		"component": string(kind),
		"run_id":    rec.run.ID,
		"source":    source,
	})
	rec.save(ctx)
	return rec
}

func (r *runRecorder) transition(ctx context.Context, status sales.RunStatus, stats sales.IngestionStats) {
	r.run.Status = status
	r.run.Stats = stats
	if status.IsTerminal() {
		t := r.now().UTC()
		r.run.CompletedAt = &t
	}
	r.save(ctx)
}

func (r *runRecorder) fail(ctx context.Context, stats sales.IngestionStats, err error) {
	r.run.Error = err.Error()
	r.transition(ctx, sales.RunFailed, stats)
	r.logger.WithError(err).WithFields(statsFields(stats)).Error("ingestion failed")
}

func (r *runRecorder) save(ctx context.Context) {
	if r.runs == nil {
		return
	}
	// The audit row must not be lost when the request context is cancelled.
	if err := r.runs.SaveRun(context.WithoutCancel(ctx), r.run); err != nil {
		r.logger.WithError(err).Warn("could not persist ingestion run")
	}
}

func (r *runRecorder) result(rowErrs sales.RowErrors) Result {
	return Result{
		RunID:     r.run.ID,
		Source:    r.run.Source,
		Kind:      r.run.Kind,
		Status:    r.run.Status,
		Stats:     r.run.Stats,
		RowErrors: rowErrs,
	}
}

func statsFields(s sales.IngestionStats) logrus.Fields {
	return logrus.Fields{
		"rows_read":    s.RowsRead,
		"accepted":     s.Accepted,
		"rejected":     s.Rejected,
		"unclassified": s.Unclassified,
		"invoices":     s.Invoices,
		"deleted":      s.Deleted,
		"inserted":     s.Inserted,
	}
}
