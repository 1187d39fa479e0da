package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// INGESTOR - Invoice file reconciliation
// =============================================================================

// Ingestor reconciles one invoice export at a time.
//
// PROTOCOL:
//  1. pending:    read every row; normalize + classify; bad rows are counted
//  2. validated:  the batch is complete and its distinct invoices are known
//  3. reconciled: LineStore.ReplaceInvoices deleted and re-inserted them
//
// A stream failure in step 1 fails the run before anything is written.
// A store failure in step 3 leaves the store as it was (ReplaceInvoices is
// atomic). Runs are serialized through Locker.
type Ingestor struct {
	Lines      sales.LineStore
	Runs       sales.RunStore
	Locker     Locker
	Normalizer *Normalizer
	Logger     *logrus.Logger
	Now        func() time.Time
}

func NewIngestor(lines sales.LineStore, runs sales.RunStore, locker Locker, normalizer *Normalizer, logger *logrus.Logger) *Ingestor {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if normalizer == nil {
		normalizer = NewNormalizer(nil, sales.NewWhatsappMatcher(""))
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Ingestor{
		Lines:      lines,
		Runs:       runs,
		Locker:     locker,
		Normalizer: normalizer,
		Logger:     logger,
		Now:        time.Now,
	}
}

// Ingest reads rows to exhaustion and reconciles them. The returned error is
// non-nil only for stream, lock or store failures; skipped rows are reported
// in Result.Stats and Result.RowErrors.
func (in *Ingestor) Ingest(ctx context.Context, source string, rows RowReader) (Result, error) {
	lock, err := in.Locker.Obtain(ctx, IngestionLockKey)
	if err != nil {
		return Result{Source: source, Kind: sales.SourceInvoices}, err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	rec := startRun(ctx, in.Runs, in.Logger, in.Now, source, sales.SourceInvoices)

	// Stage 1: normalize
	batch, stats, rowErrs, err := in.normalize(rows, source)
	if err != nil {
		rec.fail(ctx, stats, err)
		return rec.result(rowErrs), err
	}
	stats.Invoices = countInvoices(batch)
	rec.transition(ctx, sales.RunValidated, stats)

	// Stage 2: reconcile
	res, err := in.Lines.ReplaceInvoices(ctx, batch)
	if err != nil {
		err = &sales.ReconcileError{Keys: stats.Invoices, Cause: err}
		rec.fail(ctx, stats, err)
		return rec.result(rowErrs), err
	}
	stats.Deleted = res.Deleted
	stats.Inserted = res.Inserted
	rec.transition(ctx, sales.RunReconciled, stats)

	rec.logger.WithFields(statsFields(stats)).Info("invoice file reconciled")
	return rec.result(rowErrs), nil
}

func (in *Ingestor) normalize(rows RowReader, source string) ([]sales.TransactionLine, sales.IngestionStats, sales.RowErrors, error) {
	var (
		batch   []sales.TransactionLine
		stats   sales.IngestionStats
		rowErrs sales.RowErrors
	)
	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, rowErrs, streamError(source, err)
		}
		stats.RowsRead++

		line, err := in.Normalizer.Normalize(row, source)
		var rowErr *sales.RowError
		switch {
		case err == nil:
			batch = append(batch, line)
			stats.Accepted++
		case errors.Is(err, ErrUnclassified):
			stats.Unclassified++
		case errors.As(err, &rowErr):
			stats.Rejected++
			rowErrs = append(rowErrs, rowErr)
		default:
			stats.Rejected++
			rowErrs = append(rowErrs, &sales.RowError{Line: row.Line, Reason: err.Error()})
		}
	}
	return batch, stats, rowErrs, nil
}

func countInvoices(lines []sales.TransactionLine) int {
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		seen[l.InvoiceNo] = struct{}{}
	}
	return len(seen)
}

// streamError tags a reader failure with sales.ErrStreamRead.
func streamError(source string, err error) error {
	if errors.Is(err, sales.ErrStreamRead) {
		return fmt.Errorf("read %s: %w", source, err)
	}
	return fmt.Errorf("read %s: %w: %w", source, sales.ErrStreamRead, err)
}
