package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// FOOTFALL INGESTOR
// =============================================================================

// footfallRow is one people-counter sample (usually hourly).
type footfallRow struct {
	Date      string `csv:"Date" validate:"required"`
	StoreName string `csv:"Store Name" validate:"required"`
	TotalIn   string `csv:"Total IN" clean:"number" validate:"required,numeric"`
}

// FootfallIngestor sums the samples of each (date, location) in a file and
// upserts one daily total per key. Re-ingesting a day overwrites its total;
// totals are never added across files.
type FootfallIngestor struct {
	Store  sales.FootfallStore
	Runs   sales.RunStore
	Locker Locker
	Logger *logrus.Logger
	Now    func() time.Time

	validate *validator.Validate
}

func NewFootfallIngestor(store sales.FootfallStore, runs sales.RunStore, locker Locker, logger *logrus.Logger) *FootfallIngestor {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FootfallIngestor{Store: store, Runs: runs, Locker: locker, Logger: logger, Now: time.Now, validate: newValidator()}
}

func (fi *FootfallIngestor) Ingest(ctx context.Context, source string, rows RowReader) (Result, error) {
	lock, err := fi.Locker.Obtain(ctx, IngestionLockKey)
	if err != nil {
		return Result{Source: source, Kind: sales.SourceFootfall}, err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	rec := startRun(ctx, fi.Runs, fi.Logger, fi.Now, source, sales.SourceFootfall)

	totals, order, stats, rowErrs, err := fi.aggregate(rows, source)
	if err != nil {
		rec.fail(ctx, stats, err)
		return rec.result(rowErrs), err
	}
	rec.transition(ctx, sales.RunValidated, stats)

	records := make([]sales.FootfallRecord, 0, len(order))
	for _, k := range order {
		records = append(records, sales.FootfallRecord{Date: k.date, LocationName: k.location, Count: totals[k]})
	}
	n, err := fi.Store.UpsertFootfall(ctx, records)
	if err != nil {
		err = &sales.ReconcileError{Keys: len(records), Cause: err}
		rec.fail(ctx, stats, err)
		return rec.result(rowErrs), err
	}
	stats.Inserted = n
	rec.transition(ctx, sales.RunReconciled, stats)

	rec.logger.WithFields(statsFields(stats)).Info("footfall file reconciled")
	return rec.result(rowErrs), nil
}

type dayLocation struct {
	date     sales.Date
	location string
}

func (fi *FootfallIngestor) aggregate(rows RowReader, source string) (map[dayLocation]int, []dayLocation, sales.IngestionStats, sales.RowErrors, error) {
	var (
		stats   sales.IngestionStats
		rowErrs sales.RowErrors
		order   []dayLocation
	)
	totals := make(map[dayLocation]int)
	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, stats, rowErrs, streamError(source, err)
		}
		stats.RowsRead++

		var raw footfallRow
		decodeRow(row, &raw)
		if err := validateRow(fi.validate, row.Line, &raw); err != nil {
			stats.Rejected++
			rowErrs = appendRowError(rowErrs, row.Line, err)
			continue
		}
		location, ok := FootfallLocation(raw.StoreName)
		if !ok {
			stats.Unclassified++
			continue
		}
		date, err := ParseExportDate(raw.Date)
		if err != nil {
			stats.Rejected++
			rowErrs = append(rowErrs, &sales.RowError{Line: row.Line, Column: "Date", Reason: err.Error()})
			continue
		}
		count, err := wholeNumber(raw.TotalIn)
		if err != nil || count < 0 {
			stats.Rejected++
			rowErrs = append(rowErrs, &sales.RowError{Line: row.Line, Column: "Total IN", Reason: "count must be a non-negative whole number"})
			continue
		}

		k := dayLocation{date: date, location: location}
		if _, seen := totals[k]; !seen {
			order = append(order, k)
		}
		totals[k] += count
		stats.Accepted++
	}
	return totals, order, stats, rowErrs, nil
}

// =============================================================================
// EFFICIENCY INGESTOR
// =============================================================================

// efficiencyRow is one location line of the supplementary efficiency report.
type efficiencyRow struct {
	Location        string `csv:"Location" validate:"required"`
	Footfall        string `csv:"MTD Footfall" clean:"number" validate:"omitempty,numeric"`
	ConversionPct   string `csv:"MTD Conversion %" clean:"number" validate:"omitempty,numeric"`
	MultiesPct      string `csv:"MTD Multies" clean:"number" validate:"omitempty,numeric"`
	PMFootfall      string `csv:"PM Footfall" clean:"number" validate:"omitempty,numeric"`
	PMConversionPct string `csv:"PM Conversion %" clean:"number" validate:"omitempty,numeric"`
	PMMultiesPct    string `csv:"PM Multies" clean:"number" validate:"omitempty,numeric"`
}

// EfficiencyIngestor loads the externally produced efficiency report. The
// report carries no date of its own; the caller supplies it.
type EfficiencyIngestor struct {
	Store  sales.EfficiencyStore
	Runs   sales.RunStore
	Locker Locker
	Logger *logrus.Logger
	Now    func() time.Time

	validate *validator.Validate
}

func NewEfficiencyIngestor(store sales.EfficiencyStore, runs sales.RunStore, locker Locker, logger *logrus.Logger) *EfficiencyIngestor {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EfficiencyIngestor{Store: store, Runs: runs, Locker: locker, Logger: logger, Now: time.Now, validate: newValidator()}
}

func (ei *EfficiencyIngestor) Ingest(ctx context.Context, source string, reportDate sales.Date, rows RowReader) (Result, error) {
	lock, err := ei.Locker.Obtain(ctx, IngestionLockKey)
	if err != nil {
		return Result{Source: source, Kind: sales.SourceEfficiency}, err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	rec := startRun(ctx, ei.Runs, ei.Logger, ei.Now, source, sales.SourceEfficiency)

	var (
		records []sales.EfficiencyRecord
		stats   sales.IngestionStats
		rowErrs sales.RowErrors
	)
	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			err = streamError(source, err)
			rec.fail(ctx, stats, err)
			return rec.result(rowErrs), err
		}
		stats.RowsRead++

		var raw efficiencyRow
		decodeRow(row, &raw)
		if strings.EqualFold(raw.Location, "total") {
			continue
		}
		if err := validateRow(ei.validate, row.Line, &raw); err != nil {
			stats.Rejected++
			rowErrs = appendRowError(rowErrs, row.Line, err)
			continue
		}
		record, err := toEfficiencyRecord(raw, reportDate)
		if err != nil {
			stats.Rejected++
			rowErrs = append(rowErrs, &sales.RowError{Line: row.Line, Reason: err.Error()})
			continue
		}
		records = append(records, record)
		stats.Accepted++
	}
	rec.transition(ctx, sales.RunValidated, stats)

	n, err := ei.Store.UpsertEfficiency(ctx, records)
	if err != nil {
		err = &sales.ReconcileError{Keys: len(records), Cause: err}
		rec.fail(ctx, stats, err)
		return rec.result(rowErrs), err
	}
	stats.Inserted = n
	rec.transition(ctx, sales.RunReconciled, stats)

	rec.logger.WithFields(statsFields(stats)).WithField("report_date", reportDate.String()).Info("efficiency report loaded")
	return rec.result(rowErrs), nil
}

func toEfficiencyRecord(raw efficiencyRow, reportDate sales.Date) (sales.EfficiencyRecord, error) {
	footfall, err := wholeNumber(raw.Footfall)
	if err != nil {
		return sales.EfficiencyRecord{}, fmt.Errorf("MTD Footfall: %w", err)
	}
	pmFootfall, err := wholeNumber(raw.PMFootfall)
	if err != nil {
		return sales.EfficiencyRecord{}, fmt.Errorf("PM Footfall: %w", err)
	}
	rec := sales.EfficiencyRecord{
		LocationName: EfficiencyLocation(raw.Location),
		ReportDate:   reportDate,
		Footfall:     footfall,
		PMFootfall:   pmFootfall,
	}
	for _, p := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&rec.ConversionPct, raw.ConversionPct},
		{&rec.MultiesPct, raw.MultiesPct},
		{&rec.PMConversionPct, raw.PMConversionPct},
		{&rec.PMMultiesPct, raw.PMMultiesPct},
	} {
		d, err := decimalOrZero(p.src)
		if err != nil {
			return sales.EfficiencyRecord{}, err
		}
		*p.dst = d
	}
	return rec, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func appendRowError(errs sales.RowErrors, line int, err error) sales.RowErrors {
	var rowErr *sales.RowError
	if errors.As(err, &rowErr) {
		return append(errs, rowErr)
	}
	return append(errs, &sales.RowError{Line: line, Reason: err.Error()})
}

// wholeNumber parses an integer that may be written with a decimal part of
// zero ("120.0"), as spreadsheet exports often do.
func wholeNumber(s string) (int, error) {
	d, err := decimalOrZero(s)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("not a whole number: %s", s)
	}
	return int(d.IntPart()), nil
}

// excelEpoch is day zero of spreadsheet serial dates.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// ParseExportDate accepts the date forms seen in exports: DD/MM/YYYY, ISO,
// DD-MM-YYYY, D-Mon-YYYY, and spreadsheet serial numbers.
func ParseExportDate(s string) (sales.Date, error) {
	s = strings.TrimSpace(s)
	if d, err := sales.ParseAnyDate(s); err == nil {
		return d, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "02-01-2006", "2-Jan-2006", "02-Jan-06", "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return sales.DateOf(t), nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < 2958466 {
		return sales.DateOf(excelEpoch.AddDate(0, 0, int(serial))), nil
	}
	return sales.Date{}, fmt.Errorf("%w: %q", sales.ErrInvalidDate, s)
}
