package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// FOOTFALL STORE (sales.FootfallStore interface)
// =============================================================================

// UpsertFootfall overwrites the count of each (date, location) in one transaction.
func (s *Store) UpsertFootfall(ctx context.Context, records []sales.FootfallRecord) (int, error) {
	query := s.upsert(
		"INSERT INTO footfall (date, location_name, count, updated_at) VALUES (?, ?, ?, ?)",
		[]string{"date", "location_name"},
		[]string{"count", "updated_at"},
	)
	now := formatTime(time.Now())
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			if _, err := tx.ExecContext(ctx, query, dateString(r.Date), r.LocationName, r.Count, now); err != nil {
				return fmt.Errorf("failed to upsert footfall %s/%s: %w", r.Date, r.LocationName, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *Store) LoadFootfall(ctx context.Context, from, to sales.Date, locations []string) ([]sales.FootfallRecord, error) {
	conds := []string{"date >= ?", "date <= ?"}
	args := []any{dateString(from), dateString(to)}
	if c, a := inClause("location_name", locations); c != "" {
		conds = append(conds, c)
		args = append(args, a...)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT date, location_name, count FROM footfall WHERE "+strings.Join(conds, " AND ")+
			" ORDER BY date, location_name", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query footfall: %w", err)
	}
	defer rows.Close()

	var out []sales.FootfallRecord
	for rows.Next() {
		var (
			r    sales.FootfallRecord
			date string
		)
		if err := rows.Scan(&date, &r.LocationName, &r.Count); err != nil {
			return nil, err
		}
		d, err := parseDate("footfall date", date)
		if err != nil {
			return nil, fmt.Errorf("failed to scan footfall: %w", err)
		}
		r.Date = d
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// EFFICIENCY STORE (sales.EfficiencyStore interface)
// =============================================================================

func (s *Store) UpsertEfficiency(ctx context.Context, records []sales.EfficiencyRecord) (int, error) {
	query := s.upsert(
		`INSERT INTO location_efficiency (location_name, report_date, footfall, conversion_pct, multies_pct,
			pm_footfall, pm_conversion_pct, pm_multies_pct, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]string{"location_name", "report_date"},
		[]string{"footfall", "conversion_pct", "multies_pct", "pm_footfall", "pm_conversion_pct", "pm_multies_pct", "updated_at"},
	)
	now := formatTime(time.Now())
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			_, err := tx.ExecContext(ctx, query,
				r.LocationName, dateString(r.ReportDate), r.Footfall, r.ConversionPct.String(), r.MultiesPct.String(),
				r.PMFootfall, r.PMConversionPct.String(), r.PMMultiesPct.String(), now)
			if err != nil {
				return fmt.Errorf("failed to upsert efficiency %s/%s: %w", r.LocationName, r.ReportDate, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// LatestEfficiency returns, per location, the report with the greatest date in [from, to].
func (s *Store) LatestEfficiency(ctx context.Context, from, to sales.Date) ([]sales.EfficiencyRecord, error) {
	query := `
		SELECT e.location_name, e.report_date, e.footfall, e.conversion_pct, e.multies_pct,
		       e.pm_footfall, e.pm_conversion_pct, e.pm_multies_pct
		FROM location_efficiency e
		JOIN (
			SELECT location_name, MAX(report_date) AS report_date
			FROM location_efficiency
			WHERE report_date >= ? AND report_date <= ?
			GROUP BY location_name
		) latest ON latest.location_name = e.location_name AND latest.report_date = e.report_date
	`
	rows, err := s.db.QueryContext(ctx, query, dateString(from), dateString(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query efficiency: %w", err)
	}
	defer rows.Close()

	var out []sales.EfficiencyRecord
	for rows.Next() {
		var (
			r          sales.EfficiencyRecord
			reportDate string
		)
		if err := rows.Scan(&r.LocationName, &reportDate, &r.Footfall, &r.ConversionPct, &r.MultiesPct,
			&r.PMFootfall, &r.PMConversionPct, &r.PMMultiesPct); err != nil {
			return nil, err
		}
		d, err := parseDate("report_date", reportDate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan efficiency: %w", err)
		}
		r.ReportDate = d
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return sales.LessLocation(out[i].LocationName, out[j].LocationName) })
	return out, nil
}

// =============================================================================
// RUN STORE (sales.RunStore interface)
// =============================================================================

const runColumns = `id, source, kind, status, rows_read, accepted, rejected, unclassified,
	invoices, deleted, inserted, error, started_at, completed_at`

// SaveRun inserts or updates a run by ID.
func (s *Store) SaveRun(ctx context.Context, run sales.IngestionRun) error {
	query := s.upsert(
		"INSERT INTO ingestion_runs ("+runColumns+") VALUES ("+placeholders(14)+")",
		[]string{"id"},
		[]string{"status", "rows_read", "accepted", "rejected", "unclassified", "invoices", "deleted",
			"inserted", "error", "completed_at"},
	)
	var completed sql.NullString
	if run.CompletedAt != nil {
		completed = nullString(formatTime(*run.CompletedAt))
	}
	st := run.Stats
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Source, string(run.Kind), string(run.Status),
		st.RowsRead, st.Accepted, st.Rejected, st.Unclassified, st.Invoices, st.Deleted, st.Inserted,
		nullString(run.Error), formatTime(run.StartedAt), completed,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*sales.IngestionRun, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM ingestion_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sales.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]sales.IngestionRun, error) {
	query := "SELECT " + runColumns + " FROM ingestion_runs ORDER BY started_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []sales.IngestionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) HasReconciledRun(ctx context.Context, source string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ingestion_runs WHERE source = ? AND status = ?",
		source, string(sales.RunReconciled),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query runs: %w", err)
	}
	return count > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (sales.IngestionRun, error) {
	var (
		run               sales.IngestionRun
		kind, status      string
		errMsg, completed sql.NullString
		startedAt         string
	)
	st := &run.Stats
	err := row.Scan(&run.ID, &run.Source, &kind, &status,
		&st.RowsRead, &st.Accepted, &st.Rejected, &st.Unclassified, &st.Invoices, &st.Deleted, &st.Inserted,
		&errMsg, &startedAt, &completed)
	if err != nil {
		return run, err
	}
	run.Kind = sales.SourceKind(kind)
	run.Status = sales.RunStatus(status)
	run.Error = errMsg.String
	run.StartedAt = parseTime(startedAt)
	if completed.Valid {
		t := parseTime(completed.String)
		run.CompletedAt = &t
	}
	return run, nil
}

// inTx runs fn in a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
