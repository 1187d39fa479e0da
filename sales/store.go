/*
store.go - Persistence interfaces for lines, footfall, efficiency and runs

PURPOSE:
  Defines the interface between the pipeline and the database. Any durable
  tabular store satisfying these contracts works; the repository ships a
  database/sql implementation (SQLite, MySQL) and an in-memory one.

KEY INTERFACES:
  LineStore:       Transaction lines (reconcile by invoice, filtered loads, lookups)
  FootfallStore:   Daily footfall totals (upsert with overwrite)
  EfficiencyStore: Externally reported efficiency figures (upsert)
  RunStore:        Ingestion run audit log
  Store:           All of the above

RECONCILIATION CONTRACT:
  ReplaceInvoices() is the ONLY write to lines. For the distinct invoice
  numbers in the batch it deletes every stored line, then inserts the batch,
  as one atomic unit. A concurrent reader sees either the old lines of an
  invoice or the new ones, never a mix and never neither.

  ReplaceInvoices() is not safe under concurrent writers with overlapping
  invoices. Callers serialize ingestion (see etl.Locker).

IMPLEMENTATIONS:
  - store/sqlstore: SQLite and MySQL via database/sql
  - sales/store: In-memory for tests and demos

EXAMPLE:
  res, err := store.ReplaceInvoices(ctx, lines)
  // res.Deleted lines from earlier deliveries, res.Inserted == len(lines)
*/
package sales

import "context"

// =============================================================================
// LINE STORE
// =============================================================================

// LineQuery filters lines. Zero dates are unbounded; empty slices match all.
// All bounds are inclusive.
type LineQuery struct {
	From       Date
	To         Date
	Locations  []string
	Brands     []string
	Categories []string
}

// ReplaceResult reports what a reconciliation changed.
type ReplaceResult struct {
	Invoices int
	Deleted  int
	Inserted int
}

type LineStore interface {
	// ReplaceInvoices atomically deletes all stored lines whose invoice number
	// appears in lines, then inserts lines.
	ReplaceInvoices(ctx context.Context, lines []TransactionLine) (ReplaceResult, error)

	// LoadLines returns lines matching the query, ordered by date then invoice.
	LoadLines(ctx context.Context, q LineQuery) ([]TransactionLine, error)

	// CountLines returns the number of stored lines, optionally for one invoice.
	CountLines(ctx context.Context, invoiceNo string) (int, error)

	// MaxInvoiceDate returns the latest stored invoice date; ok is false when empty.
	MaxInvoiceDate(ctx context.Context) (d Date, ok bool, err error)

	// DistinctLocations lists location names, optionally restricted to brands.
	DistinctLocations(ctx context.Context, brands []string) ([]string, error)

	// DistinctBrands lists non-empty brand names.
	DistinctBrands(ctx context.Context) ([]string, error)

	// DistinctCategories lists non-empty category names, optionally restricted.
	DistinctCategories(ctx context.Context, brands, locations []string) ([]string, error)
}

// =============================================================================
// FOOTFALL & EFFICIENCY STORES
// =============================================================================

type FootfallStore interface {
	// UpsertFootfall writes records keyed by (date, location); existing
	// counts are overwritten, not added to.
	UpsertFootfall(ctx context.Context, records []FootfallRecord) (int, error)

	// LoadFootfall returns records in [from, to] for the given locations (all if empty).
	LoadFootfall(ctx context.Context, from, to Date, locations []string) ([]FootfallRecord, error)
}

type EfficiencyStore interface {
	// UpsertEfficiency writes records keyed by (location, report date).
	UpsertEfficiency(ctx context.Context, records []EfficiencyRecord) (int, error)

	// LatestEfficiency returns, per location, the record with the greatest
	// report date in [from, to].
	LatestEfficiency(ctx context.Context, from, to Date) ([]EfficiencyRecord, error)
}

// =============================================================================
// RUN STORE
// =============================================================================

type RunStore interface {
	SaveRun(ctx context.Context, run IngestionRun) error
	GetRun(ctx context.Context, id string) (*IngestionRun, error)

	// ListRuns returns runs newest first. limit <= 0 means no limit.
	ListRuns(ctx context.Context, limit int) ([]IngestionRun, error)

	// HasReconciledRun reports whether a source was already ingested successfully.
	HasReconciledRun(ctx context.Context, source string) (bool, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	LineStore
	FootfallStore
	EfficiencyStore
	RunStore
}
