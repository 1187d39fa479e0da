/*
Package reporting resolves the comparison windows used by every metric query.

PURPOSE:
  A dashboard request names an as-of date (and optionally an explicit start).
  Every metric is then reported for the same four windows:

    Current     [start, asOf]                  start defaults to 1st of asOf's month
    PriorMonth  [start - 1 month, asOf - 1 month]
    FiscalYTD   [fiscal year start, asOf]      fiscal year begins April 1
    PriorYear   [start - 1 year, asOf - 1 year]

  Windows are derived per request and never persisted.

MONTH-END POLICY:
  Boundaries are shifted independently by calendar months. When the source day
  does not exist in the target month the boundary clamps to that month's last
  day (see sales.Date.AddMonths). The same rule applies to year shifts, so
  Feb 29 - 1 year = Feb 28.

  Example (asOf = 2026-03-31, default start):
    Current    [2026-03-01, 2026-03-31]
    PriorMonth [2026-02-01, 2026-02-28]
    FiscalYTD  [2025-04-01, 2026-03-31]
    PriorYear  [2025-03-01, 2025-03-31]

INCLUSIVITY:
  All boundaries are inclusive on both ends.
*/
package reporting

import (
	"fmt"
	"time"

	"github.com/warp/retail-dsr/sales"
)

// Window is the full set of comparison periods for one request.
type Window struct {
	AsOf       sales.Date   `json:"as_of"`
	Current    sales.Period `json:"current"`
	PriorMonth sales.Period `json:"prior_month"`
	FiscalYTD  sales.Period `json:"fiscal_ytd"`
	PriorYear  sales.Period `json:"prior_year"`
}

// Span returns the smallest period covering every window, used to load the
// lines a request needs in one pass.
func (w Window) Span() sales.Period {
	span := w.Current
	for _, p := range []sales.Period{w.PriorMonth, w.FiscalYTD, w.PriorYear} {
		if p.Start.Before(span.Start) {
			span.Start = p.Start
		}
		if p.End.After(span.End) {
			span.End = p.End
		}
	}
	return span
}

// Resolver computes Windows. The zero value uses an April fiscal year.
type Resolver struct {
	Calendar sales.FiscalCalendar
}

// NewResolver creates a resolver whose fiscal year starts in startMonth.
func NewResolver(startMonth time.Month) *Resolver {
	return &Resolver{Calendar: sales.FiscalCalendar{StartMonth: startMonth}}
}

// Resolve computes the windows for asOf. start may be nil for month-to-date.
// An explicit start after asOf is rejected with sales.ErrInvalidWindow.
func (r *Resolver) Resolve(asOf sales.Date, start *sales.Date) (Window, error) {
	if asOf.IsZero() {
		return Window{}, fmt.Errorf("%w: as-of date is required", sales.ErrInvalidWindow)
	}

	current := sales.Period{Start: asOf.StartOfMonth(), End: asOf}
	if start != nil && !start.IsZero() {
		current.Start = *start
	}
	if err := current.Validate(); err != nil {
		return Window{}, err
	}

	fiscalYear := r.Calendar.YearContaining(asOf)

	return Window{
		AsOf:       asOf,
		Current:    current,
		PriorMonth: current.ShiftMonths(-1),
		FiscalYTD:  sales.Period{Start: fiscalYear.Start, End: asOf},
		PriorYear:  current.ShiftYears(-1),
	}, nil
}
