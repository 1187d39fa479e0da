package sales

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Inclusive date range used as a filter predicate
// =============================================================================

// Period is an inclusive [Start, End] range of days.
//
// Examples:
//   - Month-to-date on Jan 25: Jan 1 - Jan 25
//   - Fiscal-year-to-date on Jan 25, 2026: Apr 1, 2025 - Jan 25, 2026
type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Contains returns true if the date is within the period [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns the number of days covered, both ends included.
func (p Period) Days() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// Validate rejects ranges whose end precedes their start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, p)
	}
	return nil
}

// ShiftMonths moves both boundaries independently by n calendar months.
func (p Period) ShiftMonths(n int) Period {
	return Period{Start: p.Start.AddMonths(n), End: p.End.AddMonths(n)}
}

// ShiftYears moves both boundaries independently by n calendar years.
func (p Period) ShiftYears(n int) Period {
	return Period{Start: p.Start.AddYears(n), End: p.End.AddYears(n)}
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// FISCAL CALENDAR
// =============================================================================

// FiscalCalendar describes when the fiscal year begins.
type FiscalCalendar struct {
	// StartMonth is the first month of the fiscal year (1-12).
	StartMonth time.Month
}

// DefaultFiscalCalendar starts the fiscal year on April 1.
var DefaultFiscalCalendar = FiscalCalendar{StartMonth: time.April}

// YearContaining returns the full fiscal year that contains the date.
func (fc FiscalCalendar) YearContaining(d Date) Period {
	start := NewDate(d.Year(), fc.startMonth(), 1)

	// If date is before fiscal year start, we're in previous fiscal year
	if d.Before(start) {
		start = NewDate(d.Year()-1, fc.startMonth(), 1)
	}

	return Period{Start: start, End: start.AddYears(1).AddDays(-1)}
}

func (fc FiscalCalendar) startMonth() time.Month {
	if fc.StartMonth < time.January || fc.StartMonth > time.December {
		return time.April
	}
	return fc.StartMonth
}
