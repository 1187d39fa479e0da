package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-dsr/sales"
)

func date(y int, m time.Month, d int) sales.Date { return sales.NewDate(y, m, d) }

func TestResolve_DefaultMonthToDate(t *testing.T) {
	r := NewResolver(time.April)

	// GIVEN: asOf = 2026-01-25, no explicit start
	w, err := r.Resolve(date(2026, time.January, 25), nil)
	require.NoError(t, err)

	// THEN: Windows shift by calendar month/year, fiscal year starts Apr 1 2025
	assert.Equal(t, "[2026-01-01, 2026-01-25]", w.Current.String())
	assert.Equal(t, "[2025-12-01, 2025-12-25]", w.PriorMonth.String())
	assert.Equal(t, "[2025-04-01, 2026-01-25]", w.FiscalYTD.String())
	assert.Equal(t, "[2025-01-01, 2025-01-25]", w.PriorYear.String())
}

func TestResolve_MonthEndClamp(t *testing.T) {
	r := &Resolver{}

	tests := []struct {
		asOf      sales.Date
		wantPrior string
	}{
		{date(2026, time.March, 31), "[2026-02-01, 2026-02-28]"},
		{date(2024, time.March, 31), "[2024-02-01, 2024-02-29]"},
		{date(2025, time.May, 31), "[2025-04-01, 2025-04-30]"},
		{date(2026, time.January, 31), "[2025-12-01, 2025-12-31]"},
	}
	for _, tt := range tests {
		t.Run(tt.asOf.String(), func(t *testing.T) {
			w, err := r.Resolve(tt.asOf, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrior, w.PriorMonth.String())
		})
	}
}

func TestResolve_PriorYearLeapDay(t *testing.T) {
	r := &Resolver{}
	w, err := r.Resolve(date(2024, time.February, 29), nil)
	require.NoError(t, err)
	assert.Equal(t, "[2023-02-01, 2023-02-28]", w.PriorYear.String())
}

func TestResolve_ExplicitStart(t *testing.T) {
	r := &Resolver{}
	start := date(2026, time.January, 5)

	w, err := r.Resolve(date(2026, time.January, 10), &start)
	require.NoError(t, err)

	assert.Equal(t, "[2026-01-05, 2026-01-10]", w.Current.String())
	assert.Equal(t, "[2025-12-05, 2025-12-10]", w.PriorMonth.String())
	assert.Equal(t, w.Current.Days(), w.PriorMonth.Days())
}

func TestResolve_ExplicitStartAfterAsOf(t *testing.T) {
	r := &Resolver{}
	start := date(2026, time.January, 20)

	_, err := r.Resolve(date(2026, time.January, 10), &start)
	assert.ErrorIs(t, err, sales.ErrInvalidWindow)
}

func TestResolve_FiscalYearBoundaries(t *testing.T) {
	r := NewResolver(time.April)

	w, _ := r.Resolve(date(2026, time.April, 1), nil)
	assert.Equal(t, "2026-04-01", w.FiscalYTD.Start.String())

	w, _ = r.Resolve(date(2026, time.March, 31), nil)
	assert.Equal(t, "2025-04-01", w.FiscalYTD.Start.String())
}

func TestWindow_Span(t *testing.T) {
	r := NewResolver(time.April)
	w, _ := r.Resolve(date(2026, time.January, 25), nil)

	span := w.Span()
	assert.Equal(t, "2025-01-01", span.Start.String())
	assert.Equal(t, "2026-01-25", span.End.String())
}
