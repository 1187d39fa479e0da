package sales_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// PARSING
// =============================================================================

func TestParseDMY(t *testing.T) {
	tests := []struct {
		in      string
		want    sales.Date
		wantErr bool
	}{
		{"10/01/2026", sales.NewDate(2026, time.January, 10), false},
		{"1/2/2026", sales.NewDate(2026, time.February, 1), false},
		{" 29/02/2024 ", sales.NewDate(2024, time.February, 29), false},
		{"29/02/2025", sales.Date{}, true},
		{"31/04/2025", sales.Date{}, true},
		{"2026-01-10", sales.Date{}, true},
		{"", sales.Date{}, true},
		{"aa/01/2026", sales.Date{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := sales.ParseDMY(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, sales.ErrInvalidDate)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseAnyDate(t *testing.T) {
	iso, err := sales.ParseAnyDate("2026-01-25")
	require.NoError(t, err)
	dmy, err := sales.ParseAnyDate("25/01/2026")
	require.NoError(t, err)
	assert.True(t, iso.Equal(dmy))
}

// =============================================================================
// MONTH ARITHMETIC (clamp to last day of target month)
// =============================================================================

func TestAddMonths_ClampsToLastDay(t *testing.T) {
	tests := []struct {
		name string
		from sales.Date
		n    int
		want sales.Date
	}{
		{"mid-month", sales.NewDate(2026, time.January, 25), -1, sales.NewDate(2025, time.December, 25)},
		{"31st into 30-day month", sales.NewDate(2025, time.May, 31), -1, sales.NewDate(2025, time.April, 30)},
		{"31st into february", sales.NewDate(2025, time.March, 31), -1, sales.NewDate(2025, time.February, 28)},
		{"31st into leap february", sales.NewDate(2024, time.March, 31), -1, sales.NewDate(2024, time.February, 29)},
		{"30th into february", sales.NewDate(2026, time.March, 30), -1, sales.NewDate(2026, time.February, 28)},
		{"jan 31 to dec 31", sales.NewDate(2026, time.January, 31), -1, sales.NewDate(2025, time.December, 31)},
		{"forward across year", sales.NewDate(2025, time.December, 15), 2, sales.NewDate(2026, time.February, 15)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.from.AddMonths(tt.n)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestAddYears_LeapDay(t *testing.T) {
	got := sales.NewDate(2024, time.February, 29).AddYears(-1)
	assert.Equal(t, "2023-02-28", got.String())
}

// =============================================================================
// PERIOD & FISCAL CALENDAR
// =============================================================================

func TestPeriod_ContainsInclusive(t *testing.T) {
	p := sales.Period{Start: sales.NewDate(2026, time.January, 1), End: sales.NewDate(2026, time.January, 25)}

	assert.True(t, p.Contains(p.Start))
	assert.True(t, p.Contains(p.End))
	assert.False(t, p.Contains(sales.NewDate(2026, time.January, 26)))
	assert.Equal(t, 25, p.Days())
}

func TestPeriod_Validate(t *testing.T) {
	bad := sales.Period{Start: sales.NewDate(2026, time.January, 10), End: sales.NewDate(2026, time.January, 1)}
	assert.ErrorIs(t, bad.Validate(), sales.ErrInvalidWindow)
	assert.Equal(t, 0, bad.Days())
}

func TestFiscalCalendar_YearContaining(t *testing.T) {
	fc := sales.DefaultFiscalCalendar

	// GIVEN: A date in January (before April)
	// THEN: The fiscal year started the previous April
	fy := fc.YearContaining(sales.NewDate(2026, time.January, 25))
	assert.Equal(t, "2025-04-01", fy.Start.String())
	assert.Equal(t, "2026-03-31", fy.End.String())

	// GIVEN: April 1 itself
	fy = fc.YearContaining(sales.NewDate(2026, time.April, 1))
	assert.Equal(t, "2026-04-01", fy.Start.String())

	// GIVEN: March 31
	fy = fc.YearContaining(sales.NewDate(2026, time.March, 31))
	assert.Equal(t, "2025-04-01", fy.Start.String())
}

func TestDate_JSON(t *testing.T) {
	d := sales.NewDate(2026, time.January, 5)
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2026-01-05"`, string(b))

	var back sales.Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, d.Equal(back))
}
