package etl

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-dsr/sales"
	"github.com/warp/retail-dsr/sales/store"
)

const footfallCSV = `Date,Store Name,Hour,Total IN
03/01/2026,Jacadi Palladium,10,12
03/01/2026,Jacadi Palladium,11,30
03/01/2026,JACADI MALL OF ASIA,10,8
03/01/2026,Head Office,10,99
04/01/2026,Jacadi Palladium,10,"1,005"
04/01/2026,Jacadi Palladium,11,-3
`

func TestFootfallIngest_SumsSamplesPerDay(t *testing.T) {
	mem := store.NewMemory()
	fi := NewFootfallIngestor(mem, mem, nil, nil)
	ctx := context.Background()

	rows, err := NewCSVReader(strings.NewReader(footfallCSV))
	require.NoError(t, err)
	res, err := fi.Ingest(ctx, "footfall.csv", rows)
	require.NoError(t, err)

	assert.Equal(t, 6, res.Stats.RowsRead)
	assert.Equal(t, 4, res.Stats.Accepted)
	assert.Equal(t, 1, res.Stats.Unclassified)
	assert.Equal(t, 1, res.Stats.Rejected)
	assert.Equal(t, 3, res.Stats.Inserted)

	day := sales.NewDate(2026, time.January, 3)
	records, _ := mem.LoadFootfall(ctx, day, day, []string{sales.LocationPalladium})
	require.Len(t, records, 1)
	assert.Equal(t, 42, records[0].Count)

	next := sales.NewDate(2026, time.January, 4)
	records, _ = mem.LoadFootfall(ctx, next, next, nil)
	require.Len(t, records, 1)
	assert.Equal(t, 1005, records[0].Count)
}

func TestFootfallIngest_ReingestOverwrites(t *testing.T) {
	mem := store.NewMemory()
	fi := NewFootfallIngestor(mem, mem, nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rows, err := NewCSVReader(strings.NewReader(footfallCSV))
		require.NoError(t, err)
		_, err = fi.Ingest(ctx, "footfall.csv", rows)
		require.NoError(t, err)
	}

	day := sales.NewDate(2026, time.January, 3)
	records, _ := mem.LoadFootfall(ctx, day, day, []string{sales.LocationPalladium})
	require.Len(t, records, 1)
	assert.Equal(t, 42, records[0].Count, "re-ingestion must overwrite, not add")
}

func TestEfficiencyIngest_SemicolonReport(t *testing.T) {
	mem := store.NewMemory()
	ei := NewEfficiencyIngestor(mem, mem, nil, nil)
	ctx := context.Background()

	data := "Location;MTD Footfall;MTD Conversion %;MTD Multies;PM Footfall;PM Conversion %;PM Multies\n" +
		"JACADI MALL OF ASIA;1,200;12.5%;30%;1,100;11%;28%\n" +
		"Jacadi Palladium;900;15%;35%;950;14%;33%\n" +
		"Total;2,100;;;2,050;;\n"
	rows, err := NewCSVReader(strings.NewReader(data))
	require.NoError(t, err)

	reportDate := sales.NewDate(2026, time.January, 8)
	res, err := ei.Ingest(ctx, "efficiency.csv", reportDate, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Accepted)

	got, err := mem.LatestEfficiency(ctx, reportDate, reportDate)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sales.LocationPalladium, got[0].LocationName)
	assert.Equal(t, sales.LocationMOA, got[1].LocationName)
	assert.Equal(t, 1200, got[1].Footfall)
	assert.True(t, decimal.RequireFromString("12.5").Equal(got[1].ConversionPct))
	assert.Equal(t, 1100, got[1].PMFootfall)
}

func TestParseExportDate(t *testing.T) {
	for _, in := range []string{"03/01/2026", "2026-01-03", "03-01-2026", "3-Jan-2026", "46025", "2026-01-03 00:00:00"} {
		d, err := ParseExportDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, "2026-01-03", d.String(), in)
	}
	_, err := ParseExportDate("someday")
	assert.ErrorIs(t, err, sales.ErrInvalidDate)
}
