package metrics

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/retail-dsr/reporting"
	"github.com/warp/retail-dsr/sales"
	"github.com/warp/retail-dsr/sales/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	jan25 = sales.NewDate(2026, time.January, 25)
	jan10 = sales.NewDate(2026, time.January, 10)
	dec10 = sales.NewDate(2025, time.December, 10)
	may10 = sales.NewDate(2025, time.May, 10)
	py10  = sales.NewDate(2025, time.January, 10)
)

type lineOpt func(*sales.TransactionLine)

func salesPerson(name string) lineOpt {
	return func(l *sales.TransactionLine) { l.SalesPersonName = name }
}

func category(c string) lineOpt {
	return func(l *sales.TransactionLine) { l.LineCategory = c }
}

func brand(b string) lineOpt {
	return func(l *sales.TransactionLine) { l.BrandName = b }
}

var lineSeq int

func line(no string, d sales.Date, loc string, typ sales.TransactionType, qty int, nett string, opts ...lineOpt) sales.TransactionLine {
	lineSeq++
	l := sales.TransactionLine{
		ID:              fmt.Sprintf("L%04d", lineSeq),
		InvoiceNo:       no,
		InvoiceDate:     d,
		TransactionType: typ,
		OrderChannel:    sales.ChannelBrickAndMortar,
		LocationName:    loc,
		Quantity:        qty,
		NettValue:       decimal.RequireFromString(nett),
		LineCategory:    sales.LineCategorySales,
		BrandName:       "Jacadi",
		CategoryName:    "Apparel",
	}
	if loc == sales.LocationWebstore {
		l.OrderChannel = sales.ChannelECommerce
	}
	for _, o := range opts {
		o(&l)
	}
	return l
}

func newTestEngine(t *testing.T, lines ...sales.TransactionLine) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	if len(lines) > 0 {
		_, err := mem.ReplaceInvoices(context.Background(), lines)
		require.NoError(t, err)
	}
	e := NewEngine(mem, reporting.NewResolver(time.April))
	e.Now = func() time.Time { return time.Date(2026, time.February, 2, 9, 0, 0, 0, time.UTC) }
	return e, mem
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s got %s", want, got.String()}, msg...)...)
}

// =============================================================================
// INVOICE COLLAPSE
// =============================================================================

func TestBasketSize_CollapsesLinesToInvoices(t *testing.T) {
	// GIVEN: 3 sales lines with quantities [2,1,3] under 2 invoices
	e, _ := newTestEngine(t,
		line("A", jan10, sales.LocationPalladium, sales.TypeInvoice, 2, "2000"),
		line("B", jan10, sales.LocationPalladium, sales.TypeInvoice, 1, "500"),
		line("B", jan10, sales.LocationPalladium, sales.TypeInvoice, 3, "1500"),
	)

	// WHEN: Efficiency is computed
	rep, err := e.RetailEfficiency(context.Background(), Query{AsOf: jan25})
	require.NoError(t, err)

	// THEN: Basket = (2+1+3)/2 = 3.0, ATV = 4000/2, both invoices are multi-unit
	require.Len(t, rep.Rows, 1)
	mtd := rep.Rows[0].MTD
	assert.Equal(t, 2, mtd.Trx)
	assert.Equal(t, 6, mtd.Units)
	assertDecimal(t, "3", mtd.BasketSize)
	assertDecimal(t, "2000", mtd.ATV)
	assertDecimal(t, "100", mtd.MultiesPct)
}

func TestCollapse_CountedRules(t *testing.T) {
	lines := []sales.TransactionLine{
		line("SALE", jan10, sales.LocationMOA, sales.TypeInvoice, 1, "100"),
		line("ZERO", jan10, sales.LocationMOA, sales.TypeInvoice, 1, "0"),
		line("BAG", jan10, sales.LocationMOA, sales.TypeInvoice, 1, "20", category("Consumables")),
		line("RET", jan10, sales.LocationMOA, sales.TypeSalesReturn, -1, "-100"),
		line("CN", jan10, sales.LocationMOA, sales.TypeCreditNote, 0, "-50"),
		line("IR", jan10, sales.LocationMOA, sales.TypeInvoiceReturn, 1, "80"),
		// same invoice number at another store is a different invoice
		line("SALE", jan10, sales.LocationPalladium, sales.TypeInvoice, 1, "100"),
	}
	invs := Collapse(lines, nil)
	require.Len(t, invs, 7)

	var b Bucket
	for _, inv := range invs {
		if inv.Location() == sales.LocationMOA {
			b.Add(inv)
		}
	}
	assert.Equal(t, 2, b.Trx, "SALE and IR count; zero-value and consumable-only do not")
	assert.Equal(t, 2, b.Returns)
	assertDecimal(t, "50", b.Sale)
	assert.Equal(t, 2, b.Units, "sales-line quantities of every invoice; consumable units excluded")
}

// =============================================================================
// DENOMINATOR SAFETY
// =============================================================================

func TestEmptyStore_ZeroedFigures(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	ov, err := e.Overview(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, "2026-02-02", ov.Window.AsOf.String(), "empty store resolves to today")
	assert.Empty(t, ov.RetailPerformance)
	assertDecimal(t, "0", ov.Summary.ATV)
	assertDecimal(t, "0", ov.Summary.BasketSize)
	assertDecimal(t, "0", ov.Summary.RevenueGrowth)
}

func TestZeroFootfall_ConversionIsZeroNotDropped(t *testing.T) {
	e, _ := newTestEngine(t,
		line("A", jan10, sales.LocationMOA, sales.TypeInvoice, 1, "100"),
	)

	rep, err := e.RetailEfficiency(context.Background(), Query{AsOf: jan25})
	require.NoError(t, err)

	require.Len(t, rep.Rows, 1)
	row := rep.Rows[0]
	assert.Equal(t, sales.LocationMOA, row.Location)
	assert.Equal(t, 0, row.MTD.Footfall)
	assert.Equal(t, FootfallNone, row.MTD.FootfallSource)
	assertDecimal(t, "0", row.MTD.ConversionPct)
	assertDecimal(t, "0", row.PM.ATV, "no PM transactions")
	assertDecimal(t, "0", row.PM.BasketSize)
}

func TestConversion_CounterFootfallAndFallback(t *testing.T) {
	e, mem := newTestEngine(t,
		line("A", jan10, sales.LocationPalladium, sales.TypeInvoice, 1, "100"),
		line("B", jan10, sales.LocationPalladium, sales.TypeInvoice, 1, "100"),
		line("C", jan10, sales.LocationPalladium, sales.TypeInvoice, 1, "100"),
		line("R", jan10, sales.LocationPalladium, sales.TypeSalesReturn, -1, "-100"),
		line("M", jan10, sales.LocationMOA, sales.TypeInvoice, 1, "100"),
		line("N", dec10, sales.LocationMOA, sales.TypeInvoice, 1, "100"),
	)
	ctx := context.Background()

	// GIVEN: Counter footfall for Palladium, only an efficiency report for MOA
	_, err := mem.UpsertFootfall(ctx, []sales.FootfallRecord{
		{Date: jan10, LocationName: sales.LocationPalladium, Count: 30},
		{Date: jan25, LocationName: sales.LocationPalladium, Count: 10},
		{Date: sales.NewDate(2026, time.January, 26), LocationName: sales.LocationPalladium, Count: 999}, // after as-of
	})
	require.NoError(t, err)
	_, err = mem.UpsertEfficiency(ctx, []sales.EfficiencyRecord{
		{LocationName: sales.LocationMOA, ReportDate: sales.NewDate(2026, time.January, 20), Footfall: 50, PMFootfall: 20},
		{LocationName: sales.LocationMOA, ReportDate: sales.NewDate(2025, time.December, 31), Footfall: 7},
	})
	require.NoError(t, err)

	rep, err := e.RetailEfficiency(ctx, Query{AsOf: jan25})
	require.NoError(t, err)
	require.Len(t, rep.Rows, 2)

	// THEN: Palladium (3 sales - 1 return) / 40 footfall
	pal := rep.Rows[0]
	assert.Equal(t, sales.LocationPalladium, pal.Location)
	assert.Equal(t, 40, pal.MTD.Footfall)
	assert.Equal(t, FootfallCounter, pal.MTD.FootfallSource)
	assertDecimal(t, "5", pal.MTD.ConversionPct)

	// AND: MOA falls back to the report inside the current window
	moa := rep.Rows[1]
	assert.Equal(t, 50, moa.MTD.Footfall)
	assert.Equal(t, FootfallReport, moa.MTD.FootfallSource)
	assertDecimal(t, "2", moa.MTD.ConversionPct)
	assert.Equal(t, 20, moa.PM.Footfall)
	assertDecimal(t, "5", moa.PM.ConversionPct)
}

func TestConversion_NetTransactionsFlooredAtZero(t *testing.T) {
	var b Bucket
	b.Add(Invoice{Type: sales.TypeSalesReturn, Nett: dec("-10")})
	b.Add(Invoice{Type: sales.TypeCreditNote, Nett: dec("-10")})
	assertDecimal(t, "0", b.ConversionPct(100))
}

// =============================================================================
// CROSS-VIEW CONSISTENCY
// =============================================================================

func consistencyLines() []sales.TransactionLine {
	return []sales.TransactionLine{
		line("P1", jan10, sales.LocationPalladium, sales.TypeInvoice, 2, "3000"),
		line("P2", jan10, sales.LocationPalladium, sales.TypeInvoice, 1, "1200", salesPerson("WhatsApp Desk")),
		line("P3", jan10, sales.LocationPalladium, sales.TypeSalesReturn, -1, "-400"),
		line("M1", jan10, sales.LocationMOA, sales.TypeInvoice, 1, "900", salesPerson("whatsapp-moa")),
		line("M2", dec10, sales.LocationMOA, sales.TypeInvoice, 3, "2700"),
		line("W1", jan10, sales.LocationWebstore, sales.TypeInvoice, 1, "1500"),
		line("W2", dec10, sales.LocationWebstore, sales.TypeInvoice, 2, "2500"),
		line("Y1", may10, sales.LocationPalladium, sales.TypeInvoice, 1, "800"),
		line("Q1", py10, sales.LocationPalladium, sales.TypeInvoice, 1, "600"),
	}
}

func TestCrossView_RetailPlusWhatsappEqualsTotal(t *testing.T) {
	e, _ := newTestEngine(t, consistencyLines()...)

	ov, err := e.Overview(context.Background(), Query{AsOf: jan25})
	require.NoError(t, err)
	require.Len(t, ov.RetailPerformance, 3)
	require.Len(t, ov.RetailOmniTotal, 3)

	totals := make(map[string]RetailOmniTotalRow)
	for _, r := range ov.RetailOmniTotal {
		totals[r.Location] = r
	}
	for _, r := range ov.RetailPerformance {
		tot := totals[r.Location]
		assert.True(t, r.MTDRetailSale.Add(r.MTDWhatsappSale).Equal(tot.MTDSale), r.Location)
		assert.True(t, r.PMRetailSale.Add(r.PMWhatsappSale).Equal(tot.PMSale), r.Location)
		assert.Equal(t, r.MTDRetailTrx+r.MTDWhatsappTrx, tot.MTDTrx, r.Location)
		assert.True(t, r.YTDSale.Equal(tot.YTDSale), r.Location)
	}

	// Retail performance order and whatsapp reclassification
	assert.Equal(t, []string{sales.LocationPalladium, sales.LocationMOA, sales.LocationWebstore},
		[]string{ov.RetailPerformance[0].Location, ov.RetailPerformance[1].Location, ov.RetailPerformance[2].Location})
	pal := ov.RetailPerformance[0]
	assertDecimal(t, "2600", pal.MTDRetailSale)
	assertDecimal(t, "1200", pal.MTDWhatsappSale)
	assert.Equal(t, 1, pal.MTDRetailTrx)
	assert.Equal(t, 1, pal.MTDWhatsappTrx)
	web := ov.RetailPerformance[2]
	assertDecimal(t, "0", web.MTDRetailSale)
	assertDecimal(t, "1500", web.MTDWhatsappSale, "e-commerce counts as whatsapp")

	// YTD starts 2025-04-01; PY is [2025-01-01, 2025-01-25]
	palTotal := totals[sales.LocationPalladium]
	assertDecimal(t, "4600", palTotal.YTDSale)
	assert.Equal(t, 3, palTotal.YTDTrx)
	assertDecimal(t, "600", palTotal.PYSale)
	assert.Equal(t, 1, palTotal.PYTrx)

	// Efficiency ATV reduces to the same sale and trx as the total view
	for _, r := range ov.RetailEfficiency {
		tot := totals[r.Location]
		assert.True(t, r.MTD.Sale.Equal(tot.MTDSale), r.Location)
		assert.Equal(t, tot.MTDTrx, r.MTD.Trx, r.Location)
		assert.True(t, r.MTD.ATV.Equal(tot.MTDATV), r.Location)
	}

	// Summary agrees with the per-location rows
	var sum decimal.Decimal
	trx := 0
	for _, r := range ov.RetailOmniTotal {
		sum = sum.Add(r.MTDSale)
		trx += r.MTDTrx
	}
	assert.True(t, sum.Equal(ov.Summary.Revenue))
	assert.Equal(t, trx, ov.Summary.Transactions)
	assert.Equal(t, 3, ov.Summary.Locations)
}

func TestViews_ChannelAndLocationScopes(t *testing.T) {
	e, _ := newTestEngine(t, consistencyLines()...)
	ov, err := e.Overview(context.Background(), Query{AsOf: jan25})
	require.NoError(t, err)

	// Omni-channel only carries e-commerce invoices
	require.Len(t, ov.OmniChannelTmLm, 1)
	omni := ov.OmniChannelTmLm[0]
	assert.Equal(t, sales.LocationWebstore, omni.Location)
	assertDecimal(t, "1500", omni.MTDSale)
	assertDecimal(t, "2500", omni.PMSale)
	assertDecimal(t, "-40", omni.SaleGrowthPct)
	require.Len(t, ov.OmniChannelDetails, 1)
	assertDecimal(t, "2", ov.OmniChannelDetails[0].PMBasketSize)

	// Efficiency excludes the webstore
	for _, r := range ov.RetailEfficiency {
		assert.NotEqual(t, sales.LocationWebstore, r.Location)
	}

	// Whatsapp breakdown excludes the webstore
	require.Len(t, ov.WhatsappBreakdown, 2)
	moa := ov.WhatsappBreakdown[1]
	assert.Equal(t, sales.LocationMOA, moa.Location)
	assertDecimal(t, "900", moa.MTDWhatsappSale)
	assertDecimal(t, "100", moa.MTDWhatsappShare)
	assertDecimal(t, "2700", moa.PMRetailSale)
}

// =============================================================================
// WHATSAPP ATTRIBUTION FLAG
// =============================================================================

func TestWhatsapp_RetroactiveFlag(t *testing.T) {
	// GIVEN: A historical line ingested before the pattern existed (no stamp)
	l := line("H1", jan10, sales.LocationMOA, sales.TypeInvoice, 1, "500", salesPerson("Whatsapp Orders"))
	l.WhatsappAssisted = false
	e, _ := newTestEngine(t, l)
	ctx := context.Background()

	// WHEN: Retroactive attribution is on
	rep, err := e.RetailPerformance(ctx, Query{AsOf: jan25})
	require.NoError(t, err)
	assertDecimal(t, "500", rep.Rows[0].MTDWhatsappSale)

	// WHEN: Only stamped flags count
	e.Retroactive = false
	rep, err = e.RetailPerformance(ctx, Query{AsOf: jan25})
	require.NoError(t, err)
	assertDecimal(t, "0", rep.Rows[0].MTDWhatsappSale)
	assertDecimal(t, "500", rep.Rows[0].MTDRetailSale)
}

func TestWhatsapp_CustomPattern(t *testing.T) {
	e, _ := newTestEngine(t,
		line("A", jan10, sales.LocationMOA, sales.TypeInvoice, 1, "100", salesPerson("WA Concierge")),
	)
	e.Whatsapp = sales.NewWhatsappMatcher("wa concierge")

	rep, err := e.RetailPerformance(context.Background(), Query{AsOf: jan25})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Rows[0].MTDWhatsappTrx)
}

// =============================================================================
// QUERY RESOLUTION & FILTERS
// =============================================================================

func TestQuery_LatestAsOfAndExplicitStart(t *testing.T) {
	e, _ := newTestEngine(t, consistencyLines()...)
	ctx := context.Background()

	w, err := e.Window(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-10", w.AsOf.String(), "latest invoice date")

	start := sales.NewDate(2026, time.January, 11)
	_, err = e.Window(ctx, Query{AsOf: jan10, Start: &start})
	assert.ErrorIs(t, err, sales.ErrInvalidWindow)
}

func TestQuery_FiltersApplyToEveryView(t *testing.T) {
	e, mem := newTestEngine(t,
		line("A", jan10, sales.LocationPalladium, sales.TypeInvoice, 1, "100"),
		line("B", jan10, sales.LocationMOA, sales.TypeInvoice, 1, "200", brand("Other")),
	)
	ctx := context.Background()
	_, err := mem.UpsertEfficiency(ctx, []sales.EfficiencyRecord{
		{LocationName: sales.LocationMOA, ReportDate: jan10, Footfall: 10},
	})
	require.NoError(t, err)

	ov, err := e.Overview(ctx, Query{AsOf: jan25, Filter: Filter{Locations: []string{sales.LocationPalladium}}})
	require.NoError(t, err)
	require.Len(t, ov.RetailOmniTotal, 1)
	assert.Equal(t, sales.LocationPalladium, ov.RetailOmniTotal[0].Location)
	require.Len(t, ov.RetailEfficiency, 1, "efficiency reports honour the location filter")

	ov, err = e.Overview(ctx, Query{AsOf: jan25, Filter: Filter{Brands: []string{"Other"}}})
	require.NoError(t, err)
	require.Len(t, ov.RetailPerformance, 1)
	assert.Equal(t, sales.LocationMOA, ov.RetailPerformance[0].Location)
}

func TestLookups(t *testing.T) {
	e, _ := newTestEngine(t,
		line("A", jan10, sales.LocationWebstore, sales.TypeInvoice, 1, "100"),
		line("B", dec10, sales.LocationMOA, sales.TypeInvoice, 1, "200", brand("Other")),
		line("C", dec10, sales.LocationPalladium, sales.TypeInvoice, 1, "200"),
	)

	lk, err := e.Lookups(context.Background(), Filter{Brands: []string{"Jacadi"}})
	require.NoError(t, err)
	assert.Equal(t, []string{sales.LocationPalladium, sales.LocationWebstore}, lk.Locations)
	assert.Equal(t, []string{"Jacadi", "Other"}, lk.Brands)
	assert.Equal(t, []string{"Apparel"}, lk.Categories)
	require.NotNil(t, lk.LatestInvoiceDate)
	assert.Equal(t, "2026-01-10", lk.LatestInvoiceDate.String())
}

// =============================================================================
// EXPORT
// =============================================================================

func TestWriteWorkbook(t *testing.T) {
	e, _ := newTestEngine(t, consistencyLines()...)
	ov, err := e.Overview(context.Background(), Query{AsOf: jan25})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, ov))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Retail Performance", "Retail Efficiency", "Omni Channel", "Whatsapp", "Retail + Omni"},
		f.GetSheetList())
	rows, err := f.GetRows("Retail + Omni")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Location", rows[0][0])
	assert.Equal(t, sales.LocationPalladium, rows[1][0])
	assert.Equal(t, "3800", rows[1][1])
}
