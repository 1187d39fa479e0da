package metrics

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/retail-dsr/reporting"
	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// SNAPSHOT - One consistent read of lines, footfall and efficiency
// =============================================================================

// Snapshot holds the collapsed invoices and footfall for one query. Every
// view method is a pure function of the snapshot.
type Snapshot struct {
	Window     reporting.Window
	Invoices   []Invoice
	Footfall   []sales.FootfallRecord
	Efficiency map[string]sales.EfficiencyRecord
}

func newSnapshot(w reporting.Window, invoices []Invoice, footfall []sales.FootfallRecord,
	efficiency []sales.EfficiencyRecord, locations []string) *Snapshot {
	allowed := make(map[string]bool, len(locations))
	for _, l := range locations {
		allowed[l] = true
	}
	eff := make(map[string]sales.EfficiencyRecord, len(efficiency))
	for _, r := range efficiency {
		if len(allowed) > 0 && !allowed[r.LocationName] {
			continue
		}
		eff[r.LocationName] = r
	}
	return &Snapshot{Window: w, Invoices: invoices, Footfall: footfall, Efficiency: eff}
}

// NewSnapshot builds a snapshot from already loaded data.
func NewSnapshot(w reporting.Window, invoices []Invoice, footfall []sales.FootfallRecord, efficiency []sales.EfficiencyRecord) *Snapshot {
	return newSnapshot(w, invoices, footfall, efficiency, nil)
}

// periodBuckets holds one location's totals for each comparison window.
type periodBuckets struct {
	MTD, PM, YTD, PY Bucket
}

// group buckets included invoices per location and window. Locations appear
// only when at least one included invoice falls in some window.
func (s *Snapshot) group(include func(Invoice) bool) ([]string, map[string]*periodBuckets) {
	w := s.Window
	byLoc := make(map[string]*periodBuckets)
	for _, inv := range s.Invoices {
		if include != nil && !include(inv) {
			continue
		}
		mtd := w.Current.Contains(inv.Date)
		pm := w.PriorMonth.Contains(inv.Date)
		ytd := w.FiscalYTD.Contains(inv.Date)
		py := w.PriorYear.Contains(inv.Date)
		if !mtd && !pm && !ytd && !py {
			continue
		}
		pb := byLoc[inv.Location()]
		if pb == nil {
			pb = &periodBuckets{}
			byLoc[inv.Location()] = pb
		}
		if mtd {
			pb.MTD.Add(inv)
		}
		if pm {
			pb.PM.Add(inv)
		}
		if ytd {
			pb.YTD.Add(inv)
		}
		if py {
			pb.PY.Add(inv)
		}
	}
	return sortedLocations(byLoc), byLoc
}

func sortedLocations[V any](m map[string]V) []string {
	locs := make([]string, 0, len(m))
	for l := range m {
		locs = append(locs, l)
	}
	sort.Slice(locs, func(i, j int) bool { return sales.LessLocation(locs[i], locs[j]) })
	return locs
}

func isECommerce(inv Invoice) bool { return inv.Channel == sales.ChannelECommerce }

func isBrickAndMortar(inv Invoice) bool { return inv.Channel != sales.ChannelECommerce }

// =============================================================================
// RETAIL PERFORMANCE - Retail vs Whatsapp split per location
// =============================================================================

type RetailPerformanceRow struct {
	Location        string
	MTDSale         decimal.Decimal
	MTDRetailSale   decimal.Decimal
	MTDWhatsappSale decimal.Decimal
	MTDTrx          int
	MTDRetailTrx    int
	MTDWhatsappTrx  int
	MTDQty          int
	PMSale          decimal.Decimal
	PMRetailSale    decimal.Decimal
	PMWhatsappSale  decimal.Decimal
	PMTrx           int
	PMRetailTrx     int
	PMWhatsappTrx   int
	PMQty           int
	YTDSale         decimal.Decimal
	YTDTrx          int
}

func (s *Snapshot) RetailPerformance() []RetailPerformanceRow {
	locs, byLoc := s.group(nil)
	rows := make([]RetailPerformanceRow, 0, len(locs))
	for _, loc := range locs {
		b := byLoc[loc]
		rows = append(rows, RetailPerformanceRow{
			Location:        loc,
			MTDSale:         b.MTD.Sale,
			MTDRetailSale:   b.MTD.RetailSale,
			MTDWhatsappSale: b.MTD.WhatsappSale,
			MTDTrx:          b.MTD.Trx,
			MTDRetailTrx:    b.MTD.RetailTrx,
			MTDWhatsappTrx:  b.MTD.WhatsappTrx,
			MTDQty:          b.MTD.Units,
			PMSale:          b.PM.Sale,
			PMRetailSale:    b.PM.RetailSale,
			PMWhatsappSale:  b.PM.WhatsappSale,
			PMTrx:           b.PM.Trx,
			PMRetailTrx:     b.PM.RetailTrx,
			PMWhatsappTrx:   b.PM.WhatsappTrx,
			PMQty:           b.PM.Units,
			YTDSale:         b.YTD.Sale,
			YTDTrx:          b.YTD.Trx,
		})
	}
	return rows
}

// =============================================================================
// RETAIL EFFICIENCY - Conversion, ATV, basket, multies for physical stores
// =============================================================================

// FootfallSource says where a footfall figure came from.
type FootfallSource string

const (
	FootfallCounter FootfallSource = "counter" // summed daily counter records
	FootfallReport  FootfallSource = "report"  // efficiency report fallback
	FootfallNone    FootfallSource = "none"
)

// Efficiency holds the efficiency figures of one window and the raw counts
// they derive from.
type Efficiency struct {
	Footfall       int
	FootfallSource FootfallSource
	ConversionPct  decimal.Decimal
	ATV            decimal.Decimal
	BasketSize     decimal.Decimal
	MultiesPct     decimal.Decimal
	Sale           decimal.Decimal
	Trx            int
	Returns        int
	Units          int
	MultiTrx       int
}

type RetailEfficiencyRow struct {
	Location string
	MTD      Efficiency
	PM       Efficiency
}

func newEfficiency(b Bucket, footfall int, src FootfallSource) Efficiency {
	return Efficiency{
		Footfall:       footfall,
		FootfallSource: src,
		ConversionPct:  b.ConversionPct(footfall),
		ATV:            b.ATV(),
		BasketSize:     b.BasketSize(),
		MultiesPct:     b.MultiesPct(),
		Sale:           b.Sale,
		Trx:            b.Trx,
		Returns:        b.Returns,
		Units:          b.Units,
		MultiTrx:       b.MultiTrx,
	}
}

// footfallTotals sums counter records per location for the current and
// prior-month windows.
func (s *Snapshot) footfallTotals() (mtd, pm map[string]int) {
	mtd, pm = make(map[string]int), make(map[string]int)
	for _, r := range s.Footfall {
		if s.Window.Current.Contains(r.Date) {
			mtd[r.LocationName] += r.Count
		}
		if s.Window.PriorMonth.Contains(r.Date) {
			pm[r.LocationName] += r.Count
		}
	}
	return mtd, pm
}

// resolveFootfall prefers counter totals, falling back to the latest
// efficiency report in the current window.
func resolveFootfall(counted int, reported int, hasReport bool) (int, FootfallSource) {
	switch {
	case counted > 0:
		return counted, FootfallCounter
	case hasReport && reported > 0:
		return reported, FootfallReport
	}
	return 0, FootfallNone
}

// RetailEfficiency covers physical-store invoices only. Locations with
// footfall but no sales still get a row.
func (s *Snapshot) RetailEfficiency() []RetailEfficiencyRow {
	_, byLoc := s.group(isBrickAndMortar)
	mtdFootfall, pmFootfall := s.footfallTotals()

	all := make(map[string]bool, len(byLoc))
	for loc := range byLoc {
		all[loc] = true
	}
	for loc, n := range mtdFootfall {
		if n > 0 {
			all[loc] = true
		}
	}
	for loc, rec := range s.Efficiency {
		if rec.Footfall > 0 {
			all[loc] = true
		}
	}

	rows := make([]RetailEfficiencyRow, 0, len(all))
	for _, loc := range sortedLocations(all) {
		var b periodBuckets
		if pb := byLoc[loc]; pb != nil {
			b = *pb
		}
		rec, hasReport := s.Efficiency[loc]
		mtdN, mtdSrc := resolveFootfall(mtdFootfall[loc], rec.Footfall, hasReport)
		pmN, pmSrc := resolveFootfall(pmFootfall[loc], rec.PMFootfall, hasReport)
		rows = append(rows, RetailEfficiencyRow{
			Location: loc,
			MTD:      newEfficiency(b.MTD, mtdN, mtdSrc),
			PM:       newEfficiency(b.PM, pmN, pmSrc),
		})
	}
	return rows
}

// =============================================================================
// OMNI-CHANNEL - E-Commerce invoices only
// =============================================================================

type OmniChannelRow struct {
	Location      string
	MTDSale       decimal.Decimal
	PMSale        decimal.Decimal
	MTDTrx        int
	PMTrx         int
	MTDUnits      int
	PMUnits       int
	SaleGrowthPct decimal.Decimal
}

// OmniChannelTmLm compares this month with last month for online orders.
func (s *Snapshot) OmniChannelTmLm() []OmniChannelRow {
	locs, byLoc := s.group(isECommerce)
	rows := make([]OmniChannelRow, 0, len(locs))
	for _, loc := range locs {
		b := byLoc[loc]
		rows = append(rows, OmniChannelRow{
			Location:      loc,
			MTDSale:       b.MTD.Sale,
			PMSale:        b.PM.Sale,
			MTDTrx:        b.MTD.Trx,
			PMTrx:         b.PM.Trx,
			MTDUnits:      b.MTD.Units,
			PMUnits:       b.PM.Units,
			SaleGrowthPct: growth(b.MTD.Sale, b.PM.Sale),
		})
	}
	return rows
}

type OmniChannelDetailRow struct {
	Location      string
	MTDATV        decimal.Decimal
	PMATV         decimal.Decimal
	MTDBasketSize decimal.Decimal
	PMBasketSize  decimal.Decimal
	MTDMultiesPct decimal.Decimal
	PMMultiesPct  decimal.Decimal
	MTDReturns    int
	PMReturns     int
}

func (s *Snapshot) OmniChannelDetails() []OmniChannelDetailRow {
	locs, byLoc := s.group(isECommerce)
	rows := make([]OmniChannelDetailRow, 0, len(locs))
	for _, loc := range locs {
		b := byLoc[loc]
		rows = append(rows, OmniChannelDetailRow{
			Location:      loc,
			MTDATV:        b.MTD.ATV(),
			PMATV:         b.PM.ATV(),
			MTDBasketSize: b.MTD.BasketSize(),
			PMBasketSize:  b.PM.BasketSize(),
			MTDMultiesPct: b.MTD.MultiesPct(),
			PMMultiesPct:  b.PM.MultiesPct(),
			MTDReturns:    b.MTD.Returns,
			PMReturns:     b.PM.Returns,
		})
	}
	return rows
}

// growth is 100 × (cur − prev) / prev, or 0 without a prior figure.
func growth(cur, prev decimal.Decimal) decimal.Decimal {
	if prev.IsZero() {
		return decimal.Zero
	}
	return cur.Sub(prev).Mul(hundred).Div(prev).Round(2)
}

// =============================================================================
// WHATSAPP BREAKDOWN - Assisted share of physical stores
// =============================================================================

type WhatsappBreakdownRow struct {
	Location         string
	MTDRetailSale    decimal.Decimal
	MTDWhatsappSale  decimal.Decimal
	MTDWhatsappTrx   int
	PMRetailSale     decimal.Decimal
	PMWhatsappSale   decimal.Decimal
	PMWhatsappTrx    int
	MTDWhatsappShare decimal.Decimal
}

// WhatsappBreakdown excludes the webstore, whose sales are all assisted by
// definition.
func (s *Snapshot) WhatsappBreakdown() []WhatsappBreakdownRow {
	locs, byLoc := s.group(func(inv Invoice) bool { return inv.Location() != sales.LocationWebstore })
	rows := make([]WhatsappBreakdownRow, 0, len(locs))
	for _, loc := range locs {
		b := byLoc[loc]
		rows = append(rows, WhatsappBreakdownRow{
			Location:         loc,
			MTDRetailSale:    b.MTD.RetailSale,
			MTDWhatsappSale:  b.MTD.WhatsappSale,
			MTDWhatsappTrx:   b.MTD.WhatsappTrx,
			PMRetailSale:     b.PM.RetailSale,
			PMWhatsappSale:   b.PM.WhatsappSale,
			PMWhatsappTrx:    b.PM.WhatsappTrx,
			MTDWhatsappShare: share(b.MTD.WhatsappSale, b.MTD.Sale),
		})
	}
	return rows
}

func share(part, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(total).Round(2)
}

// =============================================================================
// RETAIL + OMNI TOTAL
// =============================================================================

type RetailOmniTotalRow struct {
	Location string
	MTDSale  decimal.Decimal
	PMSale   decimal.Decimal
	YTDSale  decimal.Decimal
	PYSale   decimal.Decimal
	MTDTrx   int
	PMTrx    int
	YTDTrx   int
	PYTrx    int
	MTDATV   decimal.Decimal
	PMATV    decimal.Decimal
}

func (s *Snapshot) RetailOmniTotal() []RetailOmniTotalRow {
	locs, byLoc := s.group(nil)
	rows := make([]RetailOmniTotalRow, 0, len(locs))
	for _, loc := range locs {
		b := byLoc[loc]
		rows = append(rows, RetailOmniTotalRow{
			Location: loc,
			MTDSale:  b.MTD.Sale,
			PMSale:   b.PM.Sale,
			YTDSale:  b.YTD.Sale,
			PYSale:   b.PY.Sale,
			MTDTrx:   b.MTD.Trx,
			PMTrx:    b.PM.Trx,
			YTDTrx:   b.YTD.Trx,
			PYTrx:    b.PY.Trx,
			MTDATV:   b.MTD.ATV(),
			PMATV:    b.PM.ATV(),
		})
	}
	return rows
}

// =============================================================================
// SUMMARY & OVERVIEW
// =============================================================================

// Summary is the dashboard headline across every filtered location.
type Summary struct {
	Window          reporting.Window
	Locations       int
	Revenue         decimal.Decimal
	Transactions    int
	Units           int
	ATV             decimal.Decimal
	BasketSize      decimal.Decimal
	WhatsappRevenue decimal.Decimal
	PMRevenue       decimal.Decimal
	PMTransactions  int
	PMATV           decimal.Decimal
	YTDRevenue      decimal.Decimal
	RevenueGrowth   decimal.Decimal
}

func (s *Snapshot) Summary() Summary {
	_, byLoc := s.group(nil)
	var mtd, pm, ytd Bucket
	active := 0
	for _, b := range byLoc {
		mtd.Merge(b.MTD)
		pm.Merge(b.PM)
		ytd.Merge(b.YTD)
		if b.MTD.Invoices > 0 {
			active++
		}
	}
	return Summary{
		Window:          s.Window,
		Locations:       active,
		Revenue:         mtd.Sale,
		Transactions:    mtd.Trx,
		Units:           mtd.Units,
		ATV:             mtd.ATV(),
		BasketSize:      mtd.BasketSize(),
		WhatsappRevenue: mtd.WhatsappSale,
		PMRevenue:       pm.Sale,
		PMTransactions:  pm.Trx,
		PMATV:           pm.ATV(),
		YTDRevenue:      ytd.Sale,
		RevenueGrowth:   growth(mtd.Sale, pm.Sale),
	}
}

// Overview is every view of one snapshot.
type Overview struct {
	Window             reporting.Window
	Summary            Summary
	RetailPerformance  []RetailPerformanceRow
	RetailEfficiency   []RetailEfficiencyRow
	OmniChannelTmLm    []OmniChannelRow
	OmniChannelDetails []OmniChannelDetailRow
	WhatsappBreakdown  []WhatsappBreakdownRow
	RetailOmniTotal    []RetailOmniTotalRow
}

func (s *Snapshot) Overview() *Overview {
	return &Overview{
		Window:             s.Window,
		Summary:            s.Summary(),
		RetailPerformance:  s.RetailPerformance(),
		RetailEfficiency:   s.RetailEfficiency(),
		OmniChannelTmLm:    s.OmniChannelTmLm(),
		OmniChannelDetails: s.OmniChannelDetails(),
		WhatsappBreakdown:  s.WhatsappBreakdown(),
		RetailOmniTotal:    s.RetailOmniTotal(),
	}
}
