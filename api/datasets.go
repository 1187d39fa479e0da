/*
datasets.go - Demo datasets for development and demonstrations

PURPOSE:
  Provides pre-built datasets that populate the store with realistic exports
  for the current and previous month. Every dataset goes through the real
  ingestors (normalizer, classifier, reconciliation), exactly as an uploaded
  file would, so loading one twice leaves the store unchanged.

AVAILABLE DATASETS:
  two-stores:         Palladium, MOA and the webstore, with footfall counters
  whatsapp-assisted:  Store sales closed over Whatsapp by named salespeople
  efficiency-report:  No counter data; conversion falls back to the report
  returns:            Sales returns and credit notes netting against sales

HOW DATASETS WORK:
 1. Dates are laid out relative to the reference day (today)
 2. Each file is built as rows in the export's own header layout
 3. Files are ingested through the matching ingestor

USAGE VIA API:
  POST /api/datasets/load
  {"dataset_id": "two-stores"}

NOTE:
  Routes are mounted only when demo routes are enabled.

SEE ALSO:
  - handlers.go: Other ingestion endpoints
  - etl/ingestor.go: Reconciliation
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/warp/retail-dsr/etl"
	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// DATASET DEFINITIONS
// =============================================================================

var invoiceColumns = []string{
	"Invoice No", "Invoice Date", "Sales Transaction Type (IV/SR/IR)", "Order Associate Name",
	"Invoice Associate Name", "Total Sales Qty", "Nett Invoice Value", "Sales Person Name",
	"Brand Name", "Category Name", "MH1 Description", "Product SKU Desc",
}

var footfallColumns = []string{"Date", "Store Name", "Hour", "Total IN"}

var efficiencyColumns = []string{
	"Location", "MTD Footfall", "MTD Conversion %", "MTD Multies",
	"PM Footfall", "PM Conversion %", "PM Multies",
}

type datasetFile struct {
	name       string
	kind       sales.SourceKind
	header     []string
	rows       [][]string
	reportDate sales.Date
}

type dataset struct {
	DatasetDTO
	build func(ref sales.Date) []datasetFile
}

var datasets = []dataset{
	{
		DatasetDTO: DatasetDTO{
			ID:          "two-stores",
			Name:        "Two Stores and Webstore",
			Description: "Palladium and MOA walk-in sales with hourly footfall, plus webstore orders",
		},
		build: buildTwoStores,
	},
	{
		DatasetDTO: DatasetDTO{
			ID:          "whatsapp-assisted",
			Name:        "Whatsapp Assisted",
			Description: "Store invoices closed over Whatsapp, attributed by salesperson name",
		},
		build: buildWhatsapp,
	},
	{
		DatasetDTO: DatasetDTO{
			ID:          "efficiency-report",
			Name:        "Efficiency Report Fallback",
			Description: "Sales without counter data; footfall comes from the efficiency report",
		},
		build: buildEfficiencyReport,
	},
	{
		DatasetDTO: DatasetDTO{
			ID:          "returns",
			Name:        "Returns and Credit Notes",
			Description: "Sales returns and credit notes netting against the month's sales",
		},
		build: buildReturns,
	},
}

func findDataset(id string) (dataset, bool) {
	for _, d := range datasets {
		if d.ID == id {
			return d, true
		}
	}
	return dataset{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListDatasets returns the available demo datasets.
// GET /api/datasets
func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	out := make([]DatasetDTO, len(datasets))
	for i, d := range datasets {
		out[i] = d.DatasetDTO
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentDataset returns the last dataset loaded by this process.
// GET /api/datasets/current
func (h *Handler) GetCurrentDataset(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentDataset
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"dataset_id": current})
}

// LoadDataset ingests a demo dataset.
// POST /api/datasets/load
func (h *Handler) LoadDataset(w http.ResponseWriter, r *http.Request) {
	var req LoadDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ds, ok := findDataset(req.DatasetID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown dataset", fmt.Errorf("dataset %q", req.DatasetID))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.IngestTimeout)
	defer cancel()

	results, err := h.loadDataset(ctx, ds, sales.DateOf(h.now()))
	if err != nil {
		h.writeFailure(w, "Failed to load dataset", err)
		return
	}

	h.mu.Lock()
	h.currentDataset = ds.ID
	h.mu.Unlock()

	h.log().WithField("dataset", ds.ID).Info("demo dataset loaded")
	writeJSON(w, http.StatusOK, LoadDatasetResponse{DatasetID: ds.ID, Results: results})
}

func (h *Handler) loadDataset(ctx context.Context, ds dataset, ref sales.Date) ([]IngestResponse, error) {
	var results []IngestResponse
	for _, f := range ds.build(ref) {
		rows := etl.NewSliceReader(f.header, f.rows)

		var (
			res etl.Result
			err error
		)
		switch f.kind {
		case sales.SourceInvoices:
			res, err = h.Runner.Invoices.Ingest(ctx, f.name, rows)
		case sales.SourceFootfall:
			res, err = h.Runner.Footfall.Ingest(ctx, f.name, rows)
		case sales.SourceEfficiency:
			res, err = h.Runner.Efficiency.Ingest(ctx, f.name, f.reportDate, rows)
		}
		if err != nil {
			return results, fmt.Errorf("%s: %w", f.name, err)
		}
		results = append(results, toIngestResponse(res))
	}
	return results, nil
}

func (h *Handler) now() time.Time {
	if h.Engine != nil && h.Engine.Now != nil {
		return h.Engine.Now()
	}
	return time.Now()
}

// =============================================================================
// DATASET BUILDERS
// =============================================================================

const (
	palladiumAssociate = "JACADI PALLADIUM"
	moaAssociate       = "JACADI MALL OF ASIA"
	webstoreOrder      = "Shopify Webstore"
)

// days returns the days of [p.Start, p.End] stepping by step. p.End is always
// included so the latest invoice date lands on the reference day.
func days(p sales.Period, step int) []sales.Date {
	var out []sales.Date
	for d := p.Start; d.BeforeOrEqual(p.End); d = d.AddDays(step) {
		out = append(out, d)
	}
	if len(out) > 0 && !out[len(out)-1].Equal(p.End) {
		out = append(out, p.End)
	}
	return out
}

func dmy(d sales.Date) string { return d.Time.Format("02/01/2006") }

// monthsAround returns the month to date of ref and the whole previous month.
func monthsAround(ref sales.Date) (current, previous sales.Period) {
	current = sales.Period{Start: ref.StartOfMonth(), End: ref}
	prevStart := ref.StartOfMonth().AddMonths(-1)
	previous = sales.Period{Start: prevStart, End: ref.StartOfMonth().AddDays(-1)}
	return current, previous
}

type invoiceSpec struct {
	no, store, order, salesPerson string
	date                          sales.Date
	typ                           string
	items                         []item
}

type item struct {
	qty  int
	nett int
	sku  string
}

func (s invoiceSpec) rows() [][]string {
	var out [][]string
	for _, it := range s.items {
		out = append(out, []string{
			s.no, dmy(s.date), s.typ, s.order, s.store,
			strconv.Itoa(it.qty), strconv.Itoa(it.nett), s.salesPerson,
			"Jacadi", "Apparel", sales.LineCategorySales, it.sku,
		})
	}
	return out
}

func invoiceFile(name string, specs []invoiceSpec) datasetFile {
	f := datasetFile{name: name, kind: sales.SourceInvoices, header: invoiceColumns}
	for _, s := range specs {
		f.rows = append(f.rows, s.rows()...)
	}
	return f
}

func buildTwoStores(ref sales.Date) []datasetFile {
	current, previous := monthsAround(ref)

	var specs []invoiceSpec
	var footfall [][]string
	n := 0
	for _, p := range []sales.Period{previous, current} {
		for i, d := range days(p, 1) {
			n++
			specs = append(specs,
				invoiceSpec{
					no: fmt.Sprintf("PAL-%05d", n), store: palladiumAssociate, date: d, typ: "IV",
					salesPerson: "Asha",
					items:       []item{{1, 2400 + 100*(i%5), "Knit Dress"}, {1, 900, "Socks"}},
				},
				invoiceSpec{
					no: fmt.Sprintf("MOA-%05d", n), store: moaAssociate, date: d, typ: "IV",
					salesPerson: "Ravi",
					items:       []item{{2, 1800 + 50*(i%3), "Cotton Tee"}},
				},
			)
			if i%2 == 0 {
				specs = append(specs, invoiceSpec{
					no: fmt.Sprintf("WEB-%05d", n), store: moaAssociate, order: webstoreOrder, date: d, typ: "IV",
					items: []item{{1, 3100, "Party Dress"}},
				})
			}
			for hour := 11; hour <= 20; hour++ {
				footfall = append(footfall,
					[]string{dmy(d), "Jacadi Palladium", strconv.Itoa(hour), strconv.Itoa(3 + (hour+i)%4)},
					[]string{dmy(d), "JACADI MALL OF ASIA", strconv.Itoa(hour), strconv.Itoa(2 + (hour+i)%3)},
				)
			}
		}
	}

	return []datasetFile{
		invoiceFile("demo_two_stores_invoices.csv", specs),
		{name: "demo_two_stores_footfall.csv", kind: sales.SourceFootfall, header: footfallColumns, rows: footfall},
	}
}

func buildWhatsapp(ref sales.Date) []datasetFile {
	current, previous := monthsAround(ref)

	var specs []invoiceSpec
	n := 0
	for _, p := range []sales.Period{previous, current} {
		for i, d := range days(p, 3) {
			n++
			specs = append(specs,
				invoiceSpec{
					no: fmt.Sprintf("WA-PAL-%05d", n), store: palladiumAssociate, date: d, typ: "IV",
					salesPerson: "Whatsapp Meera",
					items:       []item{{1, 4200, "Gift Set"}},
				},
				invoiceSpec{
					no: fmt.Sprintf("WA-MOA-%05d", n), store: moaAssociate, date: d, typ: "IV",
					salesPerson: "Sana (WhatsApp)",
					items:       []item{{2, 2600 + 100*(i%4), "Romper"}},
				},
			)
		}
	}
	return []datasetFile{invoiceFile("demo_whatsapp_invoices.csv", specs)}
}

func buildEfficiencyReport(ref sales.Date) []datasetFile {
	current, previous := monthsAround(ref)

	var specs []invoiceSpec
	n := 0
	for _, p := range []sales.Period{previous, current} {
		for _, d := range days(p, 2) {
			n++
			specs = append(specs, invoiceSpec{
				no: fmt.Sprintf("EFF-%05d", n), store: palladiumAssociate, date: d, typ: "IV",
				salesPerson: "Asha",
				items:       []item{{1, 3500, "Cardigan"}, {2, 1200, "Leggings"}},
			})
		}
	}

	report := datasetFile{
		name:       fmt.Sprintf("efficiency_%s.csv", ref.String()),
		kind:       sales.SourceEfficiency,
		header:     efficiencyColumns,
		reportDate: ref,
		rows: [][]string{
			{"Jacadi Palladium", "1,250", "9.5%", "32%", "1,480", "10.1%", "30%"},
			{"JACADI MALL OF ASIA", "1,020", "8.0%", "28%", "1,150", "8.4%", "27%"},
			{"Total", "2,270", "", "", "2,630", "", ""},
		},
	}
	return []datasetFile{invoiceFile("demo_efficiency_invoices.csv", specs), report}
}

func buildReturns(ref sales.Date) []datasetFile {
	current, _ := monthsAround(ref)

	var specs []invoiceSpec
	for i, d := range days(current, 2) {
		specs = append(specs, invoiceSpec{
			no: fmt.Sprintf("RT-IV-%05d", i+1), store: moaAssociate, date: d, typ: "IV",
			salesPerson: "Ravi",
			items:       []item{{1, 2800, "Jacket"}, {1, 700, "Cap"}},
		})
		if i%3 == 1 {
			specs = append(specs, invoiceSpec{
				no: fmt.Sprintf("RT-SR-%05d", i+1), store: moaAssociate, date: d, typ: "SR",
				salesPerson: "Ravi",
				items:       []item{{-1, -2800, "Jacket"}},
			})
		}
		if i%4 == 2 {
			specs = append(specs, invoiceSpec{
				no: fmt.Sprintf("RT-CN-%05d", i+1), store: palladiumAssociate, date: d, typ: "CN",
				salesPerson: "Asha",
				items:       []item{{0, -500, "Goodwill"}},
			})
		}
	}
	return []datasetFile{invoiceFile("demo_returns_invoices.csv", specs)}
}
