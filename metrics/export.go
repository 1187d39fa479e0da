package metrics

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// XLSX EXPORT
// =============================================================================

// sheet is one worksheet of the export: a header row plus data rows.
type sheet struct {
	name   string
	header []any
	rows   [][]any
}

func num(d decimal.Decimal) float64 { return d.InexactFloat64() }

// WriteWorkbook renders an overview as an XLSX workbook, one sheet per view.
func WriteWorkbook(w io.Writer, ov *Overview) error {
	f := excelize.NewFile()
	defer f.Close()

	sheets := overviewSheets(ov)
	first := f.GetSheetName(0)
	if err := f.SetSheetName(first, sheets[0].name); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	for i, s := range sheets {
		if i > 0 {
			if _, err := f.NewSheet(s.name); err != nil {
				return fmt.Errorf("sheet %s: %w", s.name, err)
			}
		}
		if err := f.SetSheetRow(s.name, "A1", &s.header); err != nil {
			return fmt.Errorf("sheet %s header: %w", s.name, err)
		}
		last, err := excelize.CoordinatesToCellName(len(s.header), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(s.name, "A1", last, bold); err != nil {
			return fmt.Errorf("sheet %s style: %w", s.name, err)
		}
		for r, row := range s.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(s.name, cell, &row); err != nil {
				return fmt.Errorf("sheet %s row %d: %w", s.name, r+2, err)
			}
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func overviewSheets(ov *Overview) []sheet {
	wnd := ov.Window
	s := ov.Summary

	summary := sheet{
		name:   "Summary",
		header: []any{"Metric", "Value"},
		rows: [][]any{
			{"As Of", wnd.AsOf.String()},
			{"Current Window", wnd.Current.String()},
			{"Prior Month Window", wnd.PriorMonth.String()},
			{"Fiscal YTD Window", wnd.FiscalYTD.String()},
			{"Locations", s.Locations},
			{"MTD Sale", num(s.Revenue)},
			{"MTD Trx", s.Transactions},
			{"MTD Units", s.Units},
			{"MTD ATV", num(s.ATV)},
			{"MTD Basket Size", num(s.BasketSize)},
			{"MTD Whatsapp Sale", num(s.WhatsappRevenue)},
			{"PM Sale", num(s.PMRevenue)},
			{"PM Trx", s.PMTransactions},
			{"PM ATV", num(s.PMATV)},
			{"YTD Sale", num(s.YTDRevenue)},
			{"Growth %", num(s.RevenueGrowth)},
		},
	}

	perf := sheet{name: "Retail Performance", header: []any{
		"Location", "MTD Retail Sale", "MTD Whatsapp Sale", "MTD Sale", "MTD Retail Trx", "MTD Whatsapp Trx",
		"MTD Qty", "PM Retail Sale", "PM Whatsapp Sale", "PM Sale", "PM Trx", "PM Qty", "YTD Sale", "YTD Trx",
	}}
	for _, r := range ov.RetailPerformance {
		perf.rows = append(perf.rows, []any{
			r.Location, num(r.MTDRetailSale), num(r.MTDWhatsappSale), num(r.MTDSale), r.MTDRetailTrx, r.MTDWhatsappTrx,
			r.MTDQty, num(r.PMRetailSale), num(r.PMWhatsappSale), num(r.PMSale), r.PMTrx, r.PMQty, num(r.YTDSale), r.YTDTrx,
		})
	}

	eff := sheet{name: "Retail Efficiency", header: []any{
		"Location", "MTD Footfall", "MTD Conversion %", "MTD ATV", "MTD Basket Size", "MTD Multies %",
		"PM Footfall", "PM Conversion %", "PM ATV", "PM Basket Size", "PM Multies %",
	}}
	for _, r := range ov.RetailEfficiency {
		eff.rows = append(eff.rows, []any{
			r.Location, r.MTD.Footfall, num(r.MTD.ConversionPct), num(r.MTD.ATV), num(r.MTD.BasketSize), num(r.MTD.MultiesPct),
			r.PM.Footfall, num(r.PM.ConversionPct), num(r.PM.ATV), num(r.PM.BasketSize), num(r.PM.MultiesPct),
		})
	}

	omni := sheet{name: "Omni Channel", header: []any{
		"Location", "MTD Sale", "PM Sale", "MTD Trx", "PM Trx", "MTD Units", "PM Units", "Growth %",
		"MTD ATV", "PM ATV", "MTD Basket Size", "PM Basket Size",
	}}
	details := make(map[string]OmniChannelDetailRow, len(ov.OmniChannelDetails))
	for _, d := range ov.OmniChannelDetails {
		details[d.Location] = d
	}
	for _, r := range ov.OmniChannelTmLm {
		d := details[r.Location]
		omni.rows = append(omni.rows, []any{
			r.Location, num(r.MTDSale), num(r.PMSale), r.MTDTrx, r.PMTrx, r.MTDUnits, r.PMUnits, num(r.SaleGrowthPct),
			num(d.MTDATV), num(d.PMATV), num(d.MTDBasketSize), num(d.PMBasketSize),
		})
	}

	wa := sheet{name: "Whatsapp", header: []any{
		"Location", "MTD Retail Sale", "MTD Whatsapp Sale", "MTD Whatsapp Trx", "MTD Whatsapp %",
		"PM Retail Sale", "PM Whatsapp Sale", "PM Whatsapp Trx",
	}}
	for _, r := range ov.WhatsappBreakdown {
		wa.rows = append(wa.rows, []any{
			r.Location, num(r.MTDRetailSale), num(r.MTDWhatsappSale), r.MTDWhatsappTrx, num(r.MTDWhatsappShare),
			num(r.PMRetailSale), num(r.PMWhatsappSale), r.PMWhatsappTrx,
		})
	}

	total := sheet{name: "Retail + Omni", header: []any{
		"Location", "MTD Sale", "PM Sale", "YTD Sale", "PY Sale", "MTD Trx", "PM Trx", "YTD Trx", "PY Trx", "MTD ATV", "PM ATV",
	}}
	for _, r := range ov.RetailOmniTotal {
		total.rows = append(total.rows, []any{
			r.Location, num(r.MTDSale), num(r.PMSale), num(r.YTDSale), num(r.PYSale),
			r.MTDTrx, r.PMTrx, r.YTDTrx, r.PYTrx, num(r.MTDATV), num(r.PMATV),
		})
	}

	return []sheet{summary, perf, eff, omni, wa, total}
}
