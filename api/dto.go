/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain rows carry
  decimal.Decimal amounts; DTOs flatten them to float64 so the dashboard can
  chart them directly. Amounts are already rounded to 2 dp by the engine.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers pairing rows with the window they were computed for

TYPES:
  Views:
    RetailPerformanceDTO, RetailEfficiencyDTO, OmniChannelDTO,
    OmniChannelDetailDTO, WhatsappBreakdownDTO, RetailOmniTotalDTO,
    SummaryDTO, OverviewDTO

  Ingestion:
    RunDTO, IngestResponse, DirectoryRunResponse

  Lookups:
    LookupsDTO

  Datasets:
    DatasetDTO, LoadDatasetRequest

SEE ALSO:
  - handlers.go: Uses these types
  - metrics/views.go: Row types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/retail-dsr/etl"
	"github.com/warp/retail-dsr/metrics"
	"github.com/warp/retail-dsr/reporting"
	"github.com/warp/retail-dsr/sales"
)

// ViewResponse pairs a view's rows with the window they cover.
type ViewResponse[T any] struct {
	Window reporting.Window `json:"window"`
	Rows   []T              `json:"rows"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// VIEW ROWS
// =============================================================================

type RetailPerformanceDTO struct {
	Location        string  `json:"location"`
	MTDSale         float64 `json:"mtd_sale"`
	MTDRetailSale   float64 `json:"mtd_retail_sale"`
	MTDWhatsappSale float64 `json:"mtd_whatsapp_sale"`
	MTDTrx          int     `json:"mtd_trx"`
	MTDRetailTrx    int     `json:"mtd_retail_trx"`
	MTDWhatsappTrx  int     `json:"mtd_whatsapp_trx"`
	MTDQty          int     `json:"mtd_qty"`
	PMSale          float64 `json:"pm_sale"`
	PMRetailSale    float64 `json:"pm_retail_sale"`
	PMWhatsappSale  float64 `json:"pm_whatsapp_sale"`
	PMTrx           int     `json:"pm_trx"`
	PMRetailTrx     int     `json:"pm_retail_trx"`
	PMWhatsappTrx   int     `json:"pm_whatsapp_trx"`
	PMQty           int     `json:"pm_qty"`
	YTDSale         float64 `json:"ytd_sale"`
	YTDTrx          int     `json:"ytd_trx"`
}

type EfficiencyDTO struct {
	Footfall       int     `json:"footfall"`
	FootfallSource string  `json:"footfall_source"`
	ConversionPct  float64 `json:"conversion_pct"`
	ATV            float64 `json:"atv"`
	BasketSize     float64 `json:"basket_size"`
	MultiesPct     float64 `json:"multies_pct"`
	Sale           float64 `json:"sale"`
	Trx            int     `json:"trx"`
	Returns        int     `json:"returns"`
	Units          int     `json:"units"`
	MultiTrx       int     `json:"multi_trx"`
}

type RetailEfficiencyDTO struct {
	Location string        `json:"location"`
	MTD      EfficiencyDTO `json:"mtd"`
	PM       EfficiencyDTO `json:"pm"`
}

type OmniChannelDTO struct {
	Location      string  `json:"location"`
	MTDSale       float64 `json:"mtd_sale"`
	PMSale        float64 `json:"pm_sale"`
	MTDTrx        int     `json:"mtd_trx"`
	PMTrx         int     `json:"pm_trx"`
	MTDUnits      int     `json:"mtd_units"`
	PMUnits       int     `json:"pm_units"`
	SaleGrowthPct float64 `json:"sale_growth_pct"`
}

type OmniChannelDetailDTO struct {
	Location      string  `json:"location"`
	MTDATV        float64 `json:"mtd_atv"`
	PMATV         float64 `json:"pm_atv"`
	MTDBasketSize float64 `json:"mtd_basket_size"`
	PMBasketSize  float64 `json:"pm_basket_size"`
	MTDMultiesPct float64 `json:"mtd_multies_pct"`
	PMMultiesPct  float64 `json:"pm_multies_pct"`
	MTDReturns    int     `json:"mtd_returns"`
	PMReturns     int     `json:"pm_returns"`
}

type WhatsappBreakdownDTO struct {
	Location         string  `json:"location"`
	MTDRetailSale    float64 `json:"mtd_retail_sale"`
	MTDWhatsappSale  float64 `json:"mtd_whatsapp_sale"`
	MTDWhatsappTrx   int     `json:"mtd_whatsapp_trx"`
	PMRetailSale     float64 `json:"pm_retail_sale"`
	PMWhatsappSale   float64 `json:"pm_whatsapp_sale"`
	PMWhatsappTrx    int     `json:"pm_whatsapp_trx"`
	MTDWhatsappShare float64 `json:"mtd_whatsapp_share"`
}

type RetailOmniTotalDTO struct {
	Location string  `json:"location"`
	MTDSale  float64 `json:"mtd_sale"`
	PMSale   float64 `json:"pm_sale"`
	YTDSale  float64 `json:"ytd_sale"`
	PYSale   float64 `json:"py_sale"`
	MTDTrx   int     `json:"mtd_trx"`
	PMTrx    int     `json:"pm_trx"`
	YTDTrx   int     `json:"ytd_trx"`
	PYTrx    int     `json:"py_trx"`
	MTDATV   float64 `json:"mtd_atv"`
	PMATV    float64 `json:"pm_atv"`
}

type SummaryDTO struct {
	Window          reporting.Window `json:"window"`
	Locations       int              `json:"locations"`
	Revenue         float64          `json:"revenue"`
	Transactions    int              `json:"transactions"`
	Units           int              `json:"units"`
	ATV             float64          `json:"atv"`
	BasketSize      float64          `json:"basket_size"`
	WhatsappRevenue float64          `json:"whatsapp_revenue"`
	PMRevenue       float64          `json:"pm_revenue"`
	PMTransactions  int              `json:"pm_transactions"`
	PMATV           float64          `json:"pm_atv"`
	YTDRevenue      float64          `json:"ytd_revenue"`
	RevenueGrowth   float64          `json:"revenue_growth_pct"`
}

type OverviewDTO struct {
	Window             reporting.Window       `json:"window"`
	Summary            SummaryDTO             `json:"summary"`
	RetailPerformance  []RetailPerformanceDTO `json:"retail_performance"`
	RetailEfficiency   []RetailEfficiencyDTO  `json:"retail_efficiency"`
	OmniChannelTmLm    []OmniChannelDTO       `json:"omni_channel_tm_lm"`
	OmniChannelDetails []OmniChannelDetailDTO `json:"omni_channel_details"`
	WhatsappBreakdown  []WhatsappBreakdownDTO `json:"whatsapp_breakdown"`
	RetailOmniTotal    []RetailOmniTotalDTO   `json:"retail_omni_total"`
}

// =============================================================================
// LOOKUPS, INGESTION, DATASETS
// =============================================================================

type LookupsDTO struct {
	Locations         []string `json:"locations"`
	Brands            []string `json:"brands"`
	Categories        []string `json:"categories"`
	LatestInvoiceDate string   `json:"latest_invoice_date,omitempty"`
}

// RunDTO represents an ingestion run in API responses.
type RunDTO struct {
	ID          string               `json:"id"`
	Source      string               `json:"source"`
	Kind        string               `json:"kind"`
	Status      string               `json:"status"`
	Stats       sales.IngestionStats `json:"stats"`
	Error       string               `json:"error,omitempty"`
	StartedAt   string               `json:"started_at"`
	CompletedAt string               `json:"completed_at,omitempty"`
}

// RowErrorDTO is one skipped row of an ingested file.
type RowErrorDTO struct {
	Line   int    `json:"line"`
	Column string `json:"column,omitempty"`
	Reason string `json:"reason"`
}

type IngestResponse struct {
	RunID     string               `json:"run_id"`
	Source    string               `json:"source"`
	Kind      string               `json:"kind"`
	Status    string               `json:"status"`
	Stats     sales.IngestionStats `json:"stats"`
	RowErrors []RowErrorDTO        `json:"row_errors,omitempty"`
}

type DirectoryRunResponse struct {
	Processed int              `json:"processed"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Results   []IngestResponse `json:"results"`
}

type SchedulerStatusDTO struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
	LastRun  string `json:"last_run,omitempty"`
	NextRun  string `json:"next_run,omitempty"`
}

// DatasetDTO describes a demo dataset.
type DatasetDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadDatasetRequest is the request to load a demo dataset.
type LoadDatasetRequest struct {
	DatasetID string `json:"dataset_id"`
}

type LoadDatasetResponse struct {
	DatasetID string           `json:"dataset_id"`
	Results   []IngestResponse `json:"results"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func num(d decimal.Decimal) float64 { return d.InexactFloat64() }

func formatTimestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func toRetailPerformanceDTOs(rows []metrics.RetailPerformanceRow) []RetailPerformanceDTO {
	out := make([]RetailPerformanceDTO, len(rows))
	for i, r := range rows {
		out[i] = RetailPerformanceDTO{
			Location:        r.Location,
			MTDSale:         num(r.MTDSale),
			MTDRetailSale:   num(r.MTDRetailSale),
			MTDWhatsappSale: num(r.MTDWhatsappSale),
			MTDTrx:          r.MTDTrx,
			MTDRetailTrx:    r.MTDRetailTrx,
			MTDWhatsappTrx:  r.MTDWhatsappTrx,
			MTDQty:          r.MTDQty,
			PMSale:          num(r.PMSale),
			PMRetailSale:    num(r.PMRetailSale),
			PMWhatsappSale:  num(r.PMWhatsappSale),
			PMTrx:           r.PMTrx,
			PMRetailTrx:     r.PMRetailTrx,
			PMWhatsappTrx:   r.PMWhatsappTrx,
			PMQty:           r.PMQty,
			YTDSale:         num(r.YTDSale),
			YTDTrx:          r.YTDTrx,
		}
	}
	return out
}

func toEfficiencyDTO(e metrics.Efficiency) EfficiencyDTO {
	return EfficiencyDTO{
		Footfall:       e.Footfall,
		FootfallSource: string(e.FootfallSource),
		ConversionPct:  num(e.ConversionPct),
		ATV:            num(e.ATV),
		BasketSize:     num(e.BasketSize),
		MultiesPct:     num(e.MultiesPct),
		Sale:           num(e.Sale),
		Trx:            e.Trx,
		Returns:        e.Returns,
		Units:          e.Units,
		MultiTrx:       e.MultiTrx,
	}
}

func toRetailEfficiencyDTOs(rows []metrics.RetailEfficiencyRow) []RetailEfficiencyDTO {
	out := make([]RetailEfficiencyDTO, len(rows))
	for i, r := range rows {
		out[i] = RetailEfficiencyDTO{Location: r.Location, MTD: toEfficiencyDTO(r.MTD), PM: toEfficiencyDTO(r.PM)}
	}
	return out
}

func toOmniChannelDTOs(rows []metrics.OmniChannelRow) []OmniChannelDTO {
	out := make([]OmniChannelDTO, len(rows))
	for i, r := range rows {
		out[i] = OmniChannelDTO{
			Location:      r.Location,
			MTDSale:       num(r.MTDSale),
			PMSale:        num(r.PMSale),
			MTDTrx:        r.MTDTrx,
			PMTrx:         r.PMTrx,
			MTDUnits:      r.MTDUnits,
			PMUnits:       r.PMUnits,
			SaleGrowthPct: num(r.SaleGrowthPct),
		}
	}
	return out
}

func toOmniChannelDetailDTOs(rows []metrics.OmniChannelDetailRow) []OmniChannelDetailDTO {
	out := make([]OmniChannelDetailDTO, len(rows))
	for i, r := range rows {
		out[i] = OmniChannelDetailDTO{
			Location:      r.Location,
			MTDATV:        num(r.MTDATV),
			PMATV:         num(r.PMATV),
			MTDBasketSize: num(r.MTDBasketSize),
			PMBasketSize:  num(r.PMBasketSize),
			MTDMultiesPct: num(r.MTDMultiesPct),
			PMMultiesPct:  num(r.PMMultiesPct),
			MTDReturns:    r.MTDReturns,
			PMReturns:     r.PMReturns,
		}
	}
	return out
}

func toWhatsappBreakdownDTOs(rows []metrics.WhatsappBreakdownRow) []WhatsappBreakdownDTO {
	out := make([]WhatsappBreakdownDTO, len(rows))
	for i, r := range rows {
		out[i] = WhatsappBreakdownDTO{
			Location:         r.Location,
			MTDRetailSale:    num(r.MTDRetailSale),
			MTDWhatsappSale:  num(r.MTDWhatsappSale),
			MTDWhatsappTrx:   r.MTDWhatsappTrx,
			PMRetailSale:     num(r.PMRetailSale),
			PMWhatsappSale:   num(r.PMWhatsappSale),
			PMWhatsappTrx:    r.PMWhatsappTrx,
			MTDWhatsappShare: num(r.MTDWhatsappShare),
		}
	}
	return out
}

func toRetailOmniTotalDTOs(rows []metrics.RetailOmniTotalRow) []RetailOmniTotalDTO {
	out := make([]RetailOmniTotalDTO, len(rows))
	for i, r := range rows {
		out[i] = RetailOmniTotalDTO{
			Location: r.Location,
			MTDSale:  num(r.MTDSale),
			PMSale:   num(r.PMSale),
			YTDSale:  num(r.YTDSale),
			PYSale:   num(r.PYSale),
			MTDTrx:   r.MTDTrx,
			PMTrx:    r.PMTrx,
			YTDTrx:   r.YTDTrx,
			PYTrx:    r.PYTrx,
			MTDATV:   num(r.MTDATV),
			PMATV:    num(r.PMATV),
		}
	}
	return out
}

func toSummaryDTO(s metrics.Summary) SummaryDTO {
	return SummaryDTO{
		Window:          s.Window,
		Locations:       s.Locations,
		Revenue:         num(s.Revenue),
		Transactions:    s.Transactions,
		Units:           s.Units,
		ATV:             num(s.ATV),
		BasketSize:      num(s.BasketSize),
		WhatsappRevenue: num(s.WhatsappRevenue),
		PMRevenue:       num(s.PMRevenue),
		PMTransactions:  s.PMTransactions,
		PMATV:           num(s.PMATV),
		YTDRevenue:      num(s.YTDRevenue),
		RevenueGrowth:   num(s.RevenueGrowth),
	}
}

func toOverviewDTO(ov *metrics.Overview) OverviewDTO {
	return OverviewDTO{
		Window:             ov.Window,
		Summary:            toSummaryDTO(ov.Summary),
		RetailPerformance:  toRetailPerformanceDTOs(ov.RetailPerformance),
		RetailEfficiency:   toRetailEfficiencyDTOs(ov.RetailEfficiency),
		OmniChannelTmLm:    toOmniChannelDTOs(ov.OmniChannelTmLm),
		OmniChannelDetails: toOmniChannelDetailDTOs(ov.OmniChannelDetails),
		WhatsappBreakdown:  toWhatsappBreakdownDTOs(ov.WhatsappBreakdown),
		RetailOmniTotal:    toRetailOmniTotalDTOs(ov.RetailOmniTotal),
	}
}

func toLookupsDTO(l *metrics.Lookups) LookupsDTO {
	dto := LookupsDTO{
		Locations:  nonNil(l.Locations),
		Brands:     nonNil(l.Brands),
		Categories: nonNil(l.Categories),
	}
	if l.LatestInvoiceDate != nil {
		dto.LatestInvoiceDate = l.LatestInvoiceDate.String()
	}
	return dto
}

func toRunDTO(r sales.IngestionRun) RunDTO {
	dto := RunDTO{
		ID:        r.ID,
		Source:    r.Source,
		Kind:      string(r.Kind),
		Status:    string(r.Status),
		Stats:     r.Stats,
		Error:     r.Error,
		StartedAt: formatTimestamp(r.StartedAt),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = formatTimestamp(*r.CompletedAt)
	}
	return dto
}

func toIngestResponse(res etl.Result) IngestResponse {
	resp := IngestResponse{
		RunID:  res.RunID,
		Source: res.Source,
		Kind:   string(res.Kind),
		Status: string(res.Status),
		Stats:  res.Stats,
	}
	for _, e := range res.RowErrors {
		resp.RowErrors = append(resp.RowErrors, RowErrorDTO{Line: e.Line, Column: e.Column, Reason: e.Reason})
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
