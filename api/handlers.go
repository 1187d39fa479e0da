/*
handlers.go - HTTP API handlers for the daily sales report

PURPOSE:
  Exposes the metrics engine and the ingestion pipeline via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  metrics.Engine and etl.Runner.

ENDPOINTS:
  Metrics (all accept asOfDate, startDate, location, brand, category):
    GET    /api/window                        Resolved comparison windows
    GET    /api/metrics/summary               Dashboard KPI tiles
    GET    /api/metrics/retail-performance    Per-location sale/trx/qty
    GET    /api/metrics/retail-efficiency     Footfall, conversion, ATV
    GET    /api/metrics/omni-channel          E-Commerce this vs last month
    GET    /api/metrics/omni-channel/details  E-Commerce ATV/basket/multies
    GET    /api/metrics/whatsapp              Whatsapp-assisted breakdown
    GET    /api/metrics/retail-omni-total     MTD/PM/YTD/PY totals
    GET    /api/metrics/overview              Every view at once
    GET    /api/metrics/export                Overview as .xlsx

  Lookups:
    GET    /api/lookups                       Locations, brands, categories

  Ingestion:
    POST   /api/ingest/upload                 Multipart "file" (.csv/.xlsx)
    POST   /api/ingest/run                    Ingest the input directory now
    GET    /api/ingest/status                 Scheduler status
    GET    /api/runs                          Ingestion runs, newest first
    GET    /api/runs/{id}                     One ingestion run

QUERY PARAMETERS:
  asOfDate   YYYY-MM-DD or DD/MM/YYYY; empty or "latest" means the latest
             invoice date in the store
  startDate  Optional explicit start of the current window
  location, brand, category
             Repeatable and/or comma-separated; "all" is ignored

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid dates, windows, unsupported files
  - 404: Ingestion run not found
  - 409: Another ingestion holds the lock
  - 500: Internal errors
  - 503: Ingestion routes on a handler built without a runner

SECURITY NOTE:
  No authentication. Ingestion endpoints are rate limited (see server.go).

SEE ALSO:
  - dto.go: Request/response data structures
  - datasets.go: Demo dataset loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/retail-dsr/etl"
	"github.com/warp/retail-dsr/metrics"
	"github.com/warp/retail-dsr/sales"
)

const (
	defaultMaxUpload     = 64 << 20
	defaultIngestTimeout = 10 * time.Minute
	defaultRunsLimit     = 50

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *metrics.Engine
	Runner    *etl.Runner
	Runs      sales.RunStore
	Scheduler *IngestionScheduler
	Logger    *logrus.Logger

	// MaxUploadBytes caps multipart uploads.
	MaxUploadBytes int64
	// IngestTimeout bounds one upload, lock wait included.
	IngestTimeout time.Duration

	mu             sync.Mutex
	currentDataset string
}

// NewHandler creates a handler over an engine and an ingestion runner.
func NewHandler(engine *metrics.Engine, runner *etl.Runner, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{
		Engine:         engine,
		Runner:         runner,
		Logger:         logger,
		MaxUploadBytes: defaultMaxUpload,
		IngestTimeout:  defaultIngestTimeout,
	}
	if runner != nil {
		h.Runs = runner.Runs
	}
	return h
}

func (h *Handler) log() *logrus.Entry {
	return h.Logger.WithField("component", "api")
}

// =============================================================================
// HEALTH & WINDOW
// =============================================================================

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetWindow returns the comparison windows a query resolves to.
// GET /api/window
func (h *Handler) GetWindow(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		h.writeFailure(w, "Invalid query", err)
		return
	}
	win, err := h.Engine.Window(r.Context(), q)
	if err != nil {
		h.writeFailure(w, "Failed to resolve window", err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

// =============================================================================
// METRIC VIEWS
// =============================================================================

func serveView[R, D any](h *Handler, w http.ResponseWriter, r *http.Request,
	load func(context.Context, metrics.Query) (*metrics.Report[R], error), convert func([]R) []D) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		h.writeFailure(w, "Invalid query", err)
		return
	}
	rep, err := load(r.Context(), q)
	if err != nil {
		h.writeFailure(w, "Failed to compute view", err)
		return
	}
	writeJSON(w, http.StatusOK, ViewResponse[D]{Window: rep.Window, Rows: convert(rep.Rows)})
}

// GET /api/metrics/retail-performance
func (h *Handler) RetailPerformance(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, h.Engine.RetailPerformance, toRetailPerformanceDTOs)
}

// GET /api/metrics/retail-efficiency
func (h *Handler) RetailEfficiency(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, h.Engine.RetailEfficiency, toRetailEfficiencyDTOs)
}

// GET /api/metrics/omni-channel
func (h *Handler) OmniChannelTmLm(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, h.Engine.OmniChannelTmLm, toOmniChannelDTOs)
}

// GET /api/metrics/omni-channel/details
func (h *Handler) OmniChannelDetails(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, h.Engine.OmniChannelDetails, toOmniChannelDetailDTOs)
}

// GET /api/metrics/whatsapp
func (h *Handler) WhatsappBreakdown(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, h.Engine.WhatsappBreakdown, toWhatsappBreakdownDTOs)
}

// GET /api/metrics/retail-omni-total
func (h *Handler) RetailOmniTotal(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, h.Engine.RetailOmniTotal, toRetailOmniTotalDTOs)
}

// Summary returns the dashboard KPI tiles.
// GET /api/metrics/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		h.writeFailure(w, "Invalid query", err)
		return
	}
	s, err := h.Engine.DashboardSummary(r.Context(), q)
	if err != nil {
		h.writeFailure(w, "Failed to compute summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(*s))
}

// Overview returns every view computed from one snapshot.
// GET /api/metrics/overview
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		h.writeFailure(w, "Invalid query", err)
		return
	}
	ov, err := h.Engine.Overview(r.Context(), q)
	if err != nil {
		h.writeFailure(w, "Failed to compute overview", err)
		return
	}
	writeJSON(w, http.StatusOK, toOverviewDTO(ov))
}

// Export streams the overview as an Excel workbook.
// GET /api/metrics/export
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		h.writeFailure(w, "Invalid query", err)
		return
	}
	ov, err := h.Engine.Overview(r.Context(), q)
	if err != nil {
		h.writeFailure(w, "Failed to compute overview", err)
		return
	}

	// Render fully before writing headers so a failure can still be a 500.
	var buf bytes.Buffer
	if err := metrics.WriteWorkbook(&buf, ov); err != nil {
		h.writeFailure(w, "Failed to render workbook", err)
		return
	}
	filename := fmt.Sprintf("dsr_%s.xlsx", ov.Window.AsOf.String())
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// =============================================================================
// LOOKUPS
// =============================================================================

// Lookups lists filter values. Locations narrow by brand; categories by brand
// and location.
// GET /api/lookups
func (h *Handler) Lookups(w http.ResponseWriter, r *http.Request) {
	l, err := h.Engine.Lookups(r.Context(), parseFilter(r.URL.Query()))
	if err != nil {
		h.writeFailure(w, "Failed to load lookups", err)
		return
	}
	writeJSON(w, http.StatusOK, toLookupsDTO(l))
}

// =============================================================================
// INGESTION
// =============================================================================

// UploadFile ingests one uploaded export. The kind (invoices, footfall,
// efficiency) is detected from the header.
// POST /api/ingest/upload
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart upload", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing form field 'file'", err)
		return
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(r.Context(), h.IngestTimeout)
	defer cancel()

	res, err := h.Runner.Ingest(ctx, header.Filename, file)
	if err != nil {
		h.writeFailure(w, "Ingestion failed", err)
		return
	}
	h.log().WithFields(logrus.Fields{"source": res.Source, "kind": res.Kind, "run_id": res.RunID}).Info("upload ingested")
	writeJSON(w, http.StatusOK, toIngestResponse(res))
}

// RunIngestion processes the input directory immediately.
// POST /api/ingest/run
func (h *Handler) RunIngestion(w http.ResponseWriter, r *http.Request) {
	var (
		summary etl.Summary
		err     error
	)
	if h.Scheduler != nil {
		summary, err = h.Scheduler.RunNow(r.Context())
	} else {
		summary, err = h.Runner.RunDirectory(r.Context(), nil)
	}
	if err != nil {
		h.writeFailure(w, "Directory ingestion failed", err)
		return
	}

	resp := DirectoryRunResponse{
		Processed: summary.Processed,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
		Results:   make([]IngestResponse, 0, len(summary.Results)),
	}
	for _, res := range summary.Results {
		resp.Results = append(resp.Results, toIngestResponse(res))
	}
	writeJSON(w, http.StatusOK, resp)
}

// IngestionStatus reports the scheduler state.
// GET /api/ingest/status
func (h *Handler) IngestionStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusDTO{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

// ListRuns returns ingestion runs, newest first.
// GET /api/runs?limit=50
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	if h.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "Ingestion is not configured", nil)
		return
	}
	runs, err := h.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeFailure(w, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRun returns one ingestion run.
// GET /api/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "Ingestion is not configured", nil)
		return
	}
	run, err := h.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, "Failed to get run", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

// requireRunner answers 503 on ingestion routes of a handler built without
// a runner.
func (h *Handler) requireRunner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Runner == nil {
			writeError(w, http.StatusServiceUnavailable, "Ingestion is not configured", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// REQUEST PARSING
// =============================================================================

// parseQuery reads the window and filter parameters shared by every view.
func parseQuery(v url.Values) (metrics.Query, error) {
	var q metrics.Query

	if s := firstParam(v, "asOfDate", "asOf"); s != "" && !strings.EqualFold(s, "latest") {
		d, err := sales.ParseAnyDate(s)
		if err != nil {
			return q, fmt.Errorf("asOfDate: %w", err)
		}
		q.AsOf = d
	}
	if s := firstParam(v, "startDate", "start"); s != "" {
		d, err := sales.ParseAnyDate(s)
		if err != nil {
			return q, fmt.Errorf("startDate: %w", err)
		}
		q.Start = &d
	}
	q.Filter = parseFilter(v)
	return q, nil
}

func parseFilter(v url.Values) metrics.Filter {
	return metrics.Filter{
		Locations:  splitList(v["location"]),
		Brands:     splitList(v["brand"]),
		Categories: splitList(v["category"]),
	}
}

func firstParam(v url.Values, names ...string) string {
	for _, n := range names {
		if s := strings.TrimSpace(v.Get(n)); s != "" {
			return s
		}
	}
	return ""
}

// splitList flattens repeated and comma-separated values. "all" selects
// everything, same as leaving the parameter out.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" || strings.EqualFold(part, "all") {
				continue
			}
			out = append(out, part)
		}
	}
	return out
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeFailure maps a domain error to its status code.
func (h *Handler) writeFailure(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log().WithError(err).Error(message)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, sales.ErrIngestionLocked):
		return http.StatusConflict
	case sales.IsNotFound(err):
		return http.StatusNotFound
	case sales.IsClientError(err), errors.As(err, &maxBytes):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
