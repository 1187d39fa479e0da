/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Upload ingestion and the views computed from it
- Query parsing (latest, explicit windows, filters)
- Error status mapping (400, 404, 409, 429)
- Workbook export
- Demo datasets
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/retail-dsr/etl"
	"github.com/warp/retail-dsr/metrics"
	"github.com/warp/retail-dsr/reporting"
	"github.com/warp/retail-dsr/sales"
	"github.com/warp/retail-dsr/sales/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const januaryInvoices = `Invoice No,Invoice Date,Sales Transaction Type (IV/SR/IR),Order Associate Name,Invoice Associate Name,Total Sales Qty,Nett Invoice Value,Sales Person Name,Brand Name,Category Name,MH1 Description
INV-1,20/01/2026,IV,,JACADI PALLADIUM,2,3000,Asha,Jacadi,Apparel,Sales
INV-1,20/01/2026,IV,,JACADI PALLADIUM,1,1000,Asha,Jacadi,Apparel,Sales
INV-2,25/01/2026,IV,,JACADI MALL OF ASIA,1,1500,Whatsapp Meera,Jacadi,Footwear,Sales
INV-3,24/01/2026,IV,Shopify Webstore,,1,2000,,Jacadi,Apparel,Sales
INV-4,21/01/2026,IV,,Head Office,1,999,,Jacadi,Apparel,Sales
`

type testEnv struct {
	handler *Handler
	router  http.Handler
	mem     *store.Memory
	locker  *etl.LocalLocker
}

func newTestEnv(t *testing.T, tweak func(*RouterOptions)) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	logger, _ := test.NewNullLogger()
	locker := etl.NewLocalLocker()

	runner := &etl.Runner{
		InputDir:   t.TempDir(),
		ArchiveDir: filepath.Join(t.TempDir(), "archive"),
		Invoices:   etl.NewIngestor(mem, mem, locker, nil, logger),
		Footfall:   etl.NewFootfallIngestor(mem, mem, locker, logger),
		Efficiency: etl.NewEfficiencyIngestor(mem, mem, locker, logger),
		Runs:       mem,
		Logger:     logger,
	}
	engine := metrics.NewEngine(mem, reporting.NewResolver(time.April))
	engine.Now = func() time.Time { return time.Date(2026, time.January, 26, 9, 0, 0, 0, time.UTC) }

	h := NewHandler(engine, runner, logger)

	opts := DefaultRouterOptions()
	opts.IngestBurst = 100
	opts.DemoRoutes = true
	opts.StaticDir = t.TempDir()
	if tweak != nil {
		tweak(&opts)
	}
	return &testEnv{handler: h, router: NewRouter(h, opts), mem: mem, locker: locker}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, path string, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return e.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) upload(t *testing.T, filename, content string) IngestResponse {
	t.Helper()
	rec := e.do(t, uploadRequest(t, filename, content))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[IngestResponse](t, rec)
}

func rowFor[T any](rows []T, location func(T) string, want string) (T, bool) {
	for _, r := range rows {
		if location(r) == want {
			return r, true
		}
	}
	var zero T
	return zero, false
}

// =============================================================================
// INGESTION
// =============================================================================

func TestUpload_IngestsAndReportsStats(t *testing.T) {
	env := newTestEnv(t, nil)

	// WHEN: Uploading a POS export
	resp := env.upload(t, "invoices_jan.csv", januaryInvoices)

	// THEN: The run is reconciled and rows are counted
	assert.Equal(t, "reconciled", resp.Status)
	assert.Equal(t, "invoices", resp.Kind)
	assert.Equal(t, 5, resp.Stats.RowsRead)
	assert.Equal(t, 4, resp.Stats.Accepted)
	assert.Equal(t, 1, resp.Stats.Unclassified)
	assert.Equal(t, 3, resp.Stats.Invoices)

	// AND: The run is listed and retrievable
	runs := decode[[]RunDTO](t, env.get(t, "/api/runs", nil))
	require.Len(t, runs, 1)
	assert.Equal(t, resp.RunID, runs[0].ID)

	rec := env.get(t, "/api/runs/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "invoices_jan.csv", decode[RunDTO](t, rec).Source)
}

func TestUpload_ReuploadIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)

	env.upload(t, "invoices_jan.csv", januaryInvoices)
	second := env.upload(t, "invoices_jan.csv", januaryInvoices)

	// THEN: The second upload replaces exactly what the first inserted
	assert.Equal(t, 4, second.Stats.Deleted)
	assert.Equal(t, 4, second.Stats.Inserted)
	n, err := env.mem.CountLines(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestUpload_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name     string
		filename string
		content  string
		want     int
	}{
		{"unsupported extension", "report.pdf", "x", http.StatusBadRequest},
		{"unknown header", "mystery.csv", "Foo,Bar\n1,2\n", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, uploadRequest(t, tt.filename, tt.content))
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}

	t.Run("missing file field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", strings.NewReader("plain"))
		req.Header.Set("Content-Type", "text/plain")
		assert.Equal(t, http.StatusBadRequest, env.do(t, req).Code)
	})
}

func TestUpload_LockHeldReturnsConflict(t *testing.T) {
	// GIVEN: Another ingestion holds the lock
	env := newTestEnv(t, nil)
	env.handler.IngestTimeout = 50 * time.Millisecond
	lock, err := env.locker.Obtain(context.Background(), etl.IngestionLockKey)
	require.NoError(t, err)
	defer lock.Release(context.Background())

	// WHEN: Uploading
	rec := env.do(t, uploadRequest(t, "invoices_jan.csv", januaryInvoices))

	// THEN: 409 and nothing stored
	assert.Equal(t, http.StatusConflict, rec.Code)
	n, err := env.mem.CountLines(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunIngestion_LockHeldReturnsConflict(t *testing.T) {
	// GIVEN: Two pending files and another ingestion holding the lock
	env := newTestEnv(t, nil)
	runner := env.handler.Runner
	bounded := etl.WithMaxWait(env.locker, 20*time.Millisecond)
	runner.Invoices.Locker = bounded
	runner.Footfall.Locker = bounded
	runner.Efficiency.Locker = bounded
	require.NoError(t, os.WriteFile(filepath.Join(runner.InputDir, "a_invoices.csv"), []byte(januaryInvoices), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(runner.InputDir, "b_invoices.csv"), []byte(januaryInvoices), 0o644))

	lock, err := env.locker.Obtain(context.Background(), etl.IngestionLockKey)
	require.NoError(t, err)
	defer lock.Release(context.Background())

	// WHEN: Triggering a directory run
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/ingest/run", nil))

	// THEN: 409, and both files stay for the next pass
	assert.Equal(t, http.StatusConflict, rec.Code)
	left, err := runner.PendingFiles()
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestIngestionRoutes_WithoutRunner(t *testing.T) {
	engine := metrics.NewEngine(store.NewMemory(), reporting.NewResolver(time.April))
	logger, _ := test.NewNullLogger()
	opts := DefaultRouterOptions()
	opts.StaticDir = t.TempDir()
	opts.DemoRoutes = true
	router := NewRouter(NewHandler(engine, nil, logger), opts)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"list runs", httptest.NewRequest(http.MethodGet, "/api/runs", nil)},
		{"get run", httptest.NewRequest(http.MethodGet, "/api/runs/abc", nil)},
		{"upload", uploadRequest(t, "invoices_jan.csv", januaryInvoices)},
		{"directory run", httptest.NewRequest(http.MethodPost, "/api/ingest/run", nil)},
		{"load dataset", loadDatasetRequest("two-stores")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, tt.req)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		})
	}

	// AND: Read routes still answer
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/summary", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunIngestion_ProcessesInputDirectory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.handler.Scheduler = NewIngestionScheduler(env.handler.Runner, env.handler.Logger)
	require.NoError(t, os.WriteFile(filepath.Join(env.handler.Runner.InputDir, "invoices_jan.csv"), []byte(januaryInvoices), 0o644))

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/ingest/run", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[DirectoryRunResponse](t, rec)
	assert.Equal(t, 1, resp.Processed)
	assert.Zero(t, resp.Failed)

	status := decode[SchedulerStatusDTO](t, env.get(t, "/api/ingest/status", nil))
	assert.NotEmpty(t, status.LastRun)
}

func TestGetRun_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.get(t, "/api/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns_InvalidLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.get(t, "/api/runs", url.Values{"limit": {"-1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// VIEWS
// =============================================================================

func TestRetailPerformance_LatestAsOf(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upload(t, "invoices_jan.csv", januaryInvoices)

	// WHEN: Asking for the latest day
	rec := env.get(t, "/api/metrics/retail-performance", url.Values{"asOfDate": {"latest"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ViewResponse[RetailPerformanceDTO]](t, rec)

	// THEN: The window ends on the latest invoice date
	assert.Equal(t, "2026-01-25", resp.Window.AsOf.String())
	assert.Equal(t, "2026-01-01", resp.Window.Current.Start.String())

	byLoc := func(r RetailPerformanceDTO) string { return r.Location }
	pal, ok := rowFor(resp.Rows, byLoc, sales.LocationPalladium)
	require.True(t, ok)
	assert.Equal(t, 4000.0, pal.MTDSale)
	assert.Equal(t, 1, pal.MTDTrx)
	assert.Equal(t, 3, pal.MTDQty)

	moa, ok := rowFor(resp.Rows, byLoc, sales.LocationMOA)
	require.True(t, ok)
	assert.Equal(t, 1500.0, moa.MTDWhatsappSale)
	assert.Equal(t, 1, moa.MTDWhatsappTrx)

	// AND: Palladium is listed first
	assert.Equal(t, sales.LocationPalladium, resp.Rows[0].Location)
}

func TestViews_FiltersAndWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upload(t, "invoices_jan.csv", januaryInvoices)

	t.Run("location filter", func(t *testing.T) {
		rec := env.get(t, "/api/metrics/retail-omni-total", url.Values{
			"asOfDate": {"2026-01-25"},
			"location": {sales.LocationMOA + ",all"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[ViewResponse[RetailOmniTotalDTO]](t, rec)
		require.Len(t, resp.Rows, 1)
		assert.Equal(t, sales.LocationMOA, resp.Rows[0].Location)
	})

	t.Run("category filter", func(t *testing.T) {
		rec := env.get(t, "/api/metrics/summary", url.Values{"category": {"Footwear"}})
		require.Equal(t, http.StatusOK, rec.Code)
		s := decode[SummaryDTO](t, rec)
		assert.Equal(t, 1500.0, s.Revenue)
		assert.Equal(t, 1, s.Locations)
	})

	t.Run("explicit start", func(t *testing.T) {
		rec := env.get(t, "/api/window", url.Values{"asOfDate": {"25/01/2026"}, "startDate": {"2026-01-21"}})
		require.Equal(t, http.StatusOK, rec.Code)
		w := decode[reporting.Window](t, rec)
		assert.Equal(t, "2026-01-21", w.Current.Start.String())
		assert.Equal(t, "2025-12-21", w.PriorMonth.Start.String())
	})

	t.Run("omni channel only lists the webstore", func(t *testing.T) {
		rec := env.get(t, "/api/metrics/omni-channel", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[ViewResponse[OmniChannelDTO]](t, rec)
		require.Len(t, resp.Rows, 1)
		assert.Equal(t, sales.LocationWebstore, resp.Rows[0].Location)
		assert.Equal(t, 2000.0, resp.Rows[0].MTDSale)
	})
}

func TestViews_InvalidQueries(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		path   string
		params url.Values
	}{
		{"bad asOf", "/api/metrics/summary", url.Values{"asOfDate": {"yesterday"}}},
		{"bad start", "/api/metrics/retail-performance", url.Values{"startDate": {"31/02/2026"}}},
		{"start after asOf", "/api/metrics/overview", url.Values{"asOfDate": {"2026-01-10"}, "startDate": {"2026-01-11"}}},
		{"window", "/api/window", url.Values{"asOfDate": {"2026-13-01"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(t, tt.path, tt.params)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestOverview_EmptyStore(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/api/metrics/overview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ov := decode[OverviewDTO](t, rec)

	// THEN: Today's window with zeroed figures, not an error
	assert.Equal(t, "2026-01-26", ov.Window.AsOf.String())
	assert.Zero(t, ov.Summary.Revenue)
	assert.Empty(t, ov.RetailPerformance)
}

func TestLookups(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upload(t, "invoices_jan.csv", januaryInvoices)

	rec := env.get(t, "/api/lookups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	l := decode[LookupsDTO](t, rec)

	assert.Equal(t, []string{sales.LocationPalladium, sales.LocationMOA, sales.LocationWebstore}, l.Locations)
	assert.Equal(t, []string{"Jacadi"}, l.Brands)
	assert.ElementsMatch(t, []string{"Apparel", "Footwear"}, l.Categories)
	assert.Equal(t, "2026-01-25", l.LatestInvoiceDate)
}

func TestExport_Workbook(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upload(t, "invoices_jan.csv", januaryInvoices)

	rec := env.get(t, "/api/metrics/export", url.Values{"asOfDate": {"2026-01-25"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "dsr_2026-01-25.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), "Retail Performance")
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestRateLimit_IngestionRoutes(t *testing.T) {
	env := newTestEnv(t, func(o *RouterOptions) {
		o.IngestRate = 0.001
		o.IngestBurst = 1
	})

	first := env.do(t, uploadRequest(t, "invoices_jan.csv", januaryInvoices))
	second := env.do(t, uploadRequest(t, "invoices_jan.csv", januaryInvoices))
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// AND: Read routes are not limited
	assert.Equal(t, http.StatusOK, env.get(t, "/api/metrics/summary", nil).Code)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	unlimited := NewRateLimiter(0, 1)
	for i := 0; i < 5; i++ {
		assert.True(t, unlimited.Allow("10.0.0.1"))
	}
}

func TestRateLimit_ForwardedHeaderIgnoredByDefault(t *testing.T) {
	env := newTestEnv(t, func(o *RouterOptions) {
		o.IngestRate = 0.001
		o.IngestBurst = 1
	})

	// GIVEN: One peer rotating X-Forwarded-For
	send := func(forwarded string) int {
		req := uploadRequest(t, "invoices_jan.csv", januaryInvoices)
		req.Header.Set("X-Forwarded-For", forwarded)
		return env.do(t, req).Code
	}

	// THEN: Both requests count against the same peer
	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.2"))
}

func TestRateLimit_TrustProxyUsesForwardedClient(t *testing.T) {
	env := newTestEnv(t, func(o *RouterOptions) {
		o.IngestRate = 0.001
		o.IngestBurst = 1
		o.TrustProxy = true
	})

	send := func(forwarded string) int {
		req := uploadRequest(t, "invoices_jan.csv", januaryInvoices)
		req.Header.Set("X-Forwarded-For", forwarded)
		return env.do(t, req).Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusOK, send("203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:51000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("X-Real-IP", "203.0.113.10")
	assert.Equal(t, "192.0.2.7", clientIP(req))

	req.RemoteAddr = "192.0.2.8"
	assert.Equal(t, "192.0.2.8", clientIP(req))
}

func TestSplitList(t *testing.T) {
	got := splitList([]string{"Jacadi Palladium, MOA", "", "All", "Shopify Webstore"})
	assert.Equal(t, []string{"Jacadi Palladium", "MOA", "Shopify Webstore"}, got)
	assert.Nil(t, splitList(nil))
}
