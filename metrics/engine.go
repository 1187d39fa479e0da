package metrics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/retail-dsr/reporting"
	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// QUERY
// =============================================================================

// Filter restricts which lines feed a view. Empty slices match everything.
type Filter struct {
	Locations  []string `json:"locations,omitempty"`
	Brands     []string `json:"brands,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// Query is one metrics request.
type Query struct {
	// AsOf is the last day reported. Zero means the latest stored invoice date.
	AsOf sales.Date
	// Start overrides the first day of the current window.
	Start *sales.Date
	Filter
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine answers metrics queries. It is read-only and safe for concurrent use.
type Engine struct {
	Lines      sales.LineStore
	Footfall   sales.FootfallStore
	Efficiency sales.EfficiencyStore
	Resolver   *reporting.Resolver
	Whatsapp   sales.WhatsappMatcher

	// Retroactive re-evaluates the Whatsapp pattern against every stored line
	// at query time. When false, the flag stamped at ingestion is used.
	Retroactive bool

	Now func() time.Time
}

// NewEngine creates an engine over st. Whatsapp attribution is retroactive
// with the default pattern.
func NewEngine(st sales.Store, resolver *reporting.Resolver) *Engine {
	if resolver == nil {
		resolver = &reporting.Resolver{Calendar: sales.DefaultFiscalCalendar}
	}
	return &Engine{
		Lines:       st,
		Footfall:    st,
		Efficiency:  st,
		Resolver:    resolver,
		Whatsapp:    sales.NewWhatsappMatcher(sales.DefaultWhatsappPattern),
		Retroactive: true,
		Now:         time.Now,
	}
}

// ResolveAsOf returns asOf, or the latest stored invoice date when asOf is
// zero, or today when the store is empty.
func (e *Engine) ResolveAsOf(ctx context.Context, asOf sales.Date) (sales.Date, error) {
	if !asOf.IsZero() {
		return asOf, nil
	}
	latest, ok, err := e.Lines.MaxInvoiceDate(ctx)
	if err != nil {
		return sales.Date{}, fmt.Errorf("latest invoice date: %w", err)
	}
	if ok {
		return latest, nil
	}
	return sales.DateOf(e.now()), nil
}

// Window resolves the reporting windows for q without loading any data.
func (e *Engine) Window(ctx context.Context, q Query) (reporting.Window, error) {
	asOf, err := e.ResolveAsOf(ctx, q.AsOf)
	if err != nil {
		return reporting.Window{}, err
	}
	return e.Resolver.Resolve(asOf, q.Start)
}

// Snapshot loads everything the views need for q in one pass. Lines, footfall
// and efficiency are fetched concurrently.
func (e *Engine) Snapshot(ctx context.Context, q Query) (*Snapshot, error) {
	w, err := e.Window(ctx, q)
	if err != nil {
		return nil, err
	}
	span := w.Span()

	var (
		lines      []sales.TransactionLine
		footfall   []sales.FootfallRecord
		efficiency []sales.EfficiencyRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lines, err = e.Lines.LoadLines(gctx, sales.LineQuery{
			From:       span.Start,
			To:         span.End,
			Locations:  q.Locations,
			Brands:     q.Brands,
			Categories: q.Categories,
		})
		if err != nil {
			return fmt.Errorf("load lines: %w", err)
		}
		return nil
	})
	if e.Footfall != nil {
		g.Go(func() error {
			var err error
			footfall, err = e.Footfall.LoadFootfall(gctx, w.PriorMonth.Start, w.AsOf, q.Locations)
			if err != nil {
				return fmt.Errorf("load footfall: %w", err)
			}
			return nil
		})
	}
	if e.Efficiency != nil {
		g.Go(func() error {
			var err error
			efficiency, err = e.Efficiency.LatestEfficiency(gctx, w.Current.Start, w.AsOf)
			if err != nil {
				return fmt.Errorf("load efficiency: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return newSnapshot(w, Collapse(lines, e.lineWhatsapp()), footfall, efficiency, q.Locations), nil
}

func (e *Engine) lineWhatsapp() LineWhatsapp {
	if e.Retroactive {
		m := e.Whatsapp
		return func(l sales.TransactionLine) bool { return l.WhatsappAssisted || m.Matches(l.SalesPersonName) }
	}
	return func(l sales.TransactionLine) bool { return l.WhatsappAssisted }
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// =============================================================================
// VIEW ENTRY POINTS
// =============================================================================

// Report pairs view rows with the windows they were computed for.
type Report[T any] struct {
	Window reporting.Window
	Rows   []T
}

func runView[T any](ctx context.Context, e *Engine, q Query, view func(*Snapshot) []T) (*Report[T], error) {
	s, err := e.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Report[T]{Window: s.Window, Rows: view(s)}, nil
}

func (e *Engine) RetailPerformance(ctx context.Context, q Query) (*Report[RetailPerformanceRow], error) {
	return runView(ctx, e, q, (*Snapshot).RetailPerformance)
}

func (e *Engine) RetailEfficiency(ctx context.Context, q Query) (*Report[RetailEfficiencyRow], error) {
	return runView(ctx, e, q, (*Snapshot).RetailEfficiency)
}

func (e *Engine) OmniChannelTmLm(ctx context.Context, q Query) (*Report[OmniChannelRow], error) {
	return runView(ctx, e, q, (*Snapshot).OmniChannelTmLm)
}

func (e *Engine) OmniChannelDetails(ctx context.Context, q Query) (*Report[OmniChannelDetailRow], error) {
	return runView(ctx, e, q, (*Snapshot).OmniChannelDetails)
}

func (e *Engine) WhatsappBreakdown(ctx context.Context, q Query) (*Report[WhatsappBreakdownRow], error) {
	return runView(ctx, e, q, (*Snapshot).WhatsappBreakdown)
}

func (e *Engine) RetailOmniTotal(ctx context.Context, q Query) (*Report[RetailOmniTotalRow], error) {
	return runView(ctx, e, q, (*Snapshot).RetailOmniTotal)
}

// DashboardSummary returns the headline totals across all filtered locations.
func (e *Engine) DashboardSummary(ctx context.Context, q Query) (*Summary, error) {
	s, err := e.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	sum := s.Summary()
	return &sum, nil
}

// Overview computes every view from a single snapshot, so all of them
// describe exactly the same lines.
func (e *Engine) Overview(ctx context.Context, q Query) (*Overview, error) {
	s, err := e.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.Overview(), nil
}
