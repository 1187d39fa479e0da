package metrics

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/warp/retail-dsr/sales"
)

// Lookups lists the filter values available to a dashboard.
type Lookups struct {
	Locations         []string
	Brands            []string
	Categories        []string
	LatestInvoiceDate *sales.Date
}

// Lookups loads every dimension concurrently. Locations are narrowed by
// brands; categories by brands and locations.
func (e *Engine) Lookups(ctx context.Context, f Filter) (*Lookups, error) {
	var out Lookups
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		locs, err := e.Lines.DistinctLocations(gctx, f.Brands)
		if err != nil {
			return fmt.Errorf("locations: %w", err)
		}
		out.Locations = locs
		return nil
	})
	g.Go(func() error {
		brands, err := e.Lines.DistinctBrands(gctx)
		if err != nil {
			return fmt.Errorf("brands: %w", err)
		}
		out.Brands = brands
		return nil
	})
	g.Go(func() error {
		cats, err := e.Lines.DistinctCategories(gctx, f.Brands, f.Locations)
		if err != nil {
			return fmt.Errorf("categories: %w", err)
		}
		out.Categories = cats
		return nil
	})
	g.Go(func() error {
		d, ok, err := e.Lines.MaxInvoiceDate(gctx)
		if err != nil {
			return fmt.Errorf("latest invoice date: %w", err)
		}
		if ok {
			out.LatestInvoiceDate = &d
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}
