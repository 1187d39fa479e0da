// Package store provides an in-memory sales.Store implementation.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	lines      map[string][]sales.TransactionLine // by invoice number
	ids        map[string]bool
	footfall   map[footfallKey]int
	efficiency map[efficiencyKey]sales.EfficiencyRecord
	runs       map[string]sales.IngestionRun
}

type footfallKey struct {
	Date     sales.Date
	Location string
}

type efficiencyKey struct {
	Location   string
	ReportDate sales.Date
}

func NewMemory() *Memory {
	return &Memory{
		lines:      make(map[string][]sales.TransactionLine),
		ids:        make(map[string]bool),
		footfall:   make(map[footfallKey]int),
		efficiency: make(map[efficiencyKey]sales.EfficiencyRecord),
		runs:       make(map[string]sales.IngestionRun),
	}
}

var _ sales.Store = (*Memory)(nil)

// =============================================================================
// LINES
// =============================================================================

// ReplaceInvoices deletes the batch's invoices and inserts the batch under a
// single write lock. A failed insert restores the pre-call snapshot of the
// touched invoices.
func (m *Memory) ReplaceInvoices(_ context.Context, lines []sales.TransactionLine) (sales.ReplaceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	invoices := make(map[string]bool)
	for _, l := range lines {
		invoices[l.InvoiceNo] = true
	}

	// Snapshot touched invoices
	snapshot := make(map[string][]sales.TransactionLine, len(invoices))
	for no := range invoices {
		if existing, ok := m.lines[no]; ok {
			snapshot[no] = existing
		}
	}

	res := sales.ReplaceResult{Invoices: len(invoices)}
	for no := range invoices {
		for _, l := range m.lines[no] {
			delete(m.ids, l.ID)
		}
		res.Deleted += len(m.lines[no])
		delete(m.lines, no)
	}

	inserted := make(map[string]bool, len(lines))
	for _, l := range lines {
		if err := m.insertLocked(l); err != nil {
			m.restore(invoices, snapshot, inserted)
			return sales.ReplaceResult{}, err
		}
		inserted[l.ID] = true
		res.Inserted++
	}
	return res, nil
}

func (m *Memory) insertLocked(l sales.TransactionLine) error {
	if l.InvoiceNo == "" {
		return errors.New("line has no invoice number")
	}
	if l.ID == "" {
		return fmt.Errorf("invoice %s: line has no id", l.InvoiceNo)
	}
	if m.ids[l.ID] {
		return fmt.Errorf("duplicate line id %s", l.ID)
	}
	m.ids[l.ID] = true
	m.lines[l.InvoiceNo] = append(m.lines[l.InvoiceNo], l)
	return nil
}

func (m *Memory) restore(invoices map[string]bool, snapshot map[string][]sales.TransactionLine, inserted map[string]bool) {
	for id := range inserted {
		delete(m.ids, id)
	}
	for no := range invoices {
		delete(m.lines, no)
		if prev, ok := snapshot[no]; ok {
			m.lines[no] = prev
			for _, l := range prev {
				m.ids[l.ID] = true
			}
		}
	}
}

func (m *Memory) LoadLines(_ context.Context, q sales.LineQuery) ([]sales.TransactionLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	locations, brands, categories := toSet(q.Locations), toSet(q.Brands), toSet(q.Categories)
	var result []sales.TransactionLine
	for _, invoiceLines := range m.lines {
		for _, l := range invoiceLines {
			if !q.From.IsZero() && l.InvoiceDate.Before(q.From) {
				continue
			}
			if !q.To.IsZero() && l.InvoiceDate.After(q.To) {
				continue
			}
			if !matches(locations, l.LocationName) || !matches(brands, l.BrandName) || !matches(categories, l.CategoryName) {
				continue
			}
			result = append(result, l)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].InvoiceDate.Equal(result[j].InvoiceDate) {
			return result[i].InvoiceDate.Before(result[j].InvoiceDate)
		}
		if result[i].InvoiceNo != result[j].InvoiceNo {
			return result[i].InvoiceNo < result[j].InvoiceNo
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) CountLines(_ context.Context, invoiceNo string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if invoiceNo != "" {
		return len(m.lines[invoiceNo]), nil
	}
	return len(m.ids), nil
}

func (m *Memory) MaxInvoiceDate(_ context.Context) (sales.Date, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var max sales.Date
	found := false
	for _, invoiceLines := range m.lines {
		for _, l := range invoiceLines {
			if !found || l.InvoiceDate.After(max) {
				max, found = l.InvoiceDate, true
			}
		}
	}
	return max, found, nil
}

func (m *Memory) DistinctLocations(_ context.Context, brands []string) ([]string, error) {
	brandSet := toSet(brands)
	return m.distinct(func(l sales.TransactionLine) (string, bool) {
		return l.LocationName, matches(brandSet, l.BrandName)
	}, sales.LessLocation), nil
}

func (m *Memory) DistinctBrands(_ context.Context) ([]string, error) {
	return m.distinct(func(l sales.TransactionLine) (string, bool) {
		return l.BrandName, true
	}, nil), nil
}

func (m *Memory) DistinctCategories(_ context.Context, brands, locations []string) ([]string, error) {
	brandSet, locationSet := toSet(brands), toSet(locations)
	return m.distinct(func(l sales.TransactionLine) (string, bool) {
		return l.CategoryName, matches(brandSet, l.BrandName) && matches(locationSet, l.LocationName)
	}, nil), nil
}

func (m *Memory) distinct(pick func(sales.TransactionLine) (string, bool), less func(a, b string) bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, invoiceLines := range m.lines {
		for _, l := range invoiceLines {
			v, ok := pick(l)
			if !ok || v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	if less == nil {
		sort.Strings(out)
	} else {
		sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

// =============================================================================
// FOOTFALL & EFFICIENCY
// =============================================================================

func (m *Memory) UpsertFootfall(_ context.Context, records []sales.FootfallRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		m.footfall[footfallKey{Date: r.Date, Location: r.LocationName}] = r.Count
	}
	return len(records), nil
}

func (m *Memory) LoadFootfall(_ context.Context, from, to sales.Date, locations []string) ([]sales.FootfallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	period := sales.Period{Start: from, End: to}
	locationSet := toSet(locations)
	var out []sales.FootfallRecord
	for k, count := range m.footfall {
		if period.Contains(k.Date) && matches(locationSet, k.Location) {
			out = append(out, sales.FootfallRecord{Date: k.Date, LocationName: k.Location, Count: count})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].LocationName < out[j].LocationName
	})
	return out, nil
}

func (m *Memory) UpsertEfficiency(_ context.Context, records []sales.EfficiencyRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		m.efficiency[efficiencyKey{Location: r.LocationName, ReportDate: r.ReportDate}] = r
	}
	return len(records), nil
}

func (m *Memory) LatestEfficiency(_ context.Context, from, to sales.Date) ([]sales.EfficiencyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	period := sales.Period{Start: from, End: to}
	latest := make(map[string]sales.EfficiencyRecord)
	for k, r := range m.efficiency {
		if !period.Contains(k.ReportDate) {
			continue
		}
		if cur, ok := latest[k.Location]; !ok || r.ReportDate.After(cur.ReportDate) {
			latest[k.Location] = r
		}
	}
	out := make([]sales.EfficiencyRecord, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return sales.LessLocation(out[i].LocationName, out[j].LocationName) })
	return out, nil
}

// =============================================================================
// RUNS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run sales.IngestionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (*sales.IngestionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, sales.ErrRunNotFound
	}
	return &run, nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]sales.IngestionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]sales.IngestionRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) HasReconciledRun(_ context.Context, source string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.runs {
		if r.Source == source && r.Status == sales.RunReconciled {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func matches(set map[string]bool, v string) bool {
	return set == nil || set[v]
}
