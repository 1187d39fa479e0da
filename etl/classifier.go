/*
Package etl turns raw POS, footfall and efficiency exports into stored records.

PURPOSE:
  Source files are daily exports with noisy free-text fields. This package
  parses them against a strict row schema, infers store identity, and
  reconciles the result into the store so that re-delivering a file never
  duplicates data.

PIPELINE (invoice files):
  RowReader -> Normalizer (schema + Classifier) -> Ingestor -> sales.LineStore

  Every stage is a plain value transformation; the only suspension points are
  the reads from the RowReader and the single ReplaceInvoices call.

KEY TYPES:
  Classifier:         Ordered rule table mapping associate text to a location
  Normalizer:         Raw row -> sales.TransactionLine
  Ingestor:           Reconciles one invoice file (delete-by-invoice + insert)
  FootfallIngestor:   Sums intra-day samples, upserts daily totals
  EfficiencyIngestor: Loads the supplementary efficiency report
  Runner:             Ingests every file in a directory, then archives it
  Locker:             Serializes ingestion (in-process or Redis)

SEE ALSO:
  - sales/store.go: Reconciliation contract
  - api/scheduler.go: Periodic directory ingestion
*/
package etl

import (
	"strings"

	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// CLASSIFIER - Ordered rule table (first match wins)
// =============================================================================

// AssociateFields holds the free-text fields that identify a store.
type AssociateFields struct {
	OrderAssociate string // "Order Associate Name"
	Name           string // "Invoice Associate Name"
	ShortName      string // "Invoice Associate Short Name"
	Code           string // "Invoice Associate Code"
}

// Classification is the canonical identity of a row.
type Classification struct {
	Location string
	Channel  sales.Channel
	Rule     string // Name of the rule that matched
}

// Rule is one entry of the classification table.
type Rule struct {
	Name     string
	Match    func(AssociateFields) bool
	Location string
	Channel  sales.Channel
}

// Classifier applies Rules in order. Rows matching no rule are unclassified
// and must be dropped; they never default to a location.
type Classifier struct {
	Rules []Rule
}

// DefaultRules is the production rule order. Order matters: Palladium rules
// come before the MOA/Asia rules because store free text overlaps.
var DefaultRules = []Rule{
	{
		Name:     "order-associate-webstore",
		Match:    func(f AssociateFields) bool { return containsAny(f.OrderAssociate, "shopify", "webstore", "website") },
		Location: sales.LocationWebstore,
		Channel:  sales.ChannelECommerce,
	},
	{
		Name:     "order-associate-palladium",
		Match:    func(f AssociateFields) bool { return containsAny(f.OrderAssociate, "palladium") },
		Location: sales.LocationPalladium,
		Channel:  sales.ChannelBrickAndMortar,
	},
	{
		Name:     "order-associate-moa",
		Match:    func(f AssociateFields) bool { return containsAny(f.OrderAssociate, "asia", "moa") },
		Location: sales.LocationMOA,
		Channel:  sales.ChannelBrickAndMortar,
	},
	{
		Name: "invoice-associate-palladium",
		Match: func(f AssociateFields) bool {
			return containsAny(f.Name, "palladium") ||
				containsAny(f.ShortName, "palladium", "paddle") ||
				containsAny(f.Code, "palladium", "pho")
		},
		Location: sales.LocationPalladium,
		Channel:  sales.ChannelBrickAndMortar,
	},
	{
		Name: "invoice-associate-moa",
		Match: func(f AssociateFields) bool {
			return containsAny(f.Name, "moa", "asia") ||
				containsAny(f.ShortName, "moa", "asia") ||
				containsAny(f.Code, "jpblrmoa")
		},
		Location: sales.LocationMOA,
		Channel:  sales.ChannelBrickAndMortar,
	},
}

func NewClassifier() *Classifier {
	return &Classifier{Rules: DefaultRules}
}

// Classify returns the first matching rule's identity; ok is false when no
// rule matches.
func (c *Classifier) Classify(f AssociateFields) (Classification, bool) {
	for _, r := range c.Rules {
		if r.Match(f) {
			return Classification{Location: r.Location, Channel: r.Channel, Rule: r.Name}, true
		}
	}
	return Classification{}, false
}

// =============================================================================
// STORE NAME MAPPING (footfall and efficiency exports)
// =============================================================================

// FootfallLocation maps a people-counter store name to a location. Stores
// outside the two physical locations are not tracked.
func FootfallLocation(storeName string) (string, bool) {
	switch {
	case containsAny(storeName, "palladium"):
		return sales.LocationPalladium, true
	case containsAny(storeName, "asia", "moa"):
		return sales.LocationMOA, true
	}
	return "", false
}

// EfficiencyLocation maps a report location name; unknown names are kept as-is.
func EfficiencyLocation(name string) string {
	name = strings.TrimSpace(name)
	switch {
	case containsAny(name, "mall of asia", "moa"):
		return sales.LocationMOA
	case containsAny(name, "palladium"):
		return sales.LocationPalladium
	}
	return name
}

// containsAny is a case-insensitive substring test.
func containsAny(s string, needles ...string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
