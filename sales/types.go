/*
Package sales provides the core record types of the retail reporting pipeline.

PURPOSE:
  Everything downstream (ingestion, persistence, metrics) speaks in these
  types. Raw POS exports are normalized into TransactionLine values; store
  entry counters become FootfallRecord values; externally computed efficiency
  figures become EfficiencyRecord values.

KEY CONCEPTS IN THIS FILE (types.go):
  - TransactionLine: One line item of one invoice (many lines share an invoice)
  - TransactionType: IV/IR sales, SR/CN returns
  - Channel: Brick and Mortar or E-Commerce
  - FootfallRecord: Daily store entry count per location
  - EfficiencyRecord: Supplementary, externally reported footfall/conversion
  - IngestionRun: Audit row for every processed source file

INVOICE INVARIANT:
  The lines sharing an invoice number at a location form ONE customer
  transaction. Transaction counts are computed on invoices, never on lines.
  Lines are never updated in place; a re-delivered invoice replaces all of
  its previously stored lines (see store.go, LineStore.ReplaceInvoices).

MONEY:
  Currency amounts use decimal.Decimal to avoid floating-point drift when
  summing thousands of line values.

SEE ALSO:
  - date.go, period.go: Calendar primitives
  - store.go: Persistence interfaces
  - etl/: Builds these records from raw files
  - metrics/: Aggregates them
*/
package sales

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION TYPE
// =============================================================================

type TransactionType string

const (
	TypeInvoice       TransactionType = "IV" // Sale
	TypeInvoiceReturn TransactionType = "IR" // Sale variant
	TypeSalesReturn   TransactionType = "SR" // Return
	TypeCreditNote    TransactionType = "CN" // Return / credit note
)

// ParseTransactionType normalizes a raw type code. Unknown codes return false.
func ParseTransactionType(s string) (TransactionType, bool) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeInvoice, TypeInvoiceReturn, TypeSalesReturn, TypeCreditNote:
		return t, true
	}
	return "", false
}

// IsSale reports whether the type is a countable sale type.
func (t TransactionType) IsSale() bool { return t == TypeInvoice || t == TypeInvoiceReturn }

// IsReturn reports whether the type is a return or credit note.
func (t TransactionType) IsReturn() bool { return t == TypeSalesReturn || t == TypeCreditNote }

// =============================================================================
// CHANNEL & LOCATION
// =============================================================================

type Channel string

const (
	ChannelBrickAndMortar Channel = "Brick and Mortar"
	ChannelECommerce      Channel = "E-Commerce"
)

// Canonical store identities.
const (
	LocationPalladium = "Jacadi Palladium"
	LocationMOA       = "Jacadi MOA"
	LocationWebstore  = "Shopify Webstore"
)

// LineCategorySales marks merchandise lines (as opposed to consumables,
// gift wrap and other non-merchandise lines).
const LineCategorySales = "Sales"

// LocationRank orders locations for display: the two stores, the webstore,
// then everything else.
func LocationRank(name string) int {
	switch name {
	case LocationPalladium:
		return 0
	case LocationMOA:
		return 1
	case LocationWebstore:
		return 2
	}
	return 3
}

// LessLocation sorts by LocationRank, then alphabetically.
func LessLocation(a, b string) bool {
	ra, rb := LocationRank(a), LocationRank(b)
	if ra != rb {
		return ra < rb
	}
	return a < b
}

// =============================================================================
// TRANSACTION LINE
// =============================================================================

// TransactionLine is one line item of one invoice.
type TransactionLine struct {
	ID              string
	InvoiceNo       string
	InvoiceDate     Date
	InvoiceMonth    string
	InvoiceTime     string
	TransactionType TransactionType

	OrderChannelCode      string
	OrderChannel          Channel
	OrderAssociateName    string
	InvoiceChannelCode    string
	InvoiceChannelName    string
	InvoiceSubChannelCode string
	InvoiceSubChannelName string

	LocationCode string
	LocationName string
	City         string
	State        string

	Quantity        int
	UnitMRP         decimal.Decimal
	MRPValue        decimal.Decimal
	DiscountValue   decimal.Decimal
	DiscountPercent decimal.Decimal
	BasicValue      decimal.Decimal
	TaxPercent      decimal.Decimal
	TaxAmount       decimal.Decimal
	NettValue       decimal.Decimal

	SalesPersonCode string
	SalesPersonName string
	ConsumerCode    string
	ConsumerName    string
	ConsumerMobile  string

	ProductCode  string
	ProductName  string
	CategoryName string
	BrandName    string
	LineCategory string

	// WhatsappAssisted is stamped at ingestion from SalesPersonName.
	WhatsappAssisted bool

	SourceFile string
	IngestedAt time.Time
}

// IsSalesLine reports whether the line is a merchandise line.
func (l TransactionLine) IsSalesLine() bool {
	return strings.EqualFold(strings.TrimSpace(l.LineCategory), LineCategorySales)
}

// =============================================================================
// FOOTFALL & EFFICIENCY
// =============================================================================

// FootfallRecord is the total store entry count of one location on one day.
// Unique per (Date, LocationName); re-ingestion overwrites.
type FootfallRecord struct {
	Date         Date
	LocationName string
	Count        int
}

// EfficiencyRecord carries externally reported figures for one location as of
// one report date. Consulted only when computed footfall is unavailable.
type EfficiencyRecord struct {
	LocationName    string
	ReportDate      Date
	Footfall        int
	ConversionPct   decimal.Decimal
	MultiesPct      decimal.Decimal
	PMFootfall      int
	PMConversionPct decimal.Decimal
	PMMultiesPct    decimal.Decimal
}

// =============================================================================
// INGESTION RUN
// =============================================================================

// SourceKind identifies the type of file being ingested.
type SourceKind string

const (
	SourceInvoices   SourceKind = "invoices"
	SourceFootfall   SourceKind = "footfall"
	SourceEfficiency SourceKind = "efficiency"
)

// RunStatus is the state of an ingestion run.
//
//	pending -> validated -> reconciled
//	   \           \
//	    +-> failed  +-> failed
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunValidated  RunStatus = "validated"
	RunReconciled RunStatus = "reconciled"
	RunFailed     RunStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool { return s == RunReconciled || s == RunFailed }

// IngestionStats counts what happened to the rows of one source file.
type IngestionStats struct {
	RowsRead     int `json:"rows_read"`
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	Unclassified int `json:"unclassified"`
	Invoices     int `json:"invoices"`
	Deleted      int `json:"deleted"`
	Inserted     int `json:"inserted"`
}

// IngestionRun records the processing of one source file.
type IngestionRun struct {
	ID          string
	Source      string
	Kind        SourceKind
	Status      RunStatus
	Stats       IngestionStats
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
