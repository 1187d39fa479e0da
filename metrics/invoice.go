/*
Package metrics computes the dashboard figures from stored transaction lines.

PURPOSE:
  Every view (retail performance, efficiency, omni-channel, whatsapp split,
  retail+omni totals, summary) is computed from ONE snapshot of lines
  collapsed to invoices, using ONE set of reporting windows. Views therefore
  agree wherever they report the same quantity.

THE COLLAPSE RULE:
  Lines are first summed to invoice level. Only then are transactions
  counted. Counting lines as transactions is the defect this package exists
  to avoid.

  An invoice is a COUNTED transaction when:
    - its type is IV or IR, AND
    - at least one of its lines is a "Sales" (merchandise) line, AND
    - its summed nett value is > 0.

  An invoice is a RETURN when its type is SR or CN.

FORMULAS (identical in every view):
  Sale        = Σ nett of all invoices in the window (returns net out)
  Trx         = count of counted invoices
  Units       = Σ quantity of "Sales" lines
  ATV         = Sale / Trx
  BasketSize  = Units / Trx
  Multies%    = 100 × counted invoices with Units > 1 / Trx
  Conversion% = 100 × max(Trx − Returns, 0) / Footfall
  Any zero denominator yields 0.

WHATSAPP ATTRIBUTION:
  An invoice is Whatsapp-assisted when its channel is E-Commerce, or any of
  its lines has a salesperson matching the Whatsapp pattern. Every view that
  splits retail vs whatsapp uses Invoice.Whatsapp, so the split always sums
  to the total.

SEE ALSO:
  - reporting/window.go: Window resolution
  - views.go: Row shapes
*/
package metrics

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// INVOICE - Lines collapsed to one customer transaction
// =============================================================================

// InvoiceKey identifies an invoice. Invoice numbers are only unique per store.
type InvoiceKey struct {
	Location string
	No       string
}

type Invoice struct {
	Key          InvoiceKey
	Date         sales.Date
	Type         sales.TransactionType
	Channel      sales.Channel
	Nett         decimal.Decimal
	Quantity     int // all lines
	SalesUnits   int // "Sales" lines only
	HasSalesLine bool
	Whatsapp     bool
	Lines        int
}

func (inv Invoice) Location() string { return inv.Key.Location }

// Counted reports whether the invoice counts as a sales transaction.
func (inv Invoice) Counted() bool {
	return inv.Type.IsSale() && inv.HasSalesLine && inv.Nett.IsPositive()
}

// IsReturn reports whether the invoice is a return or credit note.
func (inv Invoice) IsReturn() bool { return inv.Type.IsReturn() }

// IsMulti reports whether a counted invoice sold more than one unit.
func (inv Invoice) IsMulti() bool { return inv.Counted() && inv.SalesUnits > 1 }

// LineWhatsapp decides whether a single line marks its invoice as assisted.
type LineWhatsapp func(sales.TransactionLine) bool

// Collapse sums lines to invoices. The invoice date is the earliest line date;
// its type is that of its first line; it is E-Commerce if any line is.
func Collapse(lines []sales.TransactionLine, whatsapp LineWhatsapp) []Invoice {
	index := make(map[InvoiceKey]int)
	var out []Invoice
	for _, l := range lines {
		key := InvoiceKey{Location: l.LocationName, No: l.InvoiceNo}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Invoice{
				Key:     key,
				Date:    l.InvoiceDate,
				Type:    l.TransactionType,
				Channel: l.OrderChannel,
				Nett:    decimal.Zero,
			})
		}
		inv := &out[i]
		inv.Lines++
		inv.Nett = inv.Nett.Add(l.NettValue)
		inv.Quantity += l.Quantity
		if l.IsSalesLine() {
			inv.HasSalesLine = true
			inv.SalesUnits += l.Quantity
		}
		if l.InvoiceDate.Before(inv.Date) {
			inv.Date = l.InvoiceDate
		}
		if l.OrderChannel == sales.ChannelECommerce {
			inv.Channel = sales.ChannelECommerce
		}
		if whatsapp != nil && whatsapp(l) {
			inv.Whatsapp = true
		}
	}
	for i := range out {
		if out[i].Channel == sales.ChannelECommerce {
			out[i].Whatsapp = true
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Key.No < out[j].Key.No
	})
	return out
}

// =============================================================================
// BUCKET - Additive totals for one (location, window)
// =============================================================================

// Bucket accumulates invoices. All derived ratios are computed from these
// raw fields so they reconcile across views.
type Bucket struct {
	Sale         decimal.Decimal
	RetailSale   decimal.Decimal
	WhatsappSale decimal.Decimal
	Trx          int
	RetailTrx    int
	WhatsappTrx  int
	Returns      int
	Units        int
	MultiTrx     int
	Invoices     int
}

func (b *Bucket) Add(inv Invoice) {
	b.Invoices++
	b.Sale = b.Sale.Add(inv.Nett)
	if inv.Whatsapp {
		b.WhatsappSale = b.WhatsappSale.Add(inv.Nett)
	} else {
		b.RetailSale = b.RetailSale.Add(inv.Nett)
	}
	b.Units += inv.SalesUnits
	if inv.IsReturn() {
		b.Returns++
	}
	if inv.Counted() {
		b.Trx++
		if inv.Whatsapp {
			b.WhatsappTrx++
		} else {
			b.RetailTrx++
		}
		if inv.IsMulti() {
			b.MultiTrx++
		}
	}
}

// Merge adds another bucket's totals.
func (b *Bucket) Merge(o Bucket) {
	b.Sale = b.Sale.Add(o.Sale)
	b.RetailSale = b.RetailSale.Add(o.RetailSale)
	b.WhatsappSale = b.WhatsappSale.Add(o.WhatsappSale)
	b.Trx += o.Trx
	b.RetailTrx += o.RetailTrx
	b.WhatsappTrx += o.WhatsappTrx
	b.Returns += o.Returns
	b.Units += o.Units
	b.MultiTrx += o.MultiTrx
	b.Invoices += o.Invoices
}

func (b Bucket) ATV() decimal.Decimal { return ratio(b.Sale, decimal.NewFromInt(int64(b.Trx))) }

func (b Bucket) BasketSize() decimal.Decimal {
	return ratio(decimal.NewFromInt(int64(b.Units)), decimal.NewFromInt(int64(b.Trx)))
}

func (b Bucket) MultiesPct() decimal.Decimal {
	return percent(int64(b.MultiTrx), int64(b.Trx))
}

// NetTrx is counted sales minus returns, floored at 0.
func (b Bucket) NetTrx() int {
	if n := b.Trx - b.Returns; n > 0 {
		return n
	}
	return 0
}

func (b Bucket) ConversionPct(footfall int) decimal.Decimal {
	return percent(int64(b.NetTrx()), int64(footfall))
}

var hundred = decimal.NewFromInt(100)

// ratio divides and rounds to 2 places; a zero denominator yields 0.
func ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den).Round(2)
}

func percent(num, den int64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(num).Mul(hundred).Div(decimal.NewFromInt(den)).Round(2)
}
