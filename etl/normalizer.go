package etl

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/retail-dsr/sales"
)

// Column names of the exports. Matching is done on HeaderKey, so case and
// stray whitespace in the source header do not matter.
const (
	colInvoiceNo   = "Invoice No"
	colTotalIn     = "Total IN"
	colLocation    = "Location"
	colMTDFootfall = "MTD Footfall"
)

// ErrUnclassified marks a row whose store identity could not be inferred.
// Such rows are dropped and counted, never stored.
var ErrUnclassified = errors.New("unclassifiable location")

// =============================================================================
// ROW SCHEMA
// =============================================================================

// invoiceRow is the strict schema of one POS export row. Fields are filled by
// csv tag; `clean:"number"` strips thousands separators and percent signs
// before validation.
type invoiceRow struct {
	InvoiceNo       string `csv:"Invoice No" validate:"required"`
	InvoiceDate     string `csv:"Invoice Date" validate:"required"`
	InvoiceMonth    string `csv:"Invoice Month"`
	InvoiceTime     string `csv:"Invoice Time"`
	TransactionType string `csv:"Sales Transaction Type (IV/SR/IR)" clean:"upper" validate:"required,oneof=IV IR SR CN"`

	OrderChannelCode      string `csv:"Order Business Channel Code"`
	OrderAssociateName    string `csv:"Order Associate Name"`
	InvoiceChannelCode    string `csv:"Invoice Business Channel Code"`
	InvoiceChannelName    string `csv:"Invoice Business Channel Name"`
	InvoiceSubChannelCode string `csv:"Invoice Business Sub Channel Code"`
	InvoiceSubChannelName string `csv:"Invoice Business Sub Channel Name"`

	AssociateCode      string `csv:"Invoice Associate Code"`
	AssociateShortName string `csv:"Invoice Associate Short Name"`
	AssociateName      string `csv:"Invoice Associate Name"`
	City               string `csv:"Invoice Associate Town name"`
	State              string `csv:"Invoice Associate State name"`

	Quantity        string `csv:"Total Sales Qty" clean:"number" validate:"omitempty,numeric"`
	UnitMRP         string `csv:"Unit MRP" clean:"number" validate:"omitempty,numeric"`
	MRPValue        string `csv:"Invoice MRP Value" clean:"number" validate:"omitempty,numeric"`
	DiscountValue   string `csv:"Invoice Discount Value" clean:"number" validate:"omitempty,numeric"`
	DiscountPercent string `csv:"Invoice Discount Percentage" clean:"number" validate:"omitempty,numeric"`
	BasicValue      string `csv:"Invoice Basic Value" clean:"number" validate:"omitempty,numeric"`
	TaxPercent      string `csv:"Total Tax %" clean:"number" validate:"omitempty,numeric"`
	TaxAmount       string `csv:"Total Tax Amt" clean:"number" validate:"omitempty,numeric"`
	NettValue       string `csv:"Nett Invoice Value" clean:"number" validate:"omitempty,numeric"`

	SalesPersonCode string `csv:"Sales Person Code"`
	SalesPersonName string `csv:"Sales Person Name"`
	ConsumerCode    string `csv:"Consumer Code"`
	ConsumerName    string `csv:"Consumer Name"`
	ConsumerMobile  string `csv:"Consumer Mobile"`

	ProductCode  string `csv:"Product Code"`
	ProductName  string `csv:"Product SKU Desc"`
	CategoryName string `csv:"Category Name"`
	BrandName    string `csv:"Brand Name"`
	LineCategory string `csv:"MH1 Description"`
}

// newValidator reports field errors by column name instead of Go field name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("csv")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRow fills the string fields of dst (a struct pointer) from row.
func decodeRow(row Row, dst any) {
	v := reflect.ValueOf(dst).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("csv")
		if name == "" || f.Type.Kind() != reflect.String {
			continue
		}
		val := row.Get(name)
		switch f.Tag.Get("clean") {
		case "number":
			val = cleanNumber(val)
		case "upper":
			val = strings.ToUpper(val)
		}
		v.Field(i).SetString(val)
	}
}

// cleanNumber strips thousands separators, percent signs and spaces.
func cleanNumber(s string) string {
	return strings.NewReplacer(",", "", "%", "", " ", "").Replace(strings.TrimSpace(s))
}

// validateRow runs the schema and converts the first failure into a RowError.
func validateRow(v *validator.Validate, line int, row any) error {
	err := v.Struct(row)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &sales.RowError{Line: line, Column: fe.Field(), Reason: reasonFor(fe)}
	}
	return &sales.RowError{Line: line, Reason: err.Error()}
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "missing value"
	case "numeric":
		return fmt.Sprintf("not a number: %q", fe.Value())
	case "oneof":
		return fmt.Sprintf("unknown value %q (want one of %s)", fe.Value(), fe.Param())
	}
	return "failed " + fe.Tag()
}

// =============================================================================
// NORMALIZER
// =============================================================================

// Normalizer turns raw export rows into TransactionLines.
type Normalizer struct {
	Classifier *Classifier
	Whatsapp   sales.WhatsappMatcher
	Now        func() time.Time
	NewID      func() string

	validate *validator.Validate
}

func NewNormalizer(classifier *Classifier, whatsapp sales.WhatsappMatcher) *Normalizer {
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &Normalizer{
		Classifier: classifier,
		Whatsapp:   whatsapp,
		Now:        time.Now,
		NewID:      uuid.NewString,
		validate:   newValidator(),
	}
}

// Normalize parses one row. It returns a *sales.RowError for rows failing the
// schema or coercion, and ErrUnclassified for rows no classifier rule accepts.
func (n *Normalizer) Normalize(row Row, source string) (sales.TransactionLine, error) {
	var raw invoiceRow
	decodeRow(row, &raw)
	if err := validateRow(n.validate, row.Line, &raw); err != nil {
		return sales.TransactionLine{}, err
	}

	date, err := sales.ParseAnyDate(raw.InvoiceDate)
	if err != nil {
		return sales.TransactionLine{}, &sales.RowError{Line: row.Line, Column: "Invoice Date", Reason: err.Error()}
	}
	txType, _ := sales.ParseTransactionType(raw.TransactionType)

	qty, err := decimalOrZero(raw.Quantity)
	if err != nil || !qty.Equal(qty.Truncate(0)) {
		return sales.TransactionLine{}, &sales.RowError{Line: row.Line, Column: "Total Sales Qty", Reason: "quantity must be a whole number"}
	}

	class, ok := n.Classifier.Classify(AssociateFields{
		OrderAssociate: raw.OrderAssociateName,
		Name:           raw.AssociateName,
		ShortName:      raw.AssociateShortName,
		Code:           raw.AssociateCode,
	})
	if !ok {
		return sales.TransactionLine{}, fmt.Errorf("row %d: %w", row.Line, ErrUnclassified)
	}

	line := sales.TransactionLine{
		ID:                    n.NewID(),
		InvoiceNo:             raw.InvoiceNo,
		InvoiceDate:           date,
		InvoiceMonth:          raw.InvoiceMonth,
		InvoiceTime:           raw.InvoiceTime,
		TransactionType:       txType,
		OrderChannelCode:      raw.OrderChannelCode,
		OrderChannel:          class.Channel,
		OrderAssociateName:    raw.OrderAssociateName,
		InvoiceChannelCode:    raw.InvoiceChannelCode,
		InvoiceChannelName:    raw.InvoiceChannelName,
		InvoiceSubChannelCode: raw.InvoiceSubChannelCode,
		InvoiceSubChannelName: raw.InvoiceSubChannelName,
		LocationCode:          raw.AssociateCode,
		LocationName:          class.Location,
		City:                  raw.City,
		State:                 raw.State,
		Quantity:              int(qty.IntPart()),
		SalesPersonCode:       raw.SalesPersonCode,
		SalesPersonName:       raw.SalesPersonName,
		ConsumerCode:          raw.ConsumerCode,
		ConsumerName:          raw.ConsumerName,
		ConsumerMobile:        raw.ConsumerMobile,
		ProductCode:           raw.ProductCode,
		ProductName:           raw.ProductName,
		CategoryName:          raw.CategoryName,
		BrandName:             raw.BrandName,
		LineCategory:          raw.LineCategory,
		WhatsappAssisted:      n.Whatsapp.Matches(raw.SalesPersonName),
		SourceFile:            source,
		IngestedAt:            n.Now().UTC(),
	}

	money := []struct {
		dst *decimal.Decimal
		src string
		col string
	}{
		{&line.UnitMRP, raw.UnitMRP, "Unit MRP"},
		{&line.MRPValue, raw.MRPValue, "Invoice MRP Value"},
		{&line.DiscountValue, raw.DiscountValue, "Invoice Discount Value"},
		{&line.DiscountPercent, raw.DiscountPercent, "Invoice Discount Percentage"},
		{&line.BasicValue, raw.BasicValue, "Invoice Basic Value"},
		{&line.TaxPercent, raw.TaxPercent, "Total Tax %"},
		{&line.TaxAmount, raw.TaxAmount, "Total Tax Amt"},
		{&line.NettValue, raw.NettValue, "Nett Invoice Value"},
	}
	for _, m := range money {
		d, err := decimalOrZero(m.src)
		if err != nil {
			return sales.TransactionLine{}, &sales.RowError{Line: row.Line, Column: m.col, Reason: err.Error()}
		}
		*m.dst = d
	}
	return line, nil
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
