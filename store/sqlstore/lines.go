package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// LINE STORE (sales.LineStore interface)
// =============================================================================

const lineColumns = `id, invoice_no, invoice_date, invoice_month, invoice_time, transaction_type,
	order_channel_code, order_channel, order_associate_name, invoice_channel_code, invoice_channel_name,
	invoice_sub_channel_code, invoice_sub_channel_name, location_code, location_name, city, state,
	quantity, unit_mrp, mrp_value, discount_value, discount_percent, basic_value, tax_percent, tax_amount,
	nett_value, sales_person_code, sales_person_name, consumer_code, consumer_name, consumer_mobile,
	product_code, product_name, category_name, brand_name, line_category, whatsapp_assisted,
	source_file, ingested_at`

const lineColumnCount = 39

// ReplaceInvoices deletes every stored line of the batch's invoices and
// inserts the batch in one transaction.
func (s *Store) ReplaceInvoices(ctx context.Context, lines []sales.TransactionLine) (sales.ReplaceResult, error) {
	seen := make(map[string]bool)
	var invoices []string
	for _, l := range lines {
		if l.InvoiceNo == "" {
			return sales.ReplaceResult{}, fmt.Errorf("line %s has no invoice number", l.ID)
		}
		if !seen[l.InvoiceNo] {
			seen[l.InvoiceNo] = true
			invoices = append(invoices, l.InvoiceNo)
		}
	}
	res := sales.ReplaceResult{Invoices: len(invoices)}
	if len(lines) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sales.ReplaceResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(invoices); start += deleteChunk {
		end := min(start+deleteChunk, len(invoices))
		where, args := inClause("invoice_no", invoices[start:end])
		r, err := tx.ExecContext(ctx, "DELETE FROM sales_transactions WHERE "+where, args...)
		if err != nil {
			return sales.ReplaceResult{}, fmt.Errorf("failed to delete invoices: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return sales.ReplaceResult{}, err
		}
		res.Deleted += int(n)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO sales_transactions (%s) VALUES (%s)", lineColumns, placeholders(lineColumnCount)))
	if err != nil {
		return sales.ReplaceResult{}, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range lines {
		if _, err := stmt.ExecContext(ctx, lineArgs(l)...); err != nil {
			return sales.ReplaceResult{}, fmt.Errorf("failed to insert line %s of invoice %s: %w", l.ID, l.InvoiceNo, err)
		}
		res.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return sales.ReplaceResult{}, fmt.Errorf("failed to commit: %w", err)
	}
	return res, nil
}

func lineArgs(l sales.TransactionLine) []any {
	whatsapp := 0
	if l.WhatsappAssisted {
		whatsapp = 1
	}
	return []any{
		l.ID, l.InvoiceNo, dateString(l.InvoiceDate), nullString(l.InvoiceMonth), nullString(l.InvoiceTime),
		string(l.TransactionType), nullString(l.OrderChannelCode), string(l.OrderChannel),
		nullString(l.OrderAssociateName), nullString(l.InvoiceChannelCode), nullString(l.InvoiceChannelName),
		nullString(l.InvoiceSubChannelCode), nullString(l.InvoiceSubChannelName), nullString(l.LocationCode),
		l.LocationName, nullString(l.City), nullString(l.State),
		l.Quantity, l.UnitMRP.String(), l.MRPValue.String(), l.DiscountValue.String(), l.DiscountPercent.String(),
		l.BasicValue.String(), l.TaxPercent.String(), l.TaxAmount.String(), l.NettValue.String(),
		nullString(l.SalesPersonCode), nullString(l.SalesPersonName), nullString(l.ConsumerCode),
		nullString(l.ConsumerName), nullString(l.ConsumerMobile), nullString(l.ProductCode),
		nullString(l.ProductName), nullString(l.CategoryName), nullString(l.BrandName), nullString(l.LineCategory),
		whatsapp, nullString(l.SourceFile), formatTime(l.IngestedAt),
	}
}

// LoadLines returns lines matching q ordered by date, invoice, id.
func (s *Store) LoadLines(ctx context.Context, q sales.LineQuery) ([]sales.TransactionLine, error) {
	var (
		conds []string
		args  []any
	)
	if !q.From.IsZero() {
		conds = append(conds, "invoice_date >= ?")
		args = append(args, dateString(q.From))
	}
	if !q.To.IsZero() {
		conds = append(conds, "invoice_date <= ?")
		args = append(args, dateString(q.To))
	}
	for _, f := range []struct {
		col    string
		values []string
	}{
		{"location_name", q.Locations},
		{"brand_name", q.Brands},
		{"category_name", q.Categories},
	} {
		if c, a := inClause(f.col, f.values); c != "" {
			conds = append(conds, c)
			args = append(args, a...)
		}
	}

	query := "SELECT " + lineColumns + " FROM sales_transactions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY invoice_date, invoice_no, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var lines []sales.TransactionLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanLine(rows *sql.Rows) (sales.TransactionLine, error) {
	var (
		l                                                  sales.TransactionLine
		invoiceDate, txType, channel, ingestedAt           string
		invoiceMonth, invoiceTime, orderChannelCode        sql.NullString
		orderAssociate, invChannelCode, invChannelName     sql.NullString
		invSubChannelCode, invSubChannelName, locCode      sql.NullString
		city, state, spCode, spName                        sql.NullString
		consumerCode, consumerName, consumerMobile         sql.NullString
		productCode, productName, category, brand, lineCat sql.NullString
		sourceFile                                         sql.NullString
		whatsapp                                           int
	)
	err := rows.Scan(
		&l.ID, &l.InvoiceNo, &invoiceDate, &invoiceMonth, &invoiceTime, &txType,
		&orderChannelCode, &channel, &orderAssociate, &invChannelCode, &invChannelName,
		&invSubChannelCode, &invSubChannelName, &locCode, &l.LocationName, &city, &state,
		&l.Quantity, &l.UnitMRP, &l.MRPValue, &l.DiscountValue, &l.DiscountPercent, &l.BasicValue,
		&l.TaxPercent, &l.TaxAmount, &l.NettValue, &spCode, &spName, &consumerCode, &consumerName,
		&consumerMobile, &productCode, &productName, &category, &brand, &lineCat, &whatsapp,
		&sourceFile, &ingestedAt,
	)
	if err != nil {
		return l, fmt.Errorf("failed to scan line: %w", err)
	}

	if l.InvoiceDate, err = parseDate("invoice_date", invoiceDate); err != nil {
		return l, fmt.Errorf("failed to scan line %s: %w", l.ID, err)
	}
	l.InvoiceMonth = invoiceMonth.String
	l.InvoiceTime = invoiceTime.String
	l.TransactionType = sales.TransactionType(txType)
	l.OrderChannelCode = orderChannelCode.String
	l.OrderChannel = sales.Channel(channel)
	l.OrderAssociateName = orderAssociate.String
	l.InvoiceChannelCode = invChannelCode.String
	l.InvoiceChannelName = invChannelName.String
	l.InvoiceSubChannelCode = invSubChannelCode.String
	l.InvoiceSubChannelName = invSubChannelName.String
	l.LocationCode = locCode.String
	l.City = city.String
	l.State = state.String
	l.SalesPersonCode = spCode.String
	l.SalesPersonName = spName.String
	l.ConsumerCode = consumerCode.String
	l.ConsumerName = consumerName.String
	l.ConsumerMobile = consumerMobile.String
	l.ProductCode = productCode.String
	l.ProductName = productName.String
	l.CategoryName = category.String
	l.BrandName = brand.String
	l.LineCategory = lineCat.String
	l.WhatsappAssisted = whatsapp != 0
	l.SourceFile = sourceFile.String
	l.IngestedAt = parseTime(ingestedAt)
	return l, nil
}

func (s *Store) CountLines(ctx context.Context, invoiceNo string) (int, error) {
	query, args := "SELECT COUNT(*) FROM sales_transactions", []any{}
	if invoiceNo != "" {
		query += " WHERE invoice_no = ?"
		args = append(args, invoiceNo)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count lines: %w", err)
	}
	return n, nil
}

func (s *Store) MaxInvoiceDate(ctx context.Context) (sales.Date, bool, error) {
	var max sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(invoice_date) FROM sales_transactions").Scan(&max); err != nil {
		return sales.Date{}, false, fmt.Errorf("failed to query latest date: %w", err)
	}
	if !max.Valid || max.String == "" {
		return sales.Date{}, false, nil
	}
	d, err := parseDate("invoice_date", max.String)
	if err != nil {
		return sales.Date{}, false, fmt.Errorf("failed to query latest date: %w", err)
	}
	return d, true, nil
}

// =============================================================================
// LOOKUPS
// =============================================================================

func (s *Store) DistinctLocations(ctx context.Context, brands []string) ([]string, error) {
	out, err := s.distinct(ctx, "location_name", map[string][]string{"brand_name": brands})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return sales.LessLocation(out[i], out[j]) })
	return out, nil
}

func (s *Store) DistinctBrands(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "brand_name", nil)
}

func (s *Store) DistinctCategories(ctx context.Context, brands, locations []string) ([]string, error) {
	return s.distinct(ctx, "category_name", map[string][]string{
		"brand_name":    brands,
		"location_name": locations,
	})
}

func (s *Store) distinct(ctx context.Context, col string, filters map[string][]string) ([]string, error) {
	conds := []string{col + " IS NOT NULL", col + " <> ''"}
	var args []any
	for _, f := range []string{"brand_name", "location_name"} {
		if c, a := inClause(f, filters[f]); c != "" {
			conds = append(conds, c)
			args = append(args, a...)
		}
	}
	query := fmt.Sprintf("SELECT DISTINCT %s FROM sales_transactions WHERE %s ORDER BY %s",
		col, strings.Join(conds, " AND "), col)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", col, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
