package etl

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// ROW - One data row keyed by normalized header
// =============================================================================

// Row is one data row. Keys are normalized header names (see HeaderKey).
type Row struct {
	Line   int // 1-based data row number
	Values map[string]string
}

// Get returns the trimmed value of the first present column among names.
func (r Row) Get(names ...string) string {
	for _, n := range names {
		if v, ok := r.Values[HeaderKey(n)]; ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// HeaderKey normalizes a header cell: BOM and surrounding space removed,
// inner whitespace collapsed, lower-cased. "Invoice Associate Code " and
// "invoice associate code" are the same column.
func HeaderKey(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

// RowReader streams data rows. Next returns io.EOF after the last row.
type RowReader interface {
	Header() []string
	Next() (Row, error)
}

// HasColumn reports whether a reader's header contains the column.
func HasColumn(r RowReader, name string) bool {
	key := HeaderKey(name)
	for _, h := range r.Header() {
		if h == key {
			return true
		}
	}
	return false
}

// =============================================================================
// CSV
// =============================================================================

// CSVReader reads comma- or semicolon-delimited exports. The delimiter is
// detected from the header line.
type CSVReader struct {
	r      *csv.Reader
	header []string
	line   int
}

func NewCSVReader(src io.Reader) (*CSVReader, error) {
	br := bufio.NewReader(src)
	first, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", sales.ErrStreamRead, err)
	}
	if strings.TrimSpace(first) == "" {
		return nil, fmt.Errorf("%w: missing header row", sales.ErrUnsupportedFormat)
	}

	cr := csv.NewReader(io.MultiReader(strings.NewReader(first), br))
	cr.Comma = detectDelimiter(first)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	raw, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", sales.ErrStreamRead, err)
	}
	header := make([]string, len(raw))
	for i, h := range raw {
		header[i] = HeaderKey(h)
	}
	return &CSVReader{r: cr, header: header}, nil
}

func detectDelimiter(headerLine string) rune {
	if strings.Count(headerLine, ";") > strings.Count(headerLine, ",") {
		return ';'
	}
	return ','
}

func (c *CSVReader) Header() []string { return c.header }

func (c *CSVReader) Next() (Row, error) {
	for {
		record, err := c.r.Read()
		if errors.Is(err, io.EOF) {
			return Row{}, io.EOF
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) && !errors.Is(perr.Err, io.ErrUnexpectedEOF) {
				// Malformed record: surface as an empty row so it is counted as rejected.
				c.line++
				return Row{Line: c.line, Values: map[string]string{}}, nil
			}
			return Row{}, fmt.Errorf("%w: %v", sales.ErrStreamRead, err)
		}
		if isBlank(record) {
			continue
		}
		c.line++
		return zipRow(c.line, c.header, record), nil
	}
}

// =============================================================================
// XLSX
// =============================================================================

// XLSXReader reads the first sheet of a workbook. The first non-empty row is
// the header.
type XLSXReader struct {
	rows   [][]string
	header []string
	pos    int
	line   int
}

func NewXLSXReader(src io.Reader) (*XLSXReader, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", sales.ErrStreamRead, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", sales.ErrUnsupportedFormat)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %s: %v", sales.ErrStreamRead, sheets[0], err)
	}

	x := &XLSXReader{rows: rows}
	for x.pos < len(rows) && isBlank(rows[x.pos]) {
		x.pos++
	}
	if x.pos == len(rows) {
		return nil, fmt.Errorf("%w: missing header row", sales.ErrUnsupportedFormat)
	}
	for _, h := range rows[x.pos] {
		x.header = append(x.header, HeaderKey(h))
	}
	x.pos++
	return x, nil
}

func (x *XLSXReader) Header() []string { return x.header }

func (x *XLSXReader) Next() (Row, error) {
	for x.pos < len(x.rows) {
		record := x.rows[x.pos]
		x.pos++
		if isBlank(record) {
			continue
		}
		x.line++
		return zipRow(x.line, x.header, record), nil
	}
	return Row{}, io.EOF
}

// =============================================================================
// OPEN
// =============================================================================

// OpenFile opens a .csv or .xlsx file as a RowReader.
func OpenFile(path string) (RowReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sales.ErrStreamRead, err)
	}
	return NewReader(filepath.Base(path), bytes.NewReader(data))
}

// NewReader picks a reader by file extension.
func NewReader(name string, src io.Reader) (RowReader, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", "":
		return NewCSVReader(src)
	case ".xlsx", ".xlsm":
		return NewXLSXReader(src)
	}
	return nil, fmt.Errorf("%w: %s", sales.ErrUnsupportedFormat, name)
}

// DetectKind infers what a file contains from its header.
func DetectKind(r RowReader) (sales.SourceKind, error) {
	switch {
	case HasColumn(r, colInvoiceNo):
		return sales.SourceInvoices, nil
	case HasColumn(r, colTotalIn):
		return sales.SourceFootfall, nil
	case HasColumn(r, colLocation) && HasColumn(r, colMTDFootfall):
		return sales.SourceEfficiency, nil
	}
	return "", fmt.Errorf("%w: unrecognized header", sales.ErrUnsupportedFormat)
}

// SliceReader serves rows from memory. Used for uploads already parsed and
// for tests.
type SliceReader struct {
	header []string
	rows   [][]string
	pos    int
}

func NewSliceReader(header []string, rows [][]string) *SliceReader {
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = HeaderKey(h)
	}
	return &SliceReader{header: keys, rows: rows}
}

func (s *SliceReader) Header() []string { return s.header }

func (s *SliceReader) Next() (Row, error) {
	if s.pos >= len(s.rows) {
		return Row{}, io.EOF
	}
	s.pos++
	return zipRow(s.pos, s.header, s.rows[s.pos-1]), nil
}

func zipRow(line int, header, record []string) Row {
	values := make(map[string]string, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		if i < len(record) {
			values[h] = record[i]
		} else {
			values[h] = ""
		}
	}
	return Row{Line: line, Values: values}
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
