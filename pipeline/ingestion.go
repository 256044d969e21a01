package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"cardiovision/ml"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LabelColumn optionally carries the ground truth (0 or 1) in training files.
const LabelColumn = "HeartDisease"

var (
	ErrUnsupportedFormat = errors.New("unsupported file format, upload a .csv or .xlsx file")
	ErrMissingColumns    = errors.New("missing required columns")
	ErrEmptyFile         = errors.New("file has no header row")
	ErrMalformedFile     = errors.New("malformed file")
)

// MissingColumnsError names the required columns absent from a header.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingColumns, strings.Join(e.Columns, ", "))
}

func (e *MissingColumnsError) Unwrap() error {
	return ErrMissingColumns
}

// Table is a parsed spreadsheet: a header and string cells. Every row has
// exactly len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Dataset is a table converted to typed records. Labels is nil when the file
// has no label column.
type Dataset struct {
	Records []ml.PatientRecord
	Labels  []int
}

// RequiredColumns are the clinical attributes every dataset must provide.
func RequiredColumns() []string {
	return ml.PatientFields()
}

// SupportedExtension reports whether name has an extension ParseFile accepts.
func SupportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// ParseFile dispatches on the extension of name. CSV input may start with a
// UTF-8 or UTF-16 byte order mark; XLSX input is read from its first sheet.
func ParseFile(name string, r io.Reader) (*Table, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		rows, err = readCSV(r)
	case ".xlsx":
		rows, err = readXLSX(r)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	return newTable(rows)
}

func readCSV(r io.Reader) ([][]string, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: csv: %v", ErrMalformedFile, err)
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: xlsx: %v", ErrMalformedFile, err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %s: %v", ErrMalformedFile, sheets[0], err)
	}
	return rows, nil
}

func newTable(rows [][]string) (*Table, error) {
	start := 0
	for start < len(rows) && blank(rows[start]) {
		start++
	}
	if start == len(rows) {
		return nil, ErrEmptyFile
	}

	header := make([]string, len(rows[start]))
	for i, cell := range rows[start] {
		header[i] = strings.TrimSpace(cell)
	}
	for len(header) > 0 && header[len(header)-1] == "" {
		header = header[:len(header)-1]
	}

	table := &Table{Header: header, Rows: make([][]string, 0, len(rows)-start-1)}
	for _, row := range rows[start+1:] {
		if blank(row) {
			continue
		}
		cells := make([]string, len(header))
		for i := range cells {
			if i < len(row) {
				cells[i] = strings.TrimSpace(row[i])
			}
		}
		table.Rows = append(table.Rows, cells)
	}
	return table, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// ValidateHeader fails with *MissingColumnsError when a required column is absent.
func ValidateHeader(header []string) error {
	present := make(map[string]bool, len(header))
	for _, name := range header {
		present[name] = true
	}
	var missing []string
	for _, name := range RequiredColumns() {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnsError{Columns: missing}
	}
	return nil
}

// Index maps column name to position.
func (t *Table) Index() map[string]int {
	index := make(map[string]int, len(t.Header))
	for i, name := range t.Header {
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	return index
}

// HasLabels reports whether the table carries the label column.
func (t *Table) HasLabels() bool {
	_, ok := t.Index()[LabelColumn]
	return ok
}

// ToRecords validates the header and converts every row, failing on the first
// cell that cannot be parsed. Row numbers in errors are zero-based data rows.
func ToRecords(t *Table) (*Dataset, error) {
	if err := ValidateHeader(t.Header); err != nil {
		return nil, err
	}
	index := t.Index()
	labelIdx, hasLabels := index[LabelColumn]

	ds := &Dataset{Records: make([]ml.PatientRecord, len(t.Rows))}
	if hasLabels {
		ds.Labels = make([]int, len(t.Rows))
	}
	for i, row := range t.Rows {
		for _, field := range RequiredColumns() {
			raw := row[index[field]]
			if raw == "" {
				return nil, &ml.ValidationError{Row: i, Field: field, Reason: "missing value"}
			}
			if err := ds.Records[i].Set(field, raw); err != nil {
				return nil, &ml.ValidationError{Row: i, Field: field, Reason: fmt.Sprintf("%q is not a number", raw)}
			}
		}
		if hasLabels {
			label, err := parseLabel(row[labelIdx])
			if err != nil {
				return nil, &ml.ValidationError{Row: i, Field: LabelColumn, Reason: err.Error()}
			}
			ds.Labels[i] = label
		}
	}
	return ds, nil
}

func parseLabel(raw string) (int, error) {
	if v, err := strconv.Atoi(raw); err == nil && (v == 0 || v == 1) {
		return v, nil
	}
	label, err := ml.ParseRiskLabel(raw)
	if err != nil {
		return 0, fmt.Errorf("label %q must be 0 or 1", raw)
	}
	return int(label), nil
}

// ReadDataset parses a file and converts it to records.
func ReadDataset(name string, r io.Reader) (*Dataset, error) {
	table, err := ParseFile(name, r)
	if err != nil {
		return nil, err
	}
	return ToRecords(table)
}
