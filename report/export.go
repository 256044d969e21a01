package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"cardiovision/ml"
)

// SheetName is the worksheet written by ExportXLSX.
const SheetName = "Results"

var ErrUnknownFormat = errors.New("unknown export format, use csv or xlsx")

// Format selects the export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat defaults to csv when s is empty.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", ErrUnknownFormat
	}
}

// ContentType for the HTTP download.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename appends the extension to base, stripping characters that would
// break a Content-Disposition header.
func (f Format) Filename(base string) string {
	base = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', '/', '\r', '\n':
			return -1
		}
		return r
	}, strings.TrimSpace(base))
	if base == "" {
		base = "predictions"
	}
	ext := "." + string(f)
	if strings.HasSuffix(strings.ToLower(base), ext) {
		return base
	}
	return base + ext
}

// Row is one predicted patient.
type Row struct {
	Record ml.PatientRecord
	Label  ml.RiskLabel
}

// Headings are the human readable export column names.
var Headings = []string{
	"Age",
	"Gender",
	"Chest Pain Type",
	"Blood Pressure",
	"Cholesterol",
	"Fasting Blood Sugar",
	"Resting Electrocardiogram",
	"Max Heart Rate",
	"Exercise Angina",
	"Oldpeak",
	"ST Slope",
	"Prediction",
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func cells(row Row) []string {
	r := row.Record
	return []string{
		formatNumber(r.Age),
		r.Sex,
		r.ChestPainType,
		formatNumber(r.RestingBP),
		formatNumber(r.Cholesterol),
		formatNumber(r.FastingBS),
		r.RestingECG,
		formatNumber(r.MaxHR),
		r.ExerciseAngina,
		formatNumber(r.Oldpeak),
		r.STSlope,
		row.Label.String(),
	}
}

// Export writes rows in the requested format.
func Export(w io.Writer, format Format, rows []Row) error {
	switch format {
	case FormatCSV:
		return ExportCSV(w, rows)
	case FormatXLSX:
		return ExportXLSX(w, rows)
	default:
		return ErrUnknownFormat
	}
}

func ExportCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Headings); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(cells(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportXLSX writes a single "Results" sheet. Numeric attributes are stored
// as numbers so spreadsheets can sort and chart them.
func ExportXLSX(w io.Writer, rows []Row) error {
	book := excelize.NewFile()
	defer book.Close()

	if err := book.SetSheetName(book.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(Headings))
	for i, h := range Headings {
		header[i] = h
	}
	if err := book.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := book.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = book.SetRowStyle(SheetName, 1, 1, bold)
	}

	for i, row := range rows {
		r := row.Record
		values := []interface{}{
			r.Age, r.Sex, r.ChestPainType, r.RestingBP, r.Cholesterol, r.FastingBS,
			r.RestingECG, r.MaxHR, r.ExerciseAngina, r.Oldpeak, r.STSlope, row.Label.String(),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := book.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	if _, err := book.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
