package pipeline

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"cardiovision/ml"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
)

const heartCSV = `Age,Sex,ChestPainType,RestingBP,Cholesterol,FastingBS,RestingECG,MaxHR,ExerciseAngina,Oldpeak,ST_Slope,HeartDisease
40,M,ATA,140,289,0,Normal,172,N,0,Up,0
49,F,NAP,160,180,0,Normal,156,N,1,Flat,1

37,M,ATA,130,283,0,ST,98,N,0,Up,0
`

func TestParseCSV(t *testing.T) {
	table, err := ParseFile("heart.CSV", strings.NewReader(heartCSV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Header) != 12 || len(table.Rows) != 3 {
		t.Fatalf("unexpected table %d columns, %d rows", len(table.Header), len(table.Rows))
	}
	if !table.HasLabels() {
		t.Fatal("expected label column")
	}
}

func TestParseCSVWithByteOrderMarks(t *testing.T) {
	utf8BOM := "\ufeff" + heartCSV
	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(heartCSV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for name, body := range map[string]string{"utf8": utf8BOM, "utf16": utf16} {
		t.Run(name, func(t *testing.T) {
			table, err := ParseFile("heart.csv", strings.NewReader(body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if table.Header[0] != "Age" {
				t.Fatalf("BOM leaked into header: %q", table.Header[0])
			}
			if err := ValidateHeader(table.Header); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseXLSX(t *testing.T) {
	book := excelize.NewFile()
	header := []interface{}{"Age", "Sex", "ChestPainType", "RestingBP", "Cholesterol", "FastingBS", "RestingECG", "MaxHR", "ExerciseAngina", "Oldpeak", "ST_Slope"}
	if err := book.SetSheetRow("Sheet1", "A1", &header); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row := []interface{}{54, "M", "ASY", 150, 195, 0, "Normal", 122, "N", 0, "Up"}
	if err := book.SetSheetRow("Sheet1", "A2", &row); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ds, err := ReadDataset("patients.xlsx", bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds.Records) != 1 || ds.Labels != nil {
		t.Fatalf("unexpected dataset %+v", ds)
	}
	if ds.Records[0].Age != 54 || ds.Records[0].ChestPainType != "ASY" {
		t.Fatalf("unexpected record %+v", ds.Records[0])
	}
}

func TestParseFileRejectsUnsupportedFormat(t *testing.T) {
	if _, err := ParseFile("notes.txt", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := ParseFile("empty.csv", strings.NewReader("\n\n")); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
}

func TestParseFileRejectsMalformedFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad.csv", "Age,Sex\n\"45,M\n"},
		{"bad.xlsx", "not a zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile(tt.name, strings.NewReader(tt.content))
			if !errors.Is(err, ErrMalformedFile) {
				t.Fatalf("expected ErrMalformedFile, got %v", err)
			}
		})
	}
}

func TestValidateHeaderNamesMissingColumns(t *testing.T) {
	header := []string{"Age", "Sex", "ChestPainType", "RestingBP", "FastingBS", "RestingECG", "MaxHR", "ExerciseAngina", "Oldpeak"}
	err := ValidateHeader(header)
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
	var missing *MissingColumnsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *MissingColumnsError, got %T", err)
	}
	if !reflect.DeepEqual(missing.Columns, []string{"Cholesterol", "ST_Slope"}) {
		t.Fatalf("unexpected missing columns %v", missing.Columns)
	}
}

func TestToRecords(t *testing.T) {
	table, err := ParseFile("heart.csv", strings.NewReader(heartCSV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ds, err := ToRecords(table)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ml.PatientRecord{Age: 49, Sex: "F", ChestPainType: "NAP", RestingBP: 160, Cholesterol: 180, RestingECG: "Normal", MaxHR: 156, ExerciseAngina: "N", Oldpeak: 1, STSlope: "Flat"}
	if ds.Records[1] != want {
		t.Fatalf("unexpected record %+v", ds.Records[1])
	}
	if !reflect.DeepEqual(ds.Labels, []int{0, 1, 0}) {
		t.Fatalf("unexpected labels %v", ds.Labels)
	}
}

func TestToRecordsReportsRowAndField(t *testing.T) {
	tests := []struct {
		name  string
		row   string
		field string
	}{
		{"not a number", "40,M,ATA,abc,289,0,Normal,172,N,0,Up,0", ml.FieldRestingBP},
		{"missing value", "40,M,ATA,140,,0,Normal,172,N,0,Up,0", ml.FieldCholesterol},
		{"bad label", "40,M,ATA,140,289,0,Normal,172,N,0,Up,yes", LabelColumn},
	}
	header := strings.SplitN(heartCSV, "\n", 2)[0]
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := header + "\n40,M,ATA,140,289,0,Normal,172,N,0,Up,0\n" + tt.row + "\n"
			_, err := ReadDataset("x.csv", strings.NewReader(body))
			var verr *ml.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Row != 1 || verr.Field != tt.field {
				t.Fatalf("unexpected location row %d field %s", verr.Row, verr.Field)
			}
			if !errors.Is(err, ml.ErrInvalidInput) {
				t.Fatal("expected ErrInvalidInput")
			}
		})
	}
}
