package report

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/xuri/excelize/v2"

	"cardiovision/ml"
)

func patient(age float64, sex, pain, slope, angina string) ml.PatientRecord {
	return ml.PatientRecord{
		Age:            age,
		Sex:            sex,
		ChestPainType:  pain,
		RestingBP:      130,
		Cholesterol:    240,
		FastingBS:      0,
		RestingECG:     "Normal",
		MaxHR:          150,
		ExerciseAngina: angina,
		Oldpeak:        1.5,
		STSlope:        slope,
	}
}

func sampleRows() []Row {
	return []Row{
		{Record: patient(10, "M", "ASY", "Flat", "Y"), Label: ml.HighRisk},
		{Record: patient(10.5, "F", "ATA", "Up", "N"), Label: ml.LowRisk},
		{Record: patient(11, "M", "ASY", "Flat", "N"), Label: ml.HighRisk},
		{Record: patient(55, "F", "NAP", "Up", "N"), Label: ml.LowRisk},
		{Record: patient(90, "M", "TA", "Down", "Y"), Label: ml.HighRisk},
		{Record: patient(91, "M", "ASY", "Flat", "Y"), Label: ml.LowRisk},
	}
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportCSV(&buf, sampleRows()[:2]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if records[0][1] != "Gender" || records[0][11] != "Prediction" {
		t.Fatalf("unexpected header %v", records[0])
	}
	if records[1][0] != "10" || records[1][9] != "1.5" || records[1][11] != "High Risk" {
		t.Fatalf("unexpected row %v", records[1])
	}
	if records[2][11] != "Low Risk" {
		t.Fatalf("unexpected row %v", records[2])
	}
}

func TestExportXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, FormatXLSX, sampleRows()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	book, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer book.Close()

	rows, err := book.GetRows(SheetName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 7 {
		t.Fatalf("expected header + 6 rows, got %d", len(rows))
	}
	if rows[0][6] != "Resting Electrocardiogram" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[5][0] != "90" || rows[5][11] != "High Risk" {
		t.Fatalf("unexpected row %v", rows[5])
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{"xlsx", FormatXLSX, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestFilename(t *testing.T) {
	if got := FormatCSV.Filename(""); got != "predictions.csv" {
		t.Fatalf("unexpected default name %q", got)
	}
	if got := FormatXLSX.Filename(`ward "3"/a`); got != "ward 3a.xlsx" {
		t.Fatalf("unexpected sanitised name %q", got)
	}
	if got := FormatCSV.Filename("march.csv"); got != "march.csv" {
		t.Fatalf("extension duplicated: %q", got)
	}
}

func TestBuildCharts(t *testing.T) {
	charts := BuildCharts(sampleRows())

	if charts.Total != 6 || charts.Overall.HighRisk != 3 || charts.Overall.LowRisk != 3 {
		t.Fatalf("unexpected overall %+v", charts.Overall)
	}
	if len(charts.AgeRanges) != 10 {
		t.Fatalf("expected 10 age ranges, got %d", len(charts.AgeRanges))
	}
	// 10 and 10.5 share the first bucket, 11 starts the second.
	if first := charts.AgeRanges[0]; first.HighRisk != 1 || first.LowRisk != 1 {
		t.Fatalf("unexpected first bucket %+v", first)
	}
	if second := charts.AgeRanges[1]; second.HighRisk != 1 || second.LowRisk != 0 {
		t.Fatalf("unexpected second bucket %+v", second)
	}
	if b := charts.AgeRanges[8]; b.Label != "81 - 90" || b.HighRisk != 1 {
		t.Fatalf("unexpected 81-90 bucket %+v", b)
	}
	if b := charts.AgeRanges[9]; b.Label != ">90" || b.LowRisk != 1 {
		t.Fatalf("unexpected >90 bucket %+v", b)
	}

	if len(charts.BySex) != 2 || charts.BySex[0].Label != "F" || charts.BySex[1].HighRisk != 3 {
		t.Fatalf("unexpected sex split %+v", charts.BySex)
	}
	if len(charts.ByChestPainType) != 4 || charts.ByChestPainType[0].Label != "ASY" || charts.ByChestPainType[0].HighRisk != 2 {
		t.Fatalf("unexpected chest pain split %+v", charts.ByChestPainType)
	}
	if len(charts.BySTSlope) != 3 || len(charts.ByExerciseAngina) != 2 {
		t.Fatalf("unexpected slope/angina groups %+v %+v", charts.BySTSlope, charts.ByExerciseAngina)
	}
	if len(charts.CholesterolVsMaxHR["High Risk"]) != 3 || charts.CholesterolVsMaxHR["Low Risk"][0] != (Point{X: 240, Y: 150}) {
		t.Fatalf("unexpected scatter %+v", charts.CholesterolVsMaxHR)
	}
}

func TestBuildChartsEmpty(t *testing.T) {
	charts := BuildCharts(nil)
	if charts.Total != 0 || len(charts.AgeRanges) != 10 || charts.BySex == nil {
		t.Fatalf("unexpected empty charts %+v", charts)
	}
}
