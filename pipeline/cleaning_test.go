package pipeline

import (
	"strings"
	"testing"

	"cardiovision/ml"
)

func cleanCSV(t *testing.T, body string) *CleanResult {
	t.Helper()
	table, err := ParseFile("x.csv", strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := NewDataCleaner(ml.DefaultEncoderConfig()).Clean(table)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

const cleanHeader = "Age,Sex,ChestPainType,RestingBP,Cholesterol,FastingBS,RestingECG,MaxHR,ExerciseAngina,Oldpeak,ST_Slope\n"

func TestDataCleaner_Clean(t *testing.T) {
	result := cleanCSV(t, cleanHeader+
		"40,M,ATA,140,289,0,Normal,172,N,0,Up\n"+
		"49, f ,nap,160,180,0,normal,156,n,1,flat\n")

	if result.Stats.Passed != 2 || result.Stats.Rejected != 0 || result.Stats.Corrected != 1 {
		t.Fatalf("unexpected stats %+v", result.Stats)
	}
	got := result.Rows[1].Record
	if got.Sex != "F" || got.ChestPainType != "NAP" || got.RestingECG != "Normal" || got.STSlope != "Flat" {
		t.Fatalf("categories not normalised: %+v", got)
	}
	if err := result.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDataCleaner_CleanWithInvalidData(t *testing.T) {
	tests := []struct {
		name  string
		row   string
		rule  string
		field string
	}{
		{"missing value", "40,M,ATA,140,,0,Normal,172,N,0,Up", "required_value", ml.FieldCholesterol},
		{"not a number", "40,M,ATA,140,abc,0,Normal,172,N,0,Up", "numeric_parse", ml.FieldCholesterol},
		{"unknown category", "40,M,XYZ,140,289,0,Normal,172,N,0,Up", "category_validation", ml.FieldChestPainType},
		{"non-binary flag", "40,M,ATA,140,289,2,Normal,172,N,0,Up", "range_validation", ml.FieldFastingBS},
		{"impossible age", "140,M,ATA,140,289,0,Normal,172,N,0,Up", "range_validation", ml.FieldAge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cleanCSV(t, cleanHeader+"40,M,ATA,140,289,0,Normal,172,N,0,Up\n"+tt.row+"\n")
			if result.Stats.Rejected != 1 || len(result.Rows) != 1 {
				t.Fatalf("expected one rejected row, got %+v", result.Stats)
			}
			issue := result.Issues[0]
			if issue.Type != tt.rule || issue.Field != tt.field || issue.Severity != SeverityHigh || issue.Row != 1 {
				t.Fatalf("unexpected issue %+v", issue)
			}
			verr, ok := result.Err().(*ml.ValidationError)
			if !ok || verr.Row != 1 || verr.Field != tt.field {
				t.Fatalf("unexpected error %v", result.Err())
			}
		})
	}
}

func TestRangeValidationWarnings(t *testing.T) {
	result := cleanCSV(t, cleanHeader+
		"40,M,ATA,140,0,0,Normal,172,N,0,Up\n"+
		"85,M,ATA,140,289,0,Normal,172,N,0,Up\n")

	if result.Stats.Passed != 2 || len(result.Issues) != 2 {
		t.Fatalf("expected two flagged rows to pass, got %+v %+v", result.Stats, result.Issues)
	}
	for _, issue := range result.Issues {
		if issue.Severity != SeverityLow {
			t.Fatalf("expected warning, got %+v", issue)
		}
	}
	if !strings.Contains(result.Issues[0].Message, "Cholesterol is 0") {
		t.Fatalf("unexpected message %q", result.Issues[0].Message)
	}
	if !strings.Contains(result.Issues[1].Message, "outside training range") {
		t.Fatalf("unexpected message %q", result.Issues[1].Message)
	}
}

func TestDuplicateDetectionRule(t *testing.T) {
	row := "40,M,ATA,140,289,0,Normal,172,N,0,Up\n"
	cleaner := NewDataCleaner(ml.DefaultEncoderConfig())
	table, err := ParseFile("x.csv", strings.NewReader(cleanHeader+row+row))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := cleaner.Clean(table)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Rows) != 2 || len(result.Issues) != 1 || result.Issues[0].Type != "duplicate_detection" {
		t.Fatalf("expected duplicate to be flagged, got %+v", result.Issues)
	}

	// State does not carry over between tables.
	single, _ := ParseFile("x.csv", strings.NewReader(cleanHeader+row))
	again, err := cleaner.Clean(single)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(again.Issues) != 0 {
		t.Fatalf("unexpected issues %+v", again.Issues)
	}
	if stats := cleaner.GetStats(); stats.TotalProcessed != 3 || stats.Issues["duplicate_detection"] != 1 {
		t.Fatalf("unexpected cumulative stats %+v", stats)
	}
}

func TestCleanRejectsMissingColumns(t *testing.T) {
	table, _ := ParseFile("x.csv", strings.NewReader("Age,Sex\n40,M\n"))
	if _, err := NewDataCleaner(ml.DefaultEncoderConfig()).Clean(table); err == nil {
		t.Fatal("expected error")
	}
}
