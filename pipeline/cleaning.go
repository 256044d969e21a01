package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"cardiovision/ml"
)

// Issue severities. High rejects the row, low only flags it.
const (
	SeverityHigh = "high"
	SeverityLow  = "low"
)

// PatientRow is one data row moving through the cleaning rules.
type PatientRow struct {
	Row    int               `json:"row"`
	Values map[string]string `json:"-"`
	Record ml.PatientRecord  `json:"record"`
	Label  *int              `json:"label,omitempty"`

	corrected bool
}

// CleaningRule checks or corrects a row. Returning a *Warning keeps the row.
type CleaningRule interface {
	Apply(*PatientRow) (*PatientRow, error)
	Name() string
}

// Warning is a rule finding that does not reject the row.
type Warning struct {
	Message string
}

func (w *Warning) Error() string {
	return w.Message
}

func warnf(format string, args ...interface{}) error {
	return &Warning{Message: fmt.Sprintf(format, args...)}
}

// QualityIssue is one finding about one row.
type QualityIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Row      int    `json:"row"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
}

// fieldError lets a rule name the offending column.
type fieldError struct {
	field string
	err   error
}

func (e *fieldError) Error() string { return e.err.Error() }
func (e *fieldError) Unwrap() error { return e.err }

type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// CleanResult is the outcome of cleaning one table. Rows holds the rows that
// passed, in input order.
type CleanResult struct {
	Rows   []PatientRow   `json:"rows"`
	Issues []QualityIssue `json:"issues"`
	Stats  CleaningStats  `json:"stats"`
}

// Records returns the records of the passing rows.
func (r *CleanResult) Records() []ml.PatientRecord {
	records := make([]ml.PatientRecord, len(r.Rows))
	for i, row := range r.Rows {
		records[i] = row.Record
	}
	return records
}

// Err converts the first rejecting issue into a validation error, or nil.
func (r *CleanResult) Err() error {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityHigh {
			return &ml.ValidationError{Row: issue.Row, Field: issue.Field, Reason: issue.Message}
		}
	}
	return nil
}

// DataCleaner runs rules over every row of a table.
type DataCleaner struct {
	rules []CleaningRule

	stats     CleaningStats
	statsLock sync.Mutex
}

// NewDataCleaner installs the default rules for the given encoder configuration.
func NewDataCleaner(cfg ml.EncoderConfig) *DataCleaner {
	cleaner := &DataCleaner{stats: CleaningStats{Issues: make(map[string]int64)}}
	cleaner.AddRule(NewRequiredValueRule())
	cleaner.AddRule(NewNumericParseRule())
	cleaner.AddRule(NewCategoryRule(cfg))
	cleaner.AddRule(NewRangeValidationRule(cfg))
	cleaner.AddRule(NewDuplicateDetectionRule())
	return cleaner
}

// AddRule appends a rule; rules run in insertion order.
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

type resetter interface {
	Reset()
}

// Clean runs every rule over every row of t. A row is rejected when any rule
// fails with a non-warning error; later rules are skipped for that row.
func (dc *DataCleaner) Clean(t *Table) (*CleanResult, error) {
	if err := ValidateHeader(t.Header); err != nil {
		return nil, err
	}
	index := t.Index()
	labelIdx, hasLabels := index[LabelColumn]

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for _, rule := range dc.rules {
		if r, ok := rule.(resetter); ok {
			r.Reset()
		}
	}

	result := &CleanResult{
		Rows:   make([]PatientRow, 0, len(t.Rows)),
		Issues: make([]QualityIssue, 0),
		Stats:  CleaningStats{Issues: make(map[string]int64)},
	}
	for i, cells := range t.Rows {
		row := &PatientRow{Row: i, Values: make(map[string]string, len(index))}
		for _, field := range RequiredColumns() {
			row.Values[field] = cells[index[field]]
		}
		if hasLabels {
			row.Values[LabelColumn] = cells[labelIdx]
		}

		rejected := false
		for _, rule := range dc.rules {
			cleaned, err := rule.Apply(row)
			if cleaned != nil {
				row = cleaned
			}
			if err != nil {
				issue := QualityIssue{Type: rule.Name(), Severity: SeverityHigh, Row: i, Message: err.Error()}
				var fe *fieldError
				if errors.As(err, &fe) {
					issue.Field = fe.field
				}
				var w *Warning
				if errors.As(err, &w) {
					issue.Severity = SeverityLow
				}
				result.Issues = append(result.Issues, issue)
				result.Stats.Issues[rule.Name()]++
				if issue.Severity == SeverityHigh {
					rejected = true
					break
				}
			}
		}

		result.Stats.TotalProcessed++
		if rejected {
			result.Stats.Rejected++
			continue
		}
		if row.corrected {
			result.Stats.Corrected++
		}
		result.Stats.Passed++
		result.Rows = append(result.Rows, *row)
	}
	result.Stats.LastClean = time.Now()

	dc.stats.TotalProcessed += result.Stats.TotalProcessed
	dc.stats.Passed += result.Stats.Passed
	dc.stats.Rejected += result.Stats.Rejected
	dc.stats.Corrected += result.Stats.Corrected
	for name, n := range result.Stats.Issues {
		dc.stats.Issues[name] += n
	}
	dc.stats.LastClean = result.Stats.LastClean
	return result, nil
}

// GetStats returns totals over every Clean call.
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// Rules.

// RequiredValueRule rejects rows with an empty clinical attribute.
type RequiredValueRule struct{}

func NewRequiredValueRule() *RequiredValueRule {
	return &RequiredValueRule{}
}

func (r *RequiredValueRule) Name() string {
	return "required_value"
}

func (r *RequiredValueRule) Apply(row *PatientRow) (*PatientRow, error) {
	for _, field := range RequiredColumns() {
		if strings.TrimSpace(row.Values[field]) == "" {
			return nil, &fieldError{field: field, err: errors.New("missing value")}
		}
	}
	return row, nil
}

// NumericParseRule fills the record from the raw values.
type NumericParseRule struct{}

func NewNumericParseRule() *NumericParseRule {
	return &NumericParseRule{}
}

func (r *NumericParseRule) Name() string {
	return "numeric_parse"
}

func (r *NumericParseRule) Apply(row *PatientRow) (*PatientRow, error) {
	for _, field := range RequiredColumns() {
		raw := row.Values[field]
		if err := row.Record.Set(field, raw); err != nil {
			return nil, &fieldError{field: field, err: fmt.Errorf("%q is not a number", raw)}
		}
		if v, ok := row.Record.Numeric(field); ok && (math.IsNaN(v) || math.IsInf(v, 0)) {
			return nil, &fieldError{field: field, err: fmt.Errorf("%q is not a finite number", raw)}
		}
	}
	if raw, ok := row.Values[LabelColumn]; ok {
		label, err := parseLabel(raw)
		if err != nil {
			return nil, &fieldError{field: LabelColumn, err: err}
		}
		row.Label = &label
	}
	return row, nil
}

// CategoryRule maps categorical values onto the configured spelling, so
// " m " becomes "M", and rejects unknown categories.
type CategoryRule struct {
	fields     []string
	categories map[string][]string
}

func NewCategoryRule(cfg ml.EncoderConfig) *CategoryRule {
	rule := &CategoryRule{categories: make(map[string][]string)}
	for _, col := range cfg.Columns {
		if col.Kind == ml.KindOneHot {
			rule.fields = append(rule.fields, col.Field)
			rule.categories[col.Field] = col.Categories
		}
	}
	return rule
}

func (r *CategoryRule) Name() string {
	return "category_validation"
}

func (r *CategoryRule) Apply(row *PatientRow) (*PatientRow, error) {
	for _, field := range r.fields {
		allowed := r.categories[field]
		value, ok := row.Record.Category(field)
		if !ok {
			continue
		}
		canonical, found := matchCategory(value, allowed)
		if !found {
			return nil, &fieldError{field: field, err: fmt.Errorf("unknown category %q, expected one of %s", value, strings.Join(allowed, ", "))}
		}
		if canonical != value {
			if err := row.Record.Set(field, canonical); err != nil {
				return nil, err
			}
			row.corrected = true
		}
	}
	return row, nil
}

func matchCategory(value string, allowed []string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	for _, category := range allowed {
		if category == trimmed {
			return category, true
		}
	}
	for _, category := range allowed {
		if strings.EqualFold(category, trimmed) {
			return category, true
		}
	}
	return "", false
}

// Plausible physiological bounds. Values outside are rejected.
var physiologicalBounds = map[string][2]float64{
	ml.FieldAge:         {0, 120},
	ml.FieldRestingBP:   {0, 300},
	ml.FieldCholesterol: {0, 1000},
	ml.FieldMaxHR:       {0, 250},
	ml.FieldOldpeak:     {-10, 10},
}

// RangeValidationRule rejects impossible values and flags values the model
// never saw during training, including zeros that usually mean "not measured".
type RangeValidationRule struct {
	training map[string][2]float64
	binary   map[string]bool
}

func NewRangeValidationRule(cfg ml.EncoderConfig) *RangeValidationRule {
	rule := &RangeValidationRule{training: make(map[string][2]float64), binary: make(map[string]bool)}
	for _, col := range cfg.Columns {
		switch col.Kind {
		case ml.KindMinMax:
			rule.training[col.Field] = [2]float64{col.Lo, col.Hi}
		case ml.KindBinary:
			rule.binary[col.Field] = true
		}
	}
	return rule
}

func (r *RangeValidationRule) Name() string {
	return "range_validation"
}

func (r *RangeValidationRule) Apply(row *PatientRow) (*PatientRow, error) {
	for field := range r.binary {
		if v, _ := row.Record.Numeric(field); v != 0 && v != 1 {
			return nil, &fieldError{field: field, err: fmt.Errorf("value %v must be 0 or 1", v)}
		}
	}
	for _, field := range RequiredColumns() {
		bounds, ok := physiologicalBounds[field]
		if !ok {
			continue
		}
		v, _ := row.Record.Numeric(field)
		if v < bounds[0] || v > bounds[1] {
			return nil, &fieldError{field: field, err: fmt.Errorf("value %v outside plausible range [%v, %v]", v, bounds[0], bounds[1])}
		}
	}

	var warnings []string
	for _, field := range RequiredColumns() {
		bounds, ok := r.training[field]
		if !ok {
			continue
		}
		v, _ := row.Record.Numeric(field)
		switch {
		case v == 0 && (field == ml.FieldCholesterol || field == ml.FieldRestingBP):
			warnings = append(warnings, fmt.Sprintf("%s is 0, usually not measured", field))
		case v < bounds[0] || v > bounds[1]:
			warnings = append(warnings, fmt.Sprintf("%s %v outside training range [%v, %v]", field, v, bounds[0], bounds[1]))
		}
	}
	if len(warnings) > 0 {
		return row, warnf("%s", strings.Join(warnings, "; "))
	}
	return row, nil
}

// DuplicateDetectionRule flags rows identical to an earlier row of the same table.
type DuplicateDetectionRule struct {
	seenMap map[ml.PatientRecord]int
	mu      sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{seenMap: make(map[ml.PatientRecord]int)}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seenMap = make(map[ml.PatientRecord]int)
}

func (r *DuplicateDetectionRule) Apply(row *PatientRow) (*PatientRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if first, exists := r.seenMap[row.Record]; exists {
		return row, warnf("duplicate of row %d", first)
	}
	r.seenMap[row.Record] = row.Row
	return row, nil
}
