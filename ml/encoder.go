package ml

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v2"
)

// Column kinds understood by the encoder.
const (
	KindMinMax = "minmax"
	KindBinary = "binary"
	KindOneHot = "onehot"
)

// EncoderConfig is the preprocessing contract a model was trained with.
// It is stored next to model.json as preprocessing.yaml.
type EncoderConfig struct {
	Version string         `yaml:"version"`
	Columns []ColumnConfig `yaml:"columns"`
}

// ColumnConfig describes how one patient attribute becomes feature slots.
type ColumnConfig struct {
	Field      string   `yaml:"field"`
	Kind       string   `yaml:"kind"`
	Lo         float64  `yaml:"lo,omitempty"`
	Hi         float64  `yaml:"hi,omitempty"`
	Categories []string `yaml:"categories,omitempty"`
}

// DefaultEncoderConfig is the canonical heart-failure preprocessing: five
// min-max scaled vitals, the fasting blood sugar flag, then the one-hot groups.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Version: "heart-v1",
		Columns: []ColumnConfig{
			{Field: FieldAge, Kind: KindMinMax, Lo: 28, Hi: 77},
			{Field: FieldRestingBP, Kind: KindMinMax, Lo: 0, Hi: 200},
			{Field: FieldCholesterol, Kind: KindMinMax, Lo: 0, Hi: 603},
			{Field: FieldFastingBS, Kind: KindBinary},
			{Field: FieldMaxHR, Kind: KindMinMax, Lo: 60, Hi: 202},
			{Field: FieldOldpeak, Kind: KindMinMax, Lo: -2.6, Hi: 6.2},
			{Field: FieldSex, Kind: KindOneHot, Categories: []string{"M", "F"}},
			{Field: FieldChestPainType, Kind: KindOneHot, Categories: []string{"ATA", "NAP", "ASY", "TA"}},
			{Field: FieldRestingECG, Kind: KindOneHot, Categories: []string{"Normal", "ST", "LVH"}},
			{Field: FieldExerciseAngina, Kind: KindOneHot, Categories: []string{"N", "Y"}},
			{Field: FieldSTSlope, Kind: KindOneHot, Categories: []string{"Up", "Flat", "Down"}},
		},
	}
}

// LoadEncoderConfig reads a preprocessing.yaml file.
func LoadEncoderConfig(path string) (EncoderConfig, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return EncoderConfig{}, err
	}
	var cfg EncoderConfig
	if err := yaml.Unmarshal(payload, &cfg); err != nil {
		return EncoderConfig{}, fmt.Errorf("parse encoder config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c EncoderConfig) Save(path string) error {
	payload, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// Encoder turns patient records into feature vectors.
type Encoder struct {
	config EncoderConfig
	width  int
	names  []string
}

// NewEncoder checks the configuration and precomputes the vector layout.
func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	if len(cfg.Columns) == 0 {
		return nil, errors.New("encoder config has no columns")
	}
	names := make([]string, 0, len(cfg.Columns))
	seen := make(map[string]bool, len(cfg.Columns))
	for _, col := range cfg.Columns {
		if seen[col.Field] {
			return nil, fmt.Errorf("column %s configured twice", col.Field)
		}
		seen[col.Field] = true

		switch col.Kind {
		case KindMinMax:
			if _, ok := (PatientRecord{}).Numeric(col.Field); !ok {
				return nil, fmt.Errorf("column %s is not numeric", col.Field)
			}
			if col.Hi == col.Lo {
				return nil, fmt.Errorf("column %s has empty range", col.Field)
			}
			names = append(names, col.Field)
		case KindBinary:
			if _, ok := (PatientRecord{}).Numeric(col.Field); !ok {
				return nil, fmt.Errorf("column %s is not numeric", col.Field)
			}
			names = append(names, col.Field)
		case KindOneHot:
			if _, ok := (PatientRecord{}).Category(col.Field); !ok {
				return nil, fmt.Errorf("column %s is not categorical", col.Field)
			}
			if len(col.Categories) == 0 {
				return nil, fmt.Errorf("column %s has no categories", col.Field)
			}
			for _, category := range col.Categories {
				names = append(names, col.Field+"_"+category)
			}
		default:
			return nil, fmt.Errorf("column %s: unknown kind %q", col.Field, col.Kind)
		}
	}
	return &Encoder{config: cfg, width: len(names), names: names}, nil
}

// Config returns the configuration the encoder was built from.
func (e *Encoder) Config() EncoderConfig {
	return e.config
}

// Version identifies the preprocessing contract.
func (e *Encoder) Version() string {
	return e.config.Version
}

// Width is the length of every feature vector.
func (e *Encoder) Width() int {
	return e.width
}

// FeatureNames lists the vector slots in order.
func (e *Encoder) FeatureNames() []string {
	names := make([]string, len(e.names))
	copy(names, e.names)
	return names
}

// Validate rejects records the encoder cannot represent faithfully.
// Out-of-range vitals are accepted and scale outside [0,1].
func (e *Encoder) Validate(record PatientRecord) error {
	for _, col := range e.config.Columns {
		switch col.Kind {
		case KindMinMax:
			value, _ := record.Numeric(col.Field)
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return &ValidationError{Row: -1, Field: col.Field, Reason: "value is missing or not finite"}
			}
		case KindBinary:
			value, _ := record.Numeric(col.Field)
			if value != 0 && value != 1 {
				return &ValidationError{Row: -1, Field: col.Field, Reason: fmt.Sprintf("expected 0 or 1, got %v", value)}
			}
		case KindOneHot:
			value, _ := record.Category(col.Field)
			if value == "" {
				return &ValidationError{Row: -1, Field: col.Field, Reason: "value is missing"}
			}
			if indexOf(col.Categories, value) < 0 {
				return &ValidationError{Row: -1, Field: col.Field, Reason: fmt.Sprintf("unknown category %q", value)}
			}
		}
	}
	return nil
}

// Encode validates and encodes a single record.
func (e *Encoder) Encode(record PatientRecord) ([]float64, error) {
	if err := e.Validate(record); err != nil {
		return nil, err
	}
	vector := make([]float64, 0, e.width)
	for _, col := range e.config.Columns {
		switch col.Kind {
		case KindMinMax:
			value, _ := record.Numeric(col.Field)
			vector = append(vector, (value-col.Lo)/(col.Hi-col.Lo))
		case KindBinary:
			value, _ := record.Numeric(col.Field)
			vector = append(vector, value)
		case KindOneHot:
			value, _ := record.Category(col.Field)
			for _, category := range col.Categories {
				if category == value {
					vector = append(vector, 1)
				} else {
					vector = append(vector, 0)
				}
			}
		}
	}
	return vector, nil
}

// EncodeBatch encodes every record or none: the first invalid record aborts
// the batch with its row index.
func (e *Encoder) EncodeBatch(records []PatientRecord) ([][]float64, error) {
	vectors := make([][]float64, len(records))
	for i, record := range records {
		vector, err := e.Encode(record)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				verr.Row = i
			}
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func indexOf(values []string, target string) int {
	for i, v := range values {
		if v == target {
			return i
		}
	}
	return -1
}
