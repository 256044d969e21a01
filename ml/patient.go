package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Column names used by uploaded datasets, the encoder configuration and the API.
const (
	FieldAge            = "Age"
	FieldSex            = "Sex"
	FieldChestPainType  = "ChestPainType"
	FieldRestingBP      = "RestingBP"
	FieldCholesterol    = "Cholesterol"
	FieldFastingBS      = "FastingBS"
	FieldRestingECG     = "RestingECG"
	FieldMaxHR          = "MaxHR"
	FieldExerciseAngina = "ExerciseAngina"
	FieldOldpeak        = "Oldpeak"
	FieldSTSlope        = "ST_Slope"
)

// PatientFields returns the clinical attributes in dataset column order.
func PatientFields() []string {
	return []string{
		FieldAge,
		FieldSex,
		FieldChestPainType,
		FieldRestingBP,
		FieldCholesterol,
		FieldFastingBS,
		FieldRestingECG,
		FieldMaxHR,
		FieldExerciseAngina,
		FieldOldpeak,
		FieldSTSlope,
	}
}

// PatientRecord holds the eleven clinical attributes of one patient.
type PatientRecord struct {
	Age            float64 `json:"Age" yaml:"age"`
	Sex            string  `json:"Sex" yaml:"sex"`
	ChestPainType  string  `json:"ChestPainType" yaml:"chest_pain_type"`
	RestingBP      float64 `json:"RestingBP" yaml:"resting_bp"`
	Cholesterol    float64 `json:"Cholesterol" yaml:"cholesterol"`
	FastingBS      float64 `json:"FastingBS" yaml:"fasting_bs"`
	RestingECG     string  `json:"RestingECG" yaml:"resting_ecg"`
	MaxHR          float64 `json:"MaxHR" yaml:"max_hr"`
	ExerciseAngina string  `json:"ExerciseAngina" yaml:"exercise_angina"`
	Oldpeak        float64 `json:"Oldpeak" yaml:"oldpeak"`
	STSlope        string  `json:"ST_Slope" yaml:"st_slope"`
}

// Numeric returns the value of a numeric attribute by column name.
func (r PatientRecord) Numeric(field string) (float64, bool) {
	switch field {
	case FieldAge:
		return r.Age, true
	case FieldRestingBP:
		return r.RestingBP, true
	case FieldCholesterol:
		return r.Cholesterol, true
	case FieldFastingBS:
		return r.FastingBS, true
	case FieldMaxHR:
		return r.MaxHR, true
	case FieldOldpeak:
		return r.Oldpeak, true
	default:
		return math.NaN(), false
	}
}

// Category returns the value of a categorical attribute by column name.
func (r PatientRecord) Category(field string) (string, bool) {
	switch field {
	case FieldSex:
		return r.Sex, true
	case FieldChestPainType:
		return r.ChestPainType, true
	case FieldRestingECG:
		return r.RestingECG, true
	case FieldExerciseAngina:
		return r.ExerciseAngina, true
	case FieldSTSlope:
		return r.STSlope, true
	default:
		return "", false
	}
}

// Set assigns a raw string value to the named attribute, parsing numbers.
func (r *PatientRecord) Set(field, raw string) error {
	if _, ok := r.Category(field); ok {
		switch field {
		case FieldSex:
			r.Sex = raw
		case FieldChestPainType:
			r.ChestPainType = raw
		case FieldRestingECG:
			r.RestingECG = raw
		case FieldExerciseAngina:
			r.ExerciseAngina = raw
		case FieldSTSlope:
			r.STSlope = raw
		}
		return nil
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("%s: %q is not a number", field, raw)
	}
	switch field {
	case FieldAge:
		r.Age = value
	case FieldRestingBP:
		r.RestingBP = value
	case FieldCholesterol:
		r.Cholesterol = value
	case FieldFastingBS:
		r.FastingBS = value
	case FieldMaxHR:
		r.MaxHR = value
	case FieldOldpeak:
		r.Oldpeak = value
	default:
		return fmt.Errorf("unknown field %s", field)
	}
	return nil
}

// RiskLabel is the binary outcome of a prediction.
type RiskLabel int

const (
	LowRisk  RiskLabel = 0
	HighRisk RiskLabel = 1
)

func (l RiskLabel) String() string {
	if l == HighRisk {
		return "High Risk"
	}
	return "Low Risk"
}

// ParseRiskLabel accepts "High Risk"/"Low Risk" as well as 1/0.
func ParseRiskLabel(s string) (RiskLabel, error) {
	switch s {
	case "High Risk", "1":
		return HighRisk, nil
	case "Low Risk", "0":
		return LowRisk, nil
	default:
		return LowRisk, fmt.Errorf("unknown risk label %q", s)
	}
}

// MarshalJSON writes the label as "High Risk" or "Low Risk".
func (l RiskLabel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts the string forms as well as the numbers 0 and 1.
func (l *RiskLabel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("risk label must be a string or 0/1")
		}
		s = strconv.Itoa(n)
	}
	parsed, err := ParseRiskLabel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
