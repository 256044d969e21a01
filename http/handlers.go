package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"cardiovision/auth"
	"cardiovision/db"
	"cardiovision/ml"
	"cardiovision/monitoring"
	"cardiovision/pipeline"
)

type api struct {
	store     *db.Store
	auth      *auth.Service
	model     *ml.ModelHandle
	predictor *ml.Predictor
	files     *pipeline.FileStorage
	cache     *pipeline.DatasetCache
	events    *monitoring.EventHub
	logger    *zap.Logger
}

func (a *api) register(mux *http.ServeMux, protect Middleware) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, protect(h))
	}

	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("POST /api/auth/register", a.handleRegister)
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/ws/events", a.handleEvents)

	handle("GET /api/auth/profile", a.handleProfile)

	handle("POST /api/datasets/upload", a.handleUploadDataset)
	handle("GET /api/datasets", a.handleListDatasets)
	handle("GET /api/datasets/{id}/file", a.handleDatasetFile)
	handle("GET /api/datasets/{id}/records", a.handleDatasetRecords)
	handle("DELETE /api/datasets/{id}", a.handleDeleteDataset)

	handle("POST /api/predict", a.handlePredict)
	handle("POST /api/predict/dataset/{id}", a.handlePredictDataset)
	handle("POST /api/predict/upload", a.handlePredictUpload)

	handle("POST /api/results", a.handleSaveResult)
	handle("GET /api/results", a.handleListResults)
	handle("GET /api/results/{id}", a.handleGetResult)
	handle("PUT /api/results/{id}/name", a.handleRenameResult)
	handle("PUT /api/results/{id}/patients", a.handleReplacePatients)
	handle("DELETE /api/results/{id}", a.handleDeleteResult)
	handle("GET /api/results/{id}/export", a.handleExportResult)
	handle("GET /api/results/{id}/charts", a.handleResultCharts)

	handle("POST /api/patients/{id}/mark-correct", a.handleFeedback(true))
	handle("POST /api/patients/{id}/mark-incorrect", a.handleFeedback(false))
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Warn("database ping failed", zap.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":       status,
		"model_loaded": a.model.Loaded(),
	})
}

// userID returns the authenticated user. Routes behind AuthMiddleware always
// have one.
func userID(r *http.Request) string {
	claims, _ := CurrentUser(r.Context())
	if claims == nil {
		return ""
	}
	return claims.UserID
}

func (a *api) publish(r *http.Request, kind monitoring.EventType, data interface{}) {
	if a.events == nil {
		return
	}
	a.events.Publish(userID(r), kind, data)
}

// encoderConfig returns the configuration of the loaded model, or the
// canonical configuration before the first prediction.
func (a *api) encoderConfig(ctx context.Context) ml.EncoderConfig {
	if a.model.Loaded() {
		if artifact, err := a.model.Get(ctx); err == nil {
			return artifact.Encoder.Config()
		}
	}
	return ml.DefaultEncoderConfig()
}

// predictedPatient is the flat wire form of a patient with its prediction.
type predictedPatient struct {
	ID string `json:"id,omitempty"`
	ml.PatientRecord
	Prediction  ml.RiskLabel `json:"prediction"`
	Probability *float64     `json:"probability,omitempty"`
	Correct     *bool        `json:"correct,omitempty"`
}

func fromPredictions(predictions []ml.Prediction) []predictedPatient {
	out := make([]predictedPatient, len(predictions))
	for i, p := range predictions {
		probability := p.Probability
		out[i] = predictedPatient{
			PatientRecord: p.Record,
			Prediction:    p.Label,
			Probability:   &probability,
		}
	}
	return out
}

func fromStored(patients []db.Patient) []predictedPatient {
	out := make([]predictedPatient, len(patients))
	for i, p := range patients {
		out[i] = predictedPatient{
			ID:            p.ID,
			PatientRecord: p.Record,
			Prediction:    p.Prediction,
			Probability:   p.Probability,
			Correct:       p.Correct,
		}
	}
	return out
}

func toStored(patients []predictedPatient) []db.Patient {
	out := make([]db.Patient, len(patients))
	for i, p := range patients {
		out[i] = db.Patient{
			Record:      p.PatientRecord,
			Prediction:  p.Prediction,
			Probability: p.Probability,
			Correct:     p.Correct,
		}
	}
	return out
}

// parsePatients converts raw labelled JSON objects into records. Every
// clinical field and the "prediction" label must be present; numbers may be
// sent as JSON numbers or numeric strings.
func parsePatients(raw []map[string]json.RawMessage) ([]predictedPatient, error) {
	out := make([]predictedPatient, len(raw))
	for i, obj := range raw {
		for _, field := range ml.PatientFields() {
			value, ok := obj[field]
			if !ok || string(value) == "null" {
				return nil, &ml.ValidationError{Row: i, Field: field, Reason: "missing value"}
			}
			text, err := scalarString(value)
			if err != nil {
				return nil, &ml.ValidationError{Row: i, Field: field, Reason: err.Error()}
			}
			if err := out[i].PatientRecord.Set(field, text); err != nil {
				return nil, &ml.ValidationError{Row: i, Field: field, Reason: fmt.Sprintf("%q is not a number", text)}
			}
		}

		value, ok := obj["prediction"]
		if !ok {
			return nil, &ml.ValidationError{Row: i, Field: "prediction", Reason: "missing value"}
		}
		if err := json.Unmarshal(value, &out[i].Prediction); err != nil {
			return nil, &ml.ValidationError{Row: i, Field: "prediction", Reason: err.Error()}
		}
		if value, ok := obj["probability"]; ok && string(value) != "null" {
			var p float64
			if err := json.Unmarshal(value, &p); err != nil || p < 0 || p > 1 {
				return nil, &ml.ValidationError{Row: i, Field: "probability", Reason: "must be a number in [0,1]"}
			}
			out[i].Probability = &p
		}
		if value, ok := obj["correct"]; ok && string(value) != "null" {
			var c bool
			if err := json.Unmarshal(value, &c); err != nil {
				return nil, &ml.ValidationError{Row: i, Field: "correct", Reason: "must be a boolean"}
			}
			out[i].Correct = &c
		}
	}
	return out, nil
}

func scalarString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("must be a string or number")
}

// patientTable lays unlabelled JSON patients out as a table so they pass the
// same cleaning rules as uploaded files. Absent fields become empty cells.
func patientTable(raw []map[string]json.RawMessage) (*pipeline.Table, error) {
	table := &pipeline.Table{Header: pipeline.RequiredColumns(), Rows: make([][]string, len(raw))}
	for i, obj := range raw {
		row := make([]string, len(table.Header))
		for j, field := range table.Header {
			value, ok := obj[field]
			if !ok || string(value) == "null" {
				continue
			}
			text, err := scalarString(value)
			if err != nil {
				return nil, &ml.ValidationError{Row: i, Field: field, Reason: err.Error()}
			}
			row[j] = text
		}
		table.Rows[i] = row
	}
	return table, nil
}

func countHighRisk(predictions []ml.Prediction) int {
	n := 0
	for _, p := range predictions {
		if p.Label == ml.HighRisk {
			n++
		}
	}
	return n
}

func attachment(filename string) string {
	return "attachment; filename=" + strconv.Quote(filename)
}
