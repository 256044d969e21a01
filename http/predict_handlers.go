package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"cardiovision/ml"
	"cardiovision/monitoring"
	"cardiovision/pipeline"
)

type predictRequest struct {
	Patients []map[string]json.RawMessage `json:"patients"`
}

type predictResponse struct {
	PredictedPatients []predictedPatient      `json:"predictedPatients"`
	Issues            []pipeline.QualityIssue `json:"issues,omitempty"`
}

type predictionEvent struct {
	Source   string `json:"source"`
	Count    int    `json:"count"`
	HighRisk int    `json:"high_risk"`
}

func (a *api) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if len(req.Patients) == 0 {
		respondError(w, r, badRequest("patients must not be empty"))
		return
	}
	table, err := patientTable(req.Patients)
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.predictTable(w, r, "manual", table)
}

func (a *api) handlePredictDataset(w http.ResponseWriter, r *http.Request) {
	_, cleaned, err := a.cleanDataset(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	// A rejected row fails the whole dataset.
	if err := cleaned.Err(); err != nil {
		respondError(w, r, err)
		return
	}
	a.predict(w, r, "dataset", cleaned.Records(), cleaned.Issues)
}

func (a *api) handlePredictUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := uploadedFile(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	table, err := pipeline.ParseFile(header.Filename, file)
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.predictTable(w, r, "upload", table)
}

// predictTable cleans table with the rules of the active encoder
// configuration and predicts it. A rejected row fails the whole batch.
func (a *api) predictTable(w http.ResponseWriter, r *http.Request, source string, table *pipeline.Table) {
	cleaned, err := pipeline.NewDataCleaner(a.encoderConfig(r.Context())).Clean(table)
	if err == nil {
		err = cleaned.Err()
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.predict(w, r, source, cleaned.Records(), cleaned.Issues)
}

func (a *api) predict(w http.ResponseWriter, r *http.Request, source string, batch []ml.PatientRecord, issues []pipeline.QualityIssue) {
	predictions, err := a.predictor.Predict(r.Context(), batch)
	if err != nil {
		respondError(w, r, err)
		return
	}

	event := predictionEvent{Source: source, Count: len(predictions), HighRisk: countHighRisk(predictions)}
	a.logger.Info("prediction completed",
		zap.String("user_id", userID(r)),
		zap.String("source", source),
		zap.Int("count", event.Count),
		zap.Int("high_risk", event.HighRisk),
	)
	a.publish(r, monitoring.PredictionCompleted, event)
	respondJSON(w, http.StatusOK, predictResponse{
		PredictedPatients: fromPredictions(predictions),
		Issues:            issues,
	})
}
