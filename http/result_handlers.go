package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"cardiovision/db"
	"cardiovision/ml"
	"cardiovision/monitoring"
	"cardiovision/report"
)

type saveResultRequest struct {
	Name     string                       `json:"name"`
	Patients []map[string]json.RawMessage `json:"patients"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type replacePatientsRequest struct {
	Patients []map[string]json.RawMessage `json:"patients"`
}

type resultResponse struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	PatientCount int                `json:"patient_count"`
	Patients     []predictedPatient `json:"patients,omitempty"`
}

func toResultResponse(result *db.PredictionResult) resultResponse {
	return resultResponse{
		ID:           result.ID,
		Name:         result.Name,
		CreatedAt:    result.CreatedAt,
		UpdatedAt:    result.UpdatedAt,
		PatientCount: result.PatientCount,
		Patients:     fromStored(result.Patients),
	}
}

// parseResultPatients decodes labelled patients and checks every record
// against the active encoder configuration.
func (a *api) parseResultPatients(r *http.Request, raw []map[string]json.RawMessage) ([]db.Patient, error) {
	patients, err := parsePatients(raw)
	if err != nil {
		return nil, err
	}
	encoder, err := ml.NewEncoder(a.encoderConfig(r.Context()))
	if err != nil {
		return nil, err
	}
	for i, p := range patients {
		if err := encoder.Validate(p.PatientRecord); err != nil {
			if v, ok := err.(*ml.ValidationError); ok {
				v.Row = i
			}
			return nil, err
		}
	}
	return toStored(patients), nil
}

func (a *api) handleSaveResult(w http.ResponseWriter, r *http.Request) {
	var req saveResultRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if len(req.Patients) == 0 {
		respondError(w, r, badRequest("patients must not be empty"))
		return
	}
	patients, err := a.parseResultPatients(r, req.Patients)
	if err != nil {
		respondError(w, r, err)
		return
	}
	result, err := a.store.SaveResult(r.Context(), userID(r), req.Name, patients)
	if err != nil {
		respondError(w, r, err)
		return
	}

	a.logger.Info("result saved", zap.String("result_id", result.ID), zap.Int("patients", result.PatientCount))
	a.publish(r, monitoring.ResultSaved, map[string]interface{}{"id": result.ID, "name": result.Name})
	respondJSON(w, http.StatusCreated, toResultResponse(result))
}

func (a *api) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := a.store.ListResults(r.Context(), userID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]resultResponse, len(results))
	for i := range results {
		out[i] = toResultResponse(&results[i])
		out[i].Patients = nil
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *api) handleGetResult(w http.ResponseWriter, r *http.Request) {
	result, err := a.store.GetResult(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toResultResponse(result))
}

func (a *api) handleRenameResult(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := a.store.RenameResult(r.Context(), userID(r), id, req.Name); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Result renamed successfully",
		"id":      id,
	})
}

func (a *api) handleReplacePatients(w http.ResponseWriter, r *http.Request) {
	var req replacePatientsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	patients, err := a.parseResultPatients(r, req.Patients)
	if err != nil {
		respondError(w, r, err)
		return
	}
	result, err := a.store.ReplaceResultPatients(r.Context(), userID(r), r.PathValue("id"), patients)
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.publish(r, monitoring.ResultSaved, map[string]interface{}{"id": result.ID, "name": result.Name})
	respondJSON(w, http.StatusOK, toResultResponse(result))
}

func (a *api) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.store.DeleteResult(r.Context(), userID(r), id); err != nil {
		respondError(w, r, err)
		return
	}
	a.logger.Info("result deleted", zap.String("result_id", id))
	a.publish(r, monitoring.ResultDeleted, map[string]string{"id": id})
	respondMessage(w, http.StatusOK, "Result deleted successfully")
}

func reportRows(patients []db.Patient) []report.Row {
	rows := make([]report.Row, len(patients))
	for i, p := range patients {
		rows[i] = report.Row{Record: p.Record, Label: p.Prediction}
	}
	return rows
}

func (a *api) handleExportResult(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	result, err := a.store.GetResult(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = result.Name
	}

	// Render fully before writing headers so a failure can still become a 500.
	var buf bytes.Buffer
	if err := report.Export(&buf, format, reportRows(result.Patients)); err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", attachment(format.Filename(filename)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (a *api) handleResultCharts(w http.ResponseWriter, r *http.Request) {
	result, err := a.store.GetResult(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report.BuildCharts(reportRows(result.Patients)))
}

func (a *api) handleFeedback(correct bool) http.HandlerFunc {
	message := "Marked as incorrect"
	if correct {
		message = "Marked as correct"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.store.SetPatientFeedback(r.Context(), userID(r), r.PathValue("id"), correct); err != nil {
			respondError(w, r, err)
			return
		}
		respondMessage(w, http.StatusOK, message)
	}
}
