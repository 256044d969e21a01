package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cardiovision/ml"
	"github.com/google/uuid"
)

// Patient is one saved record of a prediction result. Correct is nil until a
// clinician gives feedback.
type Patient struct {
	ID          string           `json:"id"`
	ResultID    string           `json:"result_id"`
	Position    int              `json:"position"`
	Record      ml.PatientRecord `json:"record"`
	Prediction  ml.RiskLabel     `json:"prediction"`
	Probability *float64         `json:"probability,omitempty"`
	Correct     *bool            `json:"correct"`
}

// PredictionResult is a named, user-owned set of predicted patients.
type PredictionResult struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"-"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	PatientCount int       `json:"patient_count"`
	Patients     []Patient `json:"patients,omitempty"`
}

// SaveResult stores a named result and its patients in one transaction.
func (s *Store) SaveResult(ctx context.Context, ownerID, name string, patients []Patient) (*PredictionResult, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	ts := now()
	result := &PredictionResult{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO prediction_results (id, owner_id, name, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?)`,
			result.ID, result.OwnerID, result.Name, result.CreatedAt, result.UpdatedAt); err != nil {
			return err
		}
		saved, err := insertPatients(ctx, tx, result.ID, patients)
		if err != nil {
			return err
		}
		result.Patients = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.PatientCount = len(result.Patients)
	return result, nil
}

func insertPatients(ctx context.Context, tx *sql.Tx, resultID string, patients []Patient) ([]Patient, error) {
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO patients (
            id, result_id, position, age, sex, chest_pain_type, resting_bp, cholesterol,
            fasting_bs, resting_ecg, max_hr, exercise_angina, oldpeak, st_slope,
            prediction, probability, correct
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	saved := make([]Patient, len(patients))
	for i, p := range patients {
		p.ID = uuid.NewString()
		p.ResultID = resultID
		p.Position = i
		r := p.Record
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.ResultID, p.Position, r.Age, r.Sex, r.ChestPainType, r.RestingBP, r.Cholesterol,
			r.FastingBS, r.RestingECG, r.MaxHR, r.ExerciseAngina, r.Oldpeak, r.STSlope,
			int(p.Prediction), p.Probability, p.Correct,
		); err != nil {
			return nil, fmt.Errorf("insert patient %d: %w", i, err)
		}
		saved[i] = p
	}
	return saved, nil
}

// ListResults returns the owner's results without patients, newest first.
func (s *Store) ListResults(ctx context.Context, ownerID string) ([]PredictionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT r.id, r.owner_id, r.name, r.created_at, r.updated_at, COUNT(p.id)
        FROM prediction_results r
        LEFT JOIN patients p ON p.result_id = r.id
        WHERE r.owner_id = ?
        GROUP BY r.id
        ORDER BY r.created_at DESC, r.id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]PredictionResult, 0)
	for rows.Next() {
		var r PredictionResult
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Name, &r.CreatedAt, &r.UpdatedAt, &r.PatientCount); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetResult returns one result with its patients in saved order.
func (s *Store) GetResult(ctx context.Context, ownerID, id string) (*PredictionResult, error) {
	var r PredictionResult
	err := s.db.QueryRowContext(ctx, `
        SELECT id, owner_id, name, created_at, updated_at
        FROM prediction_results
        WHERE id = ? AND owner_id = ?`, id, ownerID).
		Scan(&r.ID, &r.OwnerID, &r.Name, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, result_id, position, age, sex, chest_pain_type, resting_bp, cholesterol,
               fasting_bs, resting_ecg, max_hr, exercise_angina, oldpeak, st_slope,
               prediction, probability, correct
        FROM patients
        WHERE result_id = ?
        ORDER BY position`, r.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r.Patients = make([]Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		r.Patients = append(r.Patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.PatientCount = len(r.Patients)
	return &r, nil
}

func scanPatient(rows *sql.Rows) (Patient, error) {
	var p Patient
	var prediction int
	var probability sql.NullFloat64
	var correct sql.NullBool
	r := &p.Record
	err := rows.Scan(&p.ID, &p.ResultID, &p.Position, &r.Age, &r.Sex, &r.ChestPainType, &r.RestingBP, &r.Cholesterol,
		&r.FastingBS, &r.RestingECG, &r.MaxHR, &r.ExerciseAngina, &r.Oldpeak, &r.STSlope,
		&prediction, &probability, &correct)
	if err != nil {
		return p, err
	}
	p.Prediction = ml.RiskLabel(prediction)
	if probability.Valid {
		v := probability.Float64
		p.Probability = &v
	}
	if correct.Valid {
		v := correct.Bool
		p.Correct = &v
	}
	return p, nil
}

// RenameResult changes the name of one of the owner's results.
func (s *Store) RenameResult(ctx context.Context, ownerID, id, name string) error {
	name = normalizeName(name)
	if name == "" {
		return ErrNameRequired
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE prediction_results SET name = ?, updated_at = ?
        WHERE id = ? AND owner_id = ?`, name, now(), id, ownerID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ReplaceResultPatients swaps the patient list of a result, e.g. after manual
// edits of attributes or labels. Feedback on replaced patients is kept as given.
func (s *Store) ReplaceResultPatients(ctx context.Context, ownerID, id string, patients []Patient) (*PredictionResult, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE prediction_results SET updated_at = ?
            WHERE id = ? AND owner_id = ?`, now(), id, ownerID)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM patients WHERE result_id = ?`, id); err != nil {
			return err
		}
		_, err = insertPatients(ctx, tx, id, patients)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetResult(ctx, ownerID, id)
}

// DeleteResult removes a result and its patients in one transaction. Patients
// of other results are untouched.
func (s *Store) DeleteResult(ctx context.Context, ownerID, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM prediction_results WHERE id = ? AND owner_id = ?`, id, ownerID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM patients WHERE result_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM prediction_results WHERE id = ?`, id)
		return err
	})
}

// SetPatientFeedback records whether the prediction for a patient was correct.
// The patient must belong to one of the owner's results.
func (s *Store) SetPatientFeedback(ctx context.Context, ownerID, patientID string, correct bool) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE patients SET correct = ?
        WHERE id = ? AND result_id IN (SELECT id FROM prediction_results WHERE owner_id = ?)`,
		correct, patientID, ownerID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
