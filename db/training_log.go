package db

import (
	"context"
	"time"
)

type TrainingLog struct {
	ModelName  string    `json:"model_name"`
	Version    string    `json:"version"`
	Accuracy   float64   `json:"accuracy"`
	Precision  float64   `json:"precision"`
	Recall     float64   `json:"recall"`
	AUC        float64   `json:"auc"`
	TrainedAt  time.Time `json:"trained_at"`
	DataPoints int       `json:"data_points"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	if log.TrainedAt.IsZero() {
		log.TrainedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (model_name, version, accuracy, precision, recall, auc, trained_at, data_points)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ModelName, log.Version, log.Accuracy, log.Precision, log.Recall, log.AUC, log.TrainedAt, log.DataPoints)
	return err
}

func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_name, version, accuracy, precision, recall, auc, trained_at, data_points
        FROM training_log
        ORDER BY trained_at DESC, id DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.Version, &log.Accuracy, &log.Precision, &log.Recall, &log.AUC, &log.TrainedAt, &log.DataPoints); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
