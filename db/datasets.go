package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Dataset is an uploaded patient file. The file itself lives in file storage
// under StoredName.
type Dataset struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"-"`
	Name       string    `json:"name"`
	StoredName string    `json:"-"`
	SizeBytes  int64     `json:"size_bytes"`
	RowCount   int       `json:"row_count"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// CreateDataset assigns an id and upload time and inserts d.
func (s *Store) CreateDataset(ctx context.Context, d *Dataset) error {
	d.ID = uuid.NewString()
	d.UploadedAt = now()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO datasets (id, owner_id, name, stored_name, size_bytes, row_count, uploaded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.Name, d.StoredName, d.SizeBytes, d.RowCount, d.UploadedAt)
	return err
}

// ListDatasets returns the owner's datasets, newest first.
func (s *Store) ListDatasets(ctx context.Context, ownerID string) ([]Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, owner_id, name, stored_name, size_bytes, row_count, uploaded_at
        FROM datasets
        WHERE owner_id = ?
        ORDER BY uploaded_at DESC, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	datasets := make([]Dataset, 0)
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Name, &d.StoredName, &d.SizeBytes, &d.RowCount, &d.UploadedAt); err != nil {
			return nil, err
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

func (s *Store) GetDataset(ctx context.Context, ownerID, id string) (*Dataset, error) {
	var d Dataset
	err := s.db.QueryRowContext(ctx, `
        SELECT id, owner_id, name, stored_name, size_bytes, row_count, uploaded_at
        FROM datasets
        WHERE id = ? AND owner_id = ?`, id, ownerID).
		Scan(&d.ID, &d.OwnerID, &d.Name, &d.StoredName, &d.SizeBytes, &d.RowCount, &d.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDataset removes the row and returns it so the caller can remove the file.
func (s *Store) DeleteDataset(ctx context.Context, ownerID, id string) (*Dataset, error) {
	d, err := s.GetDataset(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return d, nil
}
