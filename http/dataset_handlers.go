package http

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"cardiovision/db"
	"cardiovision/monitoring"
	"cardiovision/pipeline"
)

const uploadField = "file"

// uploadedFile returns the multipart "file" part of r.
func uploadedFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, err
		}
		return nil, nil, badRequest("multipart field %q required", uploadField)
	}
	if !pipeline.SupportedExtension(header.Filename) {
		file.Close()
		return nil, nil, pipeline.ErrUnsupportedFormat
	}
	return file, header, nil
}

func (a *api) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	file, header, err := uploadedFile(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	stored, size, err := a.files.Save(header.Filename, file)
	if err != nil {
		respondError(w, r, err)
		return
	}

	table, err := a.parseStored(stored)
	if err == nil {
		err = pipeline.ValidateHeader(table.Header)
	}
	if err != nil {
		a.removeFile(stored)
		respondError(w, r, err)
		return
	}

	dataset := &db.Dataset{
		OwnerID:    userID(r),
		Name:       filepath.Base(header.Filename),
		StoredName: stored,
		SizeBytes:  size,
		RowCount:   len(table.Rows),
	}
	if err := a.store.CreateDataset(r.Context(), dataset); err != nil {
		a.removeFile(stored)
		respondError(w, r, err)
		return
	}
	a.cache.Add(dataset.ID, table)

	a.logger.Info("dataset uploaded",
		zap.String("dataset_id", dataset.ID),
		zap.String("user_id", dataset.OwnerID),
		zap.Int("rows", dataset.RowCount),
		zap.Int64("bytes", size),
	)
	a.publish(r, monitoring.DatasetUploaded, dataset)
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message":   "Dataset uploaded and processed successfully",
		"dataset":   dataset,
		"row_count": dataset.RowCount,
	})
}

func (a *api) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := a.store.ListDatasets(r.Context(), userID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if datasets == nil {
		datasets = []db.Dataset{}
	}
	respondJSON(w, http.StatusOK, datasets)
}

func (a *api) handleDatasetFile(w http.ResponseWriter, r *http.Request) {
	dataset, err := a.store.GetDataset(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	f, err := a.files.Open(dataset.StoredName)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", attachment(dataset.Name))
	http.ServeContent(w, r, dataset.Name, dataset.UploadedAt, f)
}

func (a *api) handleDatasetRecords(w http.ResponseWriter, r *http.Request) {
	dataset, cleaned, err := a.cleanDataset(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"dataset": dataset,
		"records": cleaned.Rows,
		"issues":  cleaned.Issues,
		"stats":   cleaned.Stats,
	})
}

func (a *api) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	dataset, err := a.store.DeleteDataset(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.cache.Remove(dataset.ID)
	a.removeFile(dataset.StoredName)

	a.logger.Info("dataset deleted", zap.String("dataset_id", dataset.ID), zap.String("user_id", dataset.OwnerID))
	a.publish(r, monitoring.DatasetDeleted, map[string]string{"id": dataset.ID})
	respondMessage(w, http.StatusOK, "Dataset deleted successfully")
}

// loadTable returns the parsed table of a stored dataset, reading through the
// cache.
func (a *api) loadTable(dataset *db.Dataset) (*pipeline.Table, error) {
	if table, ok := a.cache.Get(dataset.ID); ok {
		return table, nil
	}
	table, err := a.parseStored(dataset.StoredName)
	if err != nil {
		return nil, err
	}
	a.cache.Add(dataset.ID, table)
	return table, nil
}

// cleanDataset loads one of the owner's datasets and runs the cleaning rules
// of the active encoder configuration over it.
func (a *api) cleanDataset(ctx context.Context, ownerID, id string) (*db.Dataset, *pipeline.CleanResult, error) {
	dataset, err := a.store.GetDataset(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	table, err := a.loadTable(dataset)
	if err != nil {
		return nil, nil, err
	}
	cleaned, err := pipeline.NewDataCleaner(a.encoderConfig(ctx)).Clean(table)
	if err != nil {
		return nil, nil, err
	}
	return dataset, cleaned, nil
}

func (a *api) parseStored(name string) (*pipeline.Table, error) {
	f, err := a.files.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open dataset file: %w", err)
	}
	defer f.Close()
	return pipeline.ParseFile(name, f)
}

func (a *api) removeFile(name string) {
	if err := a.files.Remove(name); err != nil {
		a.logger.Warn("failed to remove dataset file", zap.String("file", name), zap.Error(err))
	}
}
