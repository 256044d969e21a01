package ml

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Prediction is the outcome for one record of a batch.
type Prediction struct {
	Record      PatientRecord `json:"record"`
	Probability float64       `json:"probability"`
	Label       RiskLabel     `json:"label"`
}

// BatchObserver receives the outcome of every batch.
type BatchObserver interface {
	ObserveBatch(size int, duration time.Duration, predictions []Prediction, err error)
}

// Predictor runs encoder, model and threshold over a batch of records.
type Predictor struct {
	handle   *ModelHandle
	logger   *zap.Logger
	observer BatchObserver
}

// NewPredictor binds the predictor to a model handle.
func NewPredictor(handle *ModelHandle, logger *zap.Logger, observer BatchObserver) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{handle: handle, logger: logger, observer: observer}
}

// Predict labels every record or fails the whole batch. Validation failures
// wrap ErrInvalidInput; load failures wrap ErrModelNotLoaded.
func (p *Predictor) Predict(ctx context.Context, records []PatientRecord) (predictions []Prediction, err error) {
	start := time.Now()
	defer func() {
		if p.observer != nil {
			p.observer.ObserveBatch(len(records), time.Since(start), predictions, err)
		}
	}()

	if len(records) == 0 {
		return []Prediction{}, nil
	}

	artifact, err := p.handle.Get(ctx)
	if err != nil {
		return nil, err
	}

	vectors, err := artifact.Encoder.EncodeBatch(records)
	if err != nil {
		return nil, err
	}

	probabilities, err := Infer(ctx, artifact, vectors)
	if err != nil {
		p.logger.Error("inference failed", zap.Int("batch_size", len(records)), zap.Error(err))
		return nil, err
	}

	predictions = make([]Prediction, len(records))
	for i, record := range records {
		predictions[i] = Prediction{
			Record:      record,
			Probability: probabilities[i],
			Label:       Threshold(probabilities[i], artifact.Threshold),
		}
	}
	p.logger.Debug("batch predicted",
		zap.Int("batch_size", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return predictions, nil
}

// Infer reshapes encoded vectors per the model's input spec, runs the forward
// pass and reads the configured output index of every row.
func Infer(ctx context.Context, artifact *Artifact, vectors [][]float64) ([]float64, error) {
	inputs, err := ReshapeFor(artifact.Model, vectors)
	if err != nil {
		return nil, err
	}
	outputs, err := artifact.Model.Forward(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}
	if len(outputs) != len(vectors) {
		return nil, fmt.Errorf("model returned %d rows for %d records", len(outputs), len(vectors))
	}
	probabilities := make([]float64, len(outputs))
	for i, row := range outputs {
		if artifact.OutputIndex >= len(row) {
			return nil, fmt.Errorf("output index %d out of range for row of %d values", artifact.OutputIndex, len(row))
		}
		probabilities[i] = row[artifact.OutputIndex]
	}
	return probabilities, nil
}

// Threshold maps a probability to a label: p >= threshold is high risk.
func Threshold(probability, threshold float64) RiskLabel {
	if probability >= threshold {
		return HighRisk
	}
	return LowRisk
}
