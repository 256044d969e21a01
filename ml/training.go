package ml

import (
	"errors"
	"math"
	"math/rand"
)

// TrainingConfig controls decision tree training.
type TrainingConfig struct {
	MaxTreeDepth int
	TestRatio    float64
	Seed         int64
}

// TrainingReport summarises one training run.
type TrainingReport struct {
	Tree       *DecisionTree
	TrainSize  int
	TestSize   int
	Evaluation Evaluation
}

// TrainDecisionTree encodes labelled records, holds out a test split, trains
// on the rest and evaluates on the held-out part.
func TrainDecisionTree(encoder *Encoder, records []PatientRecord, labels []int, config TrainingConfig) (*TrainingReport, error) {
	if len(records) == 0 {
		return nil, errors.New("no training records")
	}
	if len(records) != len(labels) {
		return nil, errors.New("records and labels size mismatch")
	}
	vectors, err := encoder.EncodeBatch(records)
	if err != nil {
		return nil, err
	}

	trainX, trainY, testX, testY := SplitDataset(vectors, labels, config.TestRatio, config.Seed)
	tree := &DecisionTree{}
	if err := tree.Train(trainX, trainY, config.MaxTreeDepth); err != nil {
		return nil, err
	}

	report := &TrainingReport{Tree: tree, TrainSize: len(trainX), TestSize: len(testX)}
	if len(testX) > 0 {
		scores := make([]float64, len(testX))
		for i, x := range testX {
			p, err := tree.Probability(x)
			if err != nil {
				return nil, err
			}
			scores[i] = p
		}
		report.Evaluation = Evaluate(testY, scores, DefaultThreshold)
	}
	return report, nil
}

// SplitDataset shuffles and splits rows into train and test sets. A ratio
// outside (0,1) falls back to 0.2.
func SplitDataset(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(len(features))

	split := int(math.Round(float64(len(features)) * (1 - testRatio)))
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		} else {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}
