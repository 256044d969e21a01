package ml

import (
	"context"
	"testing"
)

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 1, 1}

	model := &DecisionTree{}
	if err := model.Train(features, labels, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	low, err := model.Probability([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	high, _ := model.Probability([]float64{0.85, 0.85})
	if low != 0 || high != 1 {
		t.Fatalf("expected probabilities 0 and 1, got %v and %v", low, high)
	}
}

func TestDecisionTreeNestedIndices(t *testing.T) {
	// Needs two levels: feature 0 separates the first group, feature 1 the rest.
	features := [][]float64{
		{0, 0}, {0, 1}, {1, 0}, {1, 1},
		{0, 0}, {0, 1}, {1, 0}, {1, 1},
	}
	labels := []int{0, 0, 0, 1, 0, 0, 0, 1}

	model := &DecisionTree{}
	if err := model.Train(features, labels, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, x := range features {
		p, err := model.Probability(x)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if int(Threshold(p, 0.5)) != labels[i] {
			t.Fatalf("row %d: expected %d, got probability %v", i, labels[i], p)
		}
	}
}

func TestDecisionTreeSplitsAtFarThreshold(t *testing.T) {
	features := make([][]float64, 100)
	labels := make([]int, 100)
	for x := range features {
		features[x] = []float64{float64(x)}
		if x > 80 {
			labels[x] = 1
		}
	}

	model := &DecisionTree{}
	if err := model.Train(features, labels, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	root := model.Nodes[0]
	if root.IsLeaf || root.Threshold <= 80 || root.Threshold >= 81 {
		t.Fatalf("expected a root split between 80 and 81, got %+v", root)
	}
	for i, x := range features {
		p, err := model.Probability(x)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if int(Threshold(p, 0.5)) != labels[i] {
			t.Fatalf("row %d: expected %d, got probability %v", i, labels[i], p)
		}
	}
}

func TestDecisionTreeRejectsNonBinaryLabels(t *testing.T) {
	model := &DecisionTree{}
	if err := model.Train([][]float64{{0}, {1}}, []int{0, 2}, 2); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecisionTreeForward(t *testing.T) {
	model := &DecisionTree{}
	if err := model.Train([][]float64{{0, 0}, {1, 1}}, []int{0, 1}, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inputs, err := ReshapeFor(model, [][]float64{{0, 0}, {1, 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outputs, err := model.Forward(context.Background(), inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outputs) != 2 || outputs[0][0] != 0 || outputs[1][0] != 1 {
		t.Fatalf("unexpected outputs %v", outputs)
	}
}
