package ml

import (
	"math"
	"path/filepath"
	"testing"
)

func TestEvaluate(t *testing.T) {
	truth := []int{1, 1, 0, 0, 1, 0}
	scores := []float64{0.9, 0.4, 0.2, 0.6, 0.7, 0.1}

	eval := Evaluate(truth, scores, 0.5)
	if eval.ConfusionMatrix != [2][2]int{{2, 1}, {1, 2}} {
		t.Fatalf("unexpected confusion matrix %v", eval.ConfusionMatrix)
	}
	if math.Abs(eval.Accuracy-4.0/6) > 1e-12 {
		t.Fatalf("unexpected accuracy %v", eval.Accuracy)
	}
	if math.Abs(eval.Precision-2.0/3) > 1e-12 || math.Abs(eval.Recall-2.0/3) > 1e-12 {
		t.Fatalf("unexpected precision/recall %v/%v", eval.Precision, eval.Recall)
	}
	// 8 of the 9 positive/negative pairs are ranked correctly.
	if math.Abs(eval.AUC-8.0/9) > 1e-12 {
		t.Fatalf("unexpected auc %v", eval.AUC)
	}
}

func TestROCAUCEdgeCases(t *testing.T) {
	if got := ROCAUC([]int{1, 1}, []float64{0.2, 0.8}); got != 0 {
		t.Fatalf("single class: expected 0, got %v", got)
	}
	if got := ROCAUC([]int{1, 0}, []float64{0.5, 0.5}); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("tied scores: expected 0.5, got %v", got)
	}
	if got := ROCAUC([]int{0, 1}, []float64{0.1, 0.9}); got != 1 {
		t.Fatalf("perfect ranking: expected 1, got %v", got)
	}
}

func TestSplitDataset(t *testing.T) {
	features := make([][]float64, 10)
	labels := make([]int, 10)
	for i := range features {
		features[i] = []float64{float64(i)}
		labels[i] = i % 2
	}

	trainX, trainY, testX, testY := SplitDataset(features, labels, 0.2, 7)
	if len(trainX) != 8 || len(testX) != 2 || len(trainY) != 8 || len(testY) != 2 {
		t.Fatalf("unexpected split sizes %d/%d", len(trainX), len(testX))
	}
	seen := make(map[float64]bool)
	check := func(xs [][]float64, ys []int) {
		for i, x := range xs {
			seen[x[0]] = true
			if int(x[0])%2 != ys[i] {
				t.Fatalf("label detached from row %v", x)
			}
		}
	}
	check(trainX, trainY)
	check(testX, testY)
	if len(seen) != 10 {
		t.Fatalf("expected every row exactly once, got %d distinct", len(seen))
	}

	again, _, _, _ := SplitDataset(features, labels, 0.2, 7)
	for i := range again {
		if again[i][0] != trainX[i][0] {
			t.Fatal("split is not reproducible for a fixed seed")
		}
	}
}

func TestTrainDecisionTree(t *testing.T) {
	var records []PatientRecord
	var labels []int
	for i := 0; i < 40; i++ {
		record := examplePatient()
		record.Age = 30 + float64(i%20)
		label := 0
		if i >= 20 {
			record.ExerciseAngina = "Y"
			label = 1
		}
		records = append(records, record)
		labels = append(labels, label)
	}

	report, err := TrainDecisionTree(newDefaultEncoder(t), records, labels, TrainingConfig{MaxTreeDepth: 3, TestRatio: 0.25, Seed: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TrainSize != 30 || report.TestSize != 10 {
		t.Fatalf("unexpected split %d/%d", report.TrainSize, report.TestSize)
	}
	if report.Evaluation.Accuracy != 1 {
		t.Fatalf("expected a separable set to be learned, got %+v", report.Evaluation)
	}
	if report.Tree.Width != 20 {
		t.Fatalf("expected tree width 20, got %d", report.Tree.Width)
	}

	dir, err := SaveDecisionTree(t.TempDir(), "tree", "v1", report.Tree, DefaultEncoderConfig(), DefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	artifact, err := LoadModel("tree", filepath.Dir(dir))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Version != "v1" || artifact.Threshold != DefaultThreshold {
		t.Fatalf("unexpected artifact %+v", artifact)
	}
}

func TestTrainDecisionTreeRejectsInvalidRecords(t *testing.T) {
	bad := examplePatient()
	bad.Sex = "X"
	if _, err := TrainDecisionTree(newDefaultEncoder(t), []PatientRecord{bad}, []int{1}, TrainingConfig{}); err == nil {
		t.Fatal("expected error")
	}
}
