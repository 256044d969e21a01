package ml

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

type testWeight struct {
	name   string
	shape  []int
	values []float32
}

// writeNetworkArtifact lays out {root}/{modelType}_model with model.json, a
// single weight shard and the default preprocessing configuration.
func writeNetworkArtifact(t *testing.T, root, modelType string, manifest map[string]interface{}, weights []testWeight) {
	t.Helper()
	dir := ArtifactDir(root, modelType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var shard bytes.Buffer
	entries := make([]weightEntry, 0, len(weights))
	for _, w := range weights {
		if err := binary.Write(&shard, binary.LittleEndian, w.values); err != nil {
			t.Fatalf("write weights: %v", err)
		}
		entries = append(entries, weightEntry{Name: w.name, Shape: w.shape, Dtype: "float32"})
	}
	if err := os.WriteFile(filepath.Join(dir, "group1-shard1of1.bin"), shard.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
	manifest["weightsManifest"] = []weightGroup{{Paths: []string{"group1-shard1of1.bin"}, Weights: entries}}

	payload, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), payload, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := DefaultEncoderConfig().Save(filepath.Join(dir, PreprocessingFile)); err != nil {
		t.Fatalf("write preprocessing: %v", err)
	}
}

// ageOnlyNetwork scores sigmoid(4*age_scaled - 2), ignoring every other slot.
func ageOnlyNetwork(t *testing.T, root string) {
	t.Helper()
	kernel := make([]float32, 20)
	kernel[0] = 4
	writeNetworkArtifact(t, root, "dense", map[string]interface{}{
		"format":    FormatLayers,
		"version":   "test-1",
		"threshold": 0.5,
		"inputs":    []InputSpec{{Name: "features", Shape: []int{20, 1}}},
		"branches": []branchSpec{{Input: "features", Layers: []layerSpec{
			{Type: "flatten"},
			{Type: "dropout"},
			{Type: "dense", Units: 1, Activation: "sigmoid", Kernel: "out/kernel", Bias: "out/bias"},
		}}},
	}, []testWeight{
		{name: "out/kernel", shape: []int{20, 1}, values: kernel},
		{name: "out/bias", shape: []int{1}, values: []float32{-2}},
	})
}

func TestLoadNetworkArtifact(t *testing.T) {
	root := t.TempDir()
	ageOnlyNetwork(t, root)

	artifact, err := LoadModel("dense", root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Version != "test-1" || artifact.Threshold != 0.5 {
		t.Fatalf("unexpected artifact %+v", artifact)
	}

	young := examplePatient()
	old := examplePatient()
	old.Age = 77
	vectors, err := artifact.Encoder.EncodeBatch([]PatientRecord{young, old})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	probabilities, err := Infer(context.Background(), artifact, vectors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantYoung := 1 / (1 + math.Exp(-(4*(45.0-28)/49 - 2)))
	if math.Abs(probabilities[0]-wantYoung) > 1e-6 {
		t.Fatalf("young: got %v want %v", probabilities[0], wantYoung)
	}
	if Threshold(probabilities[0], artifact.Threshold) != LowRisk {
		t.Fatalf("expected low risk for age 45")
	}
	if Threshold(probabilities[1], artifact.Threshold) != HighRisk {
		t.Fatalf("expected high risk for age 77, got %v", probabilities[1])
	}
}

func TestLoadEnsembleNetwork(t *testing.T) {
	root := t.TempDir()
	dnnKernel := make([]float32, 20*2)
	headKernel := make([]float32, 20*2)
	for i := range headKernel {
		headKernel[i] = 0.1
	}
	writeNetworkArtifact(t, root, "ensemble", map[string]interface{}{
		"format":       FormatLayers,
		"version":      "ensemble-1",
		"threshold":    0.99645,
		"output_index": 1,
		"inputs": []InputSpec{
			{Name: "dnn", Shape: []int{20}},
			{Name: "cnn", Shape: []int{20, 1}},
		},
		"branches": []branchSpec{
			{Input: "dnn", Layers: []layerSpec{
				{Type: "dense", Units: 2, Activation: "relu", Kernel: "dnn/kernel"},
			}},
			{Input: "cnn", Layers: []layerSpec{
				{Type: "conv1d", Activation: "relu", Kernel: "cnn/kernel", Bias: "cnn/bias"},
				{Type: "max_pooling1d", PoolSize: 2},
				{Type: "flatten"},
			}},
		},
		"head": []layerSpec{
			{Type: "dense", Units: 2, Activation: "softmax", Kernel: "head/kernel"},
		},
	}, []testWeight{
		{name: "dnn/kernel", shape: []int{20, 2}, values: dnnKernel},
		{name: "cnn/kernel", shape: []int{3, 1, 2}, values: []float32{1, 0, 1, 0, 1, 0}},
		{name: "cnn/bias", shape: []int{2}, values: []float32{0, 0}},
		// concat width: 2 (dnn) + (18/2)*2 (cnn) = 20
		{name: "head/kernel", shape: []int{20, 2}, values: headKernel},
	})

	artifact, err := LoadModel("ensemble", root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(artifact.Model.Inputs()) != 2 {
		t.Fatalf("expected 2 inputs, got %d", len(artifact.Model.Inputs()))
	}
	vectors, _ := artifact.Encoder.EncodeBatch([]PatientRecord{examplePatient()})
	inputs, err := ReshapeFor(artifact.Model, vectors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := inputs[1].Shape; len(got) != 3 || got[0] != 1 || got[1] != 20 || got[2] != 1 {
		t.Fatalf("unexpected cnn input shape %v", got)
	}
	outputs, err := artifact.Model.Forward(context.Background(), inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outputs[0]) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs[0]))
	}
	if sum := outputs[0][0] + outputs[0][1]; math.Abs(sum-1) > 1e-9 {
		t.Fatalf("softmax row sums to %v", sum)
	}
}

func TestLoadModelRejectsWidthMismatch(t *testing.T) {
	root := t.TempDir()
	writeNetworkArtifact(t, root, "narrow", map[string]interface{}{
		"format":   FormatLayers,
		"inputs":   []InputSpec{{Name: "features", Shape: []int{19}}},
		"branches": []branchSpec{{Layers: []layerSpec{{Type: "dense", Kernel: "k"}}}},
	}, []testWeight{{name: "k", shape: []int{19, 1}, values: make([]float32, 19)}})

	_, err := LoadModel("narrow", root)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestLoadModelMissingArtifact(t *testing.T) {
	if _, err := LoadModel("absent", t.TempDir()); err == nil {
		t.Fatal("expected error")
	}
}

func TestConvAndPoolLayers(t *testing.T) {
	conv := &conv1dLayer{
		kernel: weight{shape: []int{2, 1, 1}, values: []float64{1, 1}},
		bias:   []float64{0},
	}
	out := conv.forward(activation{shape: []int{3, 1}, data: []float64{1, 2, 3}})
	if len(out.data) != 2 || out.data[0] != 3 || out.data[1] != 5 {
		t.Fatalf("unexpected conv output %v", out.data)
	}

	pool := &maxPool1dLayer{pool: 2}
	pooled := pool.forward(activation{shape: []int{4, 1}, data: []float64{1, 4, 3, 2}})
	if len(pooled.data) != 2 || pooled.data[0] != 4 || pooled.data[1] != 3 {
		t.Fatalf("unexpected pool output %v", pooled.data)
	}
}

func TestReshapeRejectsWrongWidth(t *testing.T) {
	_, err := Reshape([][]float64{{1, 2, 3}}, []int{2, 1})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
