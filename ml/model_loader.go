package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultThreshold applies when a manifest does not declare one.
	DefaultThreshold = 0.5
	// PreprocessingFile is the encoder configuration stored next to model.json.
	PreprocessingFile = "preprocessing.yaml"
	manifestFile      = "model.json"
)

// Artifact is a loaded model together with the preprocessing it was trained with.
type Artifact struct {
	ModelType   string
	Version     string
	Model       Model
	Encoder     *Encoder
	Threshold   float64
	OutputIndex int
}

type artifactHeader struct {
	Format        string        `json:"format"`
	Version       string        `json:"version"`
	Threshold     *float64      `json:"threshold,omitempty"`
	OutputIndex   int           `json:"output_index"`
	Preprocessing string        `json:"preprocessing,omitempty"`
	Tree          *DecisionTree `json:"tree,omitempty"`
}

// ArtifactDir is where the artifact of a model type lives under root.
func ArtifactDir(root, modelType string) string {
	return filepath.Join(root, modelType+"_model")
}

// LoadModel reads {root}/{modelType}_model/model.json, its weights and its
// preprocessing configuration.
func LoadModel(modelType, root string) (*Artifact, error) {
	dir := ArtifactDir(root, modelType)
	manifestPath := filepath.Join(dir, manifestFile)
	payload, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read model manifest: %w", err)
	}
	var header artifactHeader
	if err := json.Unmarshal(payload, &header); err != nil {
		return nil, fmt.Errorf("parse model manifest: %w", err)
	}

	var model Model
	switch header.Format {
	case FormatLayers:
		network, err := LoadNetwork(manifestPath)
		if err != nil {
			return nil, err
		}
		model = network
	case FormatDecisionTree:
		if header.Tree == nil || len(header.Tree.Nodes) == 0 {
			return nil, fmt.Errorf("decision tree manifest has no nodes")
		}
		model = header.Tree
	default:
		return nil, fmt.Errorf("unsupported model format %q", header.Format)
	}

	preprocessing := header.Preprocessing
	if preprocessing == "" {
		preprocessing = PreprocessingFile
	}
	cfg, err := LoadEncoderConfig(filepath.Join(dir, preprocessing))
	if err != nil {
		return nil, fmt.Errorf("load preprocessing: %w", err)
	}
	encoder, err := NewEncoder(cfg)
	if err != nil {
		return nil, err
	}

	for _, spec := range model.Inputs() {
		if spec.Size() != encoder.Width() {
			return nil, fmt.Errorf("%w: input %q expects %d features, preprocessing %s produces %d",
				ErrShapeMismatch, spec.Name, spec.Size(), cfg.Version, encoder.Width())
		}
	}

	threshold := DefaultThreshold
	if header.Threshold != nil {
		threshold = *header.Threshold
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold %v outside (0,1)", threshold)
	}
	if header.OutputIndex < 0 {
		return nil, fmt.Errorf("negative output index %d", header.OutputIndex)
	}

	return &Artifact{
		ModelType:   modelType,
		Version:     header.Version,
		Model:       model,
		Encoder:     encoder,
		Threshold:   threshold,
		OutputIndex: header.OutputIndex,
	}, nil
}

// SaveDecisionTree writes a decision tree artifact and its preprocessing
// configuration under {root}/{modelType}_model.
func SaveDecisionTree(root, modelType, version string, tree *DecisionTree, cfg EncoderConfig, threshold float64) (string, error) {
	if len(tree.Nodes) == 0 {
		return "", fmt.Errorf("model not trained")
	}
	dir := ArtifactDir(root, modelType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	header := artifactHeader{
		Format:        FormatDecisionTree,
		Version:       version,
		Threshold:     &threshold,
		Preprocessing: PreprocessingFile,
		Tree:          tree,
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), payload, 0o644); err != nil {
		return "", err
	}
	if err := cfg.Save(filepath.Join(dir, PreprocessingFile)); err != nil {
		return "", err
	}
	return dir, nil
}
