package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"cardiovision/config"
	"cardiovision/db"
	"cardiovision/ml"
	"cardiovision/pipeline"
)

const modelType = "decision_tree"

func main() {
	dataPath := flag.String("data", "", "labelled training file (.csv or .xlsx with a HeartDisease column)")
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	outputRoot := flag.String("output", "", "artifact root directory (defaults to ml.model_path)")
	version := flag.String("version", "", "artifact version (defaults to a timestamp)")
	maxDepth := flag.Int("max_depth", 0, "max tree depth (defaults to ml.max_tree_depth)")
	flag.Parse()

	if *dataPath == "" {
		log.Fatal("data is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	root := *outputRoot
	if root == "" {
		root = cfg.ML.ModelPath
	}
	if *version == "" {
		*version = time.Now().UTC().Format("20060102T150405")
	}
	depth := cfg.ML.MaxTreeDepth
	if *maxDepth > 0 {
		depth = *maxDepth
	}

	dataset, err := readDataset(*dataPath)
	if err != nil {
		log.Fatalf("failed to read training data: %v", err)
	}

	encoderCfg := ml.DefaultEncoderConfig()
	encoder, err := ml.NewEncoder(encoderCfg)
	if err != nil {
		log.Fatalf("failed to build encoder: %v", err)
	}

	report, err := ml.TrainDecisionTree(encoder, dataset.Records, dataset.Labels, ml.TrainingConfig{
		MaxTreeDepth: depth,
		TestRatio:    cfg.ML.Training.TestRatio,
		Seed:         cfg.ML.Training.Seed,
	})
	if err != nil {
		log.Fatalf("failed to train model: %v", err)
	}

	eval := report.Evaluation
	log.Printf("train=%d test=%d accuracy=%.3f precision=%.3f recall=%.3f auc=%.3f",
		report.TrainSize, report.TestSize, eval.Accuracy, eval.Precision, eval.Recall, eval.AUC)

	dir, err := ml.SaveDecisionTree(root, modelType, *version, report.Tree, encoderCfg, ml.DefaultThreshold)
	if err != nil {
		log.Fatalf("failed to save model: %v", err)
	}

	if err := recordRun(cfg.Database.Path, *version, report); err != nil {
		log.Printf("training log not written: %v", err)
	}

	fmt.Printf("model saved to %s\n", dir)
	fmt.Printf("set ml.model_type to %q to serve it\n", modelType)
}

func readDataset(path string) (*pipeline.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dataset, err := pipeline.ReadDataset(path, f)
	if err != nil {
		return nil, err
	}
	if dataset.Labels == nil {
		return nil, fmt.Errorf("%s has no %s column", path, pipeline.LabelColumn)
	}
	return dataset, nil
}

func recordRun(dbPath, version string, report *ml.TrainingReport) error {
	store, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.SaveTrainingLog(context.Background(), db.TrainingLog{
		ModelName:  modelType,
		Version:    version,
		Accuracy:   report.Evaluation.Accuracy,
		Precision:  report.Evaluation.Precision,
		Recall:     report.Evaluation.Recall,
		AUC:        report.Evaluation.AUC,
		DataPoints: report.TrainSize + report.TestSize,
	})
}
