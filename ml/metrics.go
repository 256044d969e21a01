package ml

import "sort"

// Evaluation holds binary classification metrics.
type Evaluation struct {
	ConfusionMatrix [2][2]int `json:"confusion_matrix"`
	Accuracy        float64   `json:"accuracy"`
	Precision       float64   `json:"precision"`
	Recall          float64   `json:"recall"`
	AUC             float64   `json:"auc"`
}

// Evaluate compares scores against ground truth. ConfusionMatrix[truth][predicted].
func Evaluate(truth []int, scores []float64, threshold float64) Evaluation {
	var eval Evaluation
	if len(truth) == 0 || len(truth) != len(scores) {
		return eval
	}
	for i, label := range truth {
		predicted := int(Threshold(scores[i], threshold))
		if label < 0 || label > 1 {
			continue
		}
		eval.ConfusionMatrix[label][predicted]++
	}

	tn := float64(eval.ConfusionMatrix[0][0])
	fp := float64(eval.ConfusionMatrix[0][1])
	fn := float64(eval.ConfusionMatrix[1][0])
	tp := float64(eval.ConfusionMatrix[1][1])
	if total := tn + fp + fn + tp; total > 0 {
		eval.Accuracy = (tp + tn) / total
	}
	if tp+fp > 0 {
		eval.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		eval.Recall = tp / (tp + fn)
	}
	eval.AUC = ROCAUC(truth, scores)
	return eval
}

// ROCAUC computes the area under the ROC curve with the trapezoidal rule.
// Tied scores are grouped so the result does not depend on input order.
func ROCAUC(truth []int, scores []float64) float64 {
	type pair struct {
		score float64
		label int
	}
	pairs := make([]pair, len(truth))
	positives, negatives := 0.0, 0.0
	for i := range truth {
		pairs[i] = pair{score: scores[i], label: truth[i]}
		if truth[i] == 1 {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return 0
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	auc := 0.0
	tp, fp := 0.0, 0.0
	prevTPR, prevFPR := 0.0, 0.0
	for i := 0; i < len(pairs); {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			if pairs[j].label == 1 {
				tp++
			} else {
				fp++
			}
			j++
		}
		tpr, fpr := tp/positives, fp/negatives
		auc += (fpr - prevFPR) * (tpr + prevTPR) / 2
		prevTPR, prevFPR = tpr, fpr
		i = j
	}
	return auc
}
