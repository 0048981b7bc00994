package ml

import "errors"

type Report struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// Evaluate scores a classifier against labelled vectors at the 0.5 cut-off.
func Evaluate(model Classifier, xs [][]float64, ys []int) (Report, error) {
	if len(xs) == 0 {
		return Report{}, errors.New("no samples to evaluate")
	}
	if len(xs) != len(ys) {
		return Report{}, errors.New("features and labels size mismatch")
	}

	var correct, truePositive, predictedPositive, actualPositive int
	for i, x := range xs {
		p, err := model.Predict(x)
		if err != nil {
			return Report{}, err
		}
		label := 0
		if p >= 0.5 {
			label = 1
		}
		if label == ys[i] {
			correct++
		}
		if label == 1 {
			predictedPositive++
		}
		if ys[i] == 1 {
			actualPositive++
			if label == 1 {
				truePositive++
			}
		}
	}

	report := Report{Accuracy: float64(correct) / float64(len(xs))}
	if predictedPositive > 0 {
		report.Precision = float64(truePositive) / float64(predictedPositive)
	}
	if actualPositive > 0 {
		report.Recall = float64(truePositive) / float64(actualPositive)
	}
	return report, nil
}
