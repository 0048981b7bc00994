package ml

// Classifier produces the positive-class probability for one input vector.
type Classifier interface {
	Predict(features []float64) (float64, error)
}

// EpochLogs are the training metrics reported after each epoch.
type EpochLogs struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// EpochCallback runs after every epoch. Returning an error stops training.
type EpochCallback func(epoch int, logs EpochLogs) error
