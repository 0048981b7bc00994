package ml

// Sample is one labelled row of a training corpus. Y is 1 for a positive case.
type Sample struct {
	X map[string]float64 `json:"x"`
	Y int                `json:"y"`
}

// NormalizeFunc maps a raw feature mapping to a model input vector.
type NormalizeFunc func(raw map[string]float64) ([]float64, error)
