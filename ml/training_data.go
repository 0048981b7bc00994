package ml

import (
	"errors"
	"fmt"

	"labcheck/labs"
)

// demoColumns is the column order of demoRows.
var demoColumns = []string{
	labs.Amylase, labs.Lipase, labs.Calcium, labs.Potassium, labs.Magnesium,
	labs.CRP, labs.WBC, labs.ALT, labs.AST, labs.Bilirubin,
	labs.Albumin, labs.VitaminD, labs.FastingBloodSugar,
}

type demoRow struct {
	values [13]float64
	label  int
}

// Synthetic panels for the demo model. They are illustrative only.
var demoRows = []demoRow{
	{[13]float64{420, 980, 7.9, 3.4, 1.6, 85, 15200, 88, 72, 2.1, 3.1, 22, 135}, 1},
	{[13]float64{310, 650, 8.1, 3.7, 1.8, 48, 13400, 64, 51, 1.6, 3.3, 18, 118}, 1},
	{[13]float64{560, 1450, 7.6, 3.2, 1.5, 140, 17800, 120, 95, 2.8, 2.9, 15, 160}, 1},
	{[13]float64{190, 520, 8.3, 3.9, 1.7, 32, 12100, 45, 38, 1.3, 3.5, 26, 104}, 1},
	{[13]float64{280, 890, 8.0, 3.6, 1.6, 66, 14600, 73, 60, 1.9, 3.2, 20, 126}, 1},
	{[13]float64{150, 410, 8.4, 3.8, 1.9, 25, 11800, 58, 44, 1.4, 3.6, 28, 110}, 1},
	{[13]float64{720, 2100, 7.4, 3.1, 1.4, 190, 19500, 150, 130, 3.4, 2.7, 12, 185}, 1},
	{[13]float64{240, 760, 8.2, 4.0, 1.8, 54, 13900, 39, 35, 1.1, 3.4, 31, 101}, 1},
	{[13]float64{360, 1120, 7.8, 3.5, 1.6, 97, 16300, 95, 80, 2.4, 3.0, 19, 142}, 1},
	{[13]float64{205, 610, 8.6, 3.9, 1.9, 38, 12700, 61, 47, 1.5, 3.5, 24, 113}, 1},
	{[13]float64{72, 45, 9.4, 4.3, 2.0, 2.1, 6800, 22, 20, 0.7, 4.4, 48, 86}, 0},
	{[13]float64{55, 30, 9.8, 4.6, 2.1, 1.2, 5400, 18, 17, 0.5, 4.8, 62, 79}, 0},
	{[13]float64{95, 120, 9.1, 4.0, 1.9, 6.5, 8900, 34, 29, 0.9, 4.1, 35, 94}, 0},
	{[13]float64{88, 98, 8.9, 3.8, 1.8, 8.0, 9700, 41, 33, 1.0, 3.9, 33, 97}, 0},
	{[13]float64{64, 52, 9.6, 4.4, 2.0, 3.3, 7200, 27, 23, 0.6, 4.5, 54, 88}, 0},
	{[13]float64{105, 140, 9.0, 4.1, 1.9, 9.2, 10400, 50, 37, 1.1, 3.8, 29, 99}, 0},
	{[13]float64{48, 25, 10.0, 4.8, 2.2, 0.8, 4900, 15, 14, 0.4, 5.0, 71, 75}, 0},
	{[13]float64{80, 70, 9.3, 3.6, 1.7, 12, 11600, 66, 48, 1.3, 3.6, 27, 104}, 0},
	{[13]float64{90, 85, 8.7, 3.4, 1.6, 15, 12300, 30, 26, 0.8, 3.3, 21, 92}, 0},
	{[13]float64{60, 40, 9.5, 4.2, 2.0, 1.9, 6200, 24, 21, 0.6, 4.6, 24, 128}, 0},
	{[13]float64{112, 150, 9.2, 4.3, 2.0, 4.0, 7800, 29, 24, 0.8, 4.3, 40, 90}, 0},
	{[13]float64{70, 60, 9.7, 4.5, 2.1, 2.6, 7000, 75, 62, 2.0, 4.0, 44, 89}, 0},
	{[13]float64{85, 110, 9.0, 4.0, 1.9, 5.5, 8300, 36, 30, 0.9, 4.2, 38, 95}, 0},
	{[13]float64{58, 35, 9.9, 4.7, 2.1, 1.5, 5800, 20, 18, 0.5, 4.7, 58, 82}, 0},
}

// Center and scale per feature for the demo corpus. These are fixed
// constants shipped with the samples, not derived from the rule thresholds.
var demoScales = map[string]FeatureScale{
	labs.Amylase:           {Center: 70, Scale: 100},
	labs.Lipase:            {Center: 80, Scale: 300},
	labs.Calcium:           {Center: 9.3, Scale: 0.8},
	labs.Potassium:         {Center: 4.25, Scale: 0.75},
	labs.Magnesium:         {Center: 1.95, Scale: 0.25},
	labs.CRP:               {Center: 5, Scale: 40},
	labs.WBC:               {Center: 7500, Scale: 3500},
	labs.ALT:               {Center: 30, Scale: 30},
	labs.AST:               {Center: 25, Scale: 25},
	labs.Bilirubin:         {Center: 0.75, Scale: 0.75},
	labs.Albumin:           {Center: 4.4, Scale: 1.0},
	labs.VitaminD:          {Center: 50, Scale: 25},
	labs.FastingBloodSugar: {Center: 85, Scale: 25},
}

// DemoSamples returns a fresh copy of the bundled corpus.
func DemoSamples() []Sample {
	samples := make([]Sample, len(demoRows))
	for i, row := range demoRows {
		x := make(map[string]float64, len(demoColumns))
		for j, key := range demoColumns {
			x[key] = row.values[j]
		}
		samples[i] = Sample{X: x, Y: row.label}
	}
	return samples
}

// DemoNormalizer is the normalizer matching DemoSamples over labs.FeatureKeys.
func DemoNormalizer() *Normalizer {
	n, err := NewNormalizer(labs.FeatureKeys(), demoScales)
	if err != nil {
		panic(fmt.Sprintf("demo scales out of sync with lab tests: %v", err))
	}
	return n
}

// BuildTrainingSet projects samples onto keys (missing values read as 0) and
// normalises every row.
func BuildTrainingSet(samples []Sample, keys []string, normalize NormalizeFunc) (features [][]float64, labels []int, err error) {
	if len(samples) == 0 {
		return nil, nil, errors.New("samples is empty")
	}
	features = make([][]float64, 0, len(samples))
	labels = make([]int, 0, len(samples))
	for i, s := range samples {
		row := make(map[string]float64, len(keys))
		for _, key := range keys {
			row[key] = s.X[key]
		}
		vector, err := normalize(row)
		if err != nil {
			return nil, nil, fmt.Errorf("sample %d: %w", i, err)
		}
		features = append(features, vector)
		labels = append(labels, s.Y)
	}
	return features, labels, nil
}
