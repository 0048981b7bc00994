package labs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidValue = errors.New("invalid lab value")

// Values maps canonical test name to the value the user entered. A missing
// entry means the field has not been filled in.
type Values map[string]float64

// Set parses raw form input for the named test. Empty input clears the entry.
func (v Values) Set(name, input string) error {
	canonical, err := Resolve(name)
	if err != nil {
		return err
	}
	input = strings.TrimSpace(input)
	if input == "" {
		delete(v, canonical)
		return nil
	}
	x, err := strconv.ParseFloat(input, 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalidValue, canonical, input)
	}
	return v.put(canonical, x)
}

// Put stores a numeric value for the named test.
func (v Values) Put(name string, x float64) error {
	canonical, err := Resolve(name)
	if err != nil {
		return err
	}
	return v.put(canonical, x)
}

func (v Values) put(canonical string, x float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fmt.Errorf("%w: %s is not finite", ErrInvalidValue, canonical)
	}
	v[canonical] = x
	return nil
}

func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// FeatureRow builds the model input row: one entry per feature key, with 0
// substituted for anything not entered.
func FeatureRow(v Values) map[string]float64 {
	row := make(map[string]float64, len(tests))
	for _, key := range FeatureKeys() {
		row[key] = v[key]
	}
	return row
}

// ParseAssignment splits "Amylase=200" into a name and an input string.
func ParseAssignment(s string) (name, input string, err error) {
	name, input, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf("%w: expected name=value, got %q", ErrInvalidValue, s)
	}
	return strings.TrimSpace(name), strings.TrimSpace(input), nil
}
