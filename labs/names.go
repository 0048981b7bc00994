package labs

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var ErrUnknownTest = errors.New("unknown lab test")

// Short names used by the rule table and accepted from the CLI.
var aliases = map[string]string{
	"calcium":   Calcium,
	"ca":        Calcium,
	"potassium": Potassium,
	"k":         Potassium,
	"magnesium": Magnesium,
	"mg":        Magnesium,
	"crp":       CRP,
	"wbc":       WBC,
	"alt":       ALT,
	"sgpt":      ALT,
	"ast":       AST,
	"sgot":      AST,
	"bilirubin": Bilirubin,
	"vitamin d": VitaminD,
	"fbs":       FastingBloodSugar,
}

var nameIndex = buildNameIndex()

func buildNameIndex() map[string]int {
	index := make(map[string]int, len(tests)+len(aliases))
	for i, t := range tests {
		index[foldName(t.Name)] = i
	}
	for alias, canonical := range aliases {
		for i, t := range tests {
			if t.Name == canonical {
				index[foldName(alias)] = i
			}
		}
	}
	return index
}

// foldName maps superscripts to plain digits/signs (NFKC), folds case and
// collapses whitespace, so "calcium (ca2+)" and "Calcium (Ca²⁺)" compare equal.
// A Caser is stateful, so one is built per call.
func foldName(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

func resolveIndex(name string) (int, error) {
	idx, ok := nameIndex[foldName(name)]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrUnknownTest, name)
	}
	return idx, nil
}

// Resolve returns the canonical test name for name.
func Resolve(name string) (string, error) {
	idx, err := resolveIndex(name)
	if err != nil {
		return "", err
	}
	return tests[idx].Name, nil
}
