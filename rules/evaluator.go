// Package rules is the hand-written threshold checker. Its thresholds are a
// separate table from the reference ranges in package labs, even where the
// numbers coincide.
package rules

import "labcheck/labs"

type comparison int

const (
	above comparison = iota
	below
)

type threshold struct {
	test    string
	cmp     comparison
	limit   float64
	finding string
}

// Strict inequalities: a value equal to the limit is not a finding.
var thresholds = []threshold{
	{test: labs.Amylase, cmp: above, limit: 110, finding: "Amylase High"},
	{test: labs.Lipase, cmp: above, limit: 160, finding: "Lipase High (specific)"},
	{test: labs.Calcium, cmp: below, limit: 8.5, finding: "Low Calcium"},
	{test: labs.Potassium, cmp: below, limit: 3.5, finding: "Low Potassium"},
	{test: labs.Magnesium, cmp: below, limit: 1.7, finding: "Low Magnesium"},
	{test: labs.CRP, cmp: above, limit: 10, finding: "High CRP"},
	{test: labs.WBC, cmp: above, limit: 11000, finding: "High WBC"},
	{test: labs.ALT, cmp: above, limit: 56, finding: "High ALT"},
	{test: labs.AST, cmp: above, limit: 40, finding: "High AST"},
	{test: labs.Bilirubin, cmp: above, limit: 1.2, finding: "High Bilirubin"},
	{test: labs.Albumin, cmp: below, limit: 3.4, finding: "Low Albumin"},
	{test: labs.VitaminD, cmp: below, limit: 30, finding: "Low Vitamin D"},
	{test: labs.FastingBloodSugar, cmp: above, limit: 99, finding: "High Blood Sugar"},
}

func (t threshold) violated(v labs.Values) bool {
	x, ok := v[t.test]
	if !ok {
		return false
	}
	if t.cmp == above {
		return x > t.limit
	}
	return x < t.limit
}

// Result is the outcome of a rule-based check.
type Result struct {
	Findings []string `json:"findings"`
	Verdict  Verdict  `json:"verdict"`
	Message  string   `json:"message"`
}

// Evaluate runs every threshold against v and derives the verdict. It has no
// side effects.
func Evaluate(v labs.Values) Result {
	findings := make([]string, 0, len(thresholds))
	for _, t := range thresholds {
		if t.violated(v) {
			findings = append(findings, t.finding)
		}
	}

	verdict := VerdictClear
	switch {
	case pancreaticEnzymeHigh(v) && len(findings) > 2:
		verdict = VerdictPancreatitis
	case len(findings) > 0:
		verdict = VerdictAbnormal
	}

	return Result{Findings: findings, Verdict: verdict, Message: verdict.Message()}
}

func pancreaticEnzymeHigh(v labs.Values) bool {
	for _, t := range thresholds {
		if (t.test == labs.Lipase || t.test == labs.Amylase) && t.violated(v) {
			return true
		}
	}
	return false
}
