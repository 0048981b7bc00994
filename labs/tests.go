// Package labs holds the fixed laboratory test table, the user-entered value
// mapping and the reference-range classification used to colour each field.
package labs

import "fmt"

// Canonical test names, in form order.
const (
	Amylase           = "Amylase"
	Lipase            = "Lipase"
	Calcium           = "Calcium (Ca²⁺)"
	Potassium         = "Potassium (K⁺)"
	Magnesium         = "Magnesium (Mg²⁺)"
	CRP               = "C-Reactive Protein (CRP)"
	WBC               = "White Blood Cell (WBC)"
	ALT               = "ALT (SGPT)"
	AST               = "AST (SGOT)"
	Bilirubin         = "Bilirubin (Total)"
	Albumin           = "Albumin"
	VitaminD          = "Vitamin D"
	FastingBloodSugar = "Fasting Blood Sugar"
)

// Test is one entry of the reference table. Min and Max bound the reference
// range; they are not the abnormality thresholds used by the rule checker.
type Test struct {
	Name        string  `json:"name"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Unit        string  `json:"unit"`
	Description string  `json:"description"`
}

// Placeholder renders the hint shown in an empty input, e.g. "30 - 110 U/L".
func (t Test) Placeholder() string {
	return fmt.Sprintf("%g - %g %s", t.Min, t.Max, t.Unit)
}

var tests = []Test{
	{Name: Amylase, Min: 30, Max: 110, Unit: "U/L", Description: "Pancreatic enzyme; elevated in acute pancreatitis."},
	{Name: Lipase, Min: 0, Max: 160, Unit: "U/L", Description: "Specific pancreatic enzyme; high levels indicate pancreatitis."},
	{Name: Calcium, Min: 8.5, Max: 10.2, Unit: "mg/dL", Description: "Important for bone & heart health; low in severe pancreatitis."},
	{Name: Potassium, Min: 3.5, Max: 5.0, Unit: "mmol/L", Description: "Electrolyte; low levels affect heart rhythm."},
	{Name: Magnesium, Min: 1.7, Max: 2.2, Unit: "mg/dL", Description: "Electrolyte; deficiency may occur in pancreatitis."},
	{Name: CRP, Min: 0, Max: 10, Unit: "mg/L", Description: "Inflammation marker; high in acute pancreatitis."},
	{Name: WBC, Min: 4000, Max: 11000, Unit: "/μL", Description: "Elevated in infection or inflammation."},
	{Name: ALT, Min: 7, Max: 56, Unit: "U/L", Description: "Liver enzyme; elevated in liver involvement."},
	{Name: AST, Min: 10, Max: 40, Unit: "U/L", Description: "Liver enzyme; check with ALT."},
	{Name: Bilirubin, Min: 0.3, Max: 1.2, Unit: "mg/dL", Description: "High levels indicate liver or bile duct issues."},
	{Name: Albumin, Min: 3.4, Max: 5.4, Unit: "g/dL", Description: "Protein level; low may indicate malnutrition."},
	{Name: VitaminD, Min: 30, Max: 100, Unit: "ng/mL", Description: "Low levels affect immunity and bone health."},
	{Name: FastingBloodSugar, Min: 70, Max: 99, Unit: "mg/dL", Description: "High levels indicate impaired glucose regulation."},
}

// Tests returns a copy of the reference table in form order.
func Tests() []Test {
	out := make([]Test, len(tests))
	copy(out, tests)
	return out
}

// Lookup resolves name (canonical, alias, or a loosely typed variant) to its
// definition.
func Lookup(name string) (Test, error) {
	idx, err := resolveIndex(name)
	if err != nil {
		return Test{}, err
	}
	return tests[idx], nil
}

// FeatureKeys is the ordered key list of the model input vector.
func FeatureKeys() []string {
	keys := make([]string, len(tests))
	for i, t := range tests {
		keys[i] = t.Name
	}
	return keys
}
