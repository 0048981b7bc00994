package rules

import "fmt"

type Verdict int

const (
	VerdictClear Verdict = iota
	VerdictAbnormal
	VerdictPancreatitis
)

func (v Verdict) String() string {
	switch v {
	case VerdictAbnormal:
		return "abnormal"
	case VerdictPancreatitis:
		return "pancreatitis"
	default:
		return "clear"
	}
}

// Message is the text shown to the user.
func (v Verdict) Message() string {
	switch v {
	case VerdictPancreatitis:
		return "⚠️ Possible Pancreatitis detected. Please consult a doctor."
	case VerdictAbnormal:
		return "⚠️ Some abnormalities present. Consider medical advice."
	default:
		return "✅ No significant signs of Pancreatitis."
	}
}

// Alarming reports whether the verdict is rendered with the warning style.
func (v Verdict) Alarming() bool {
	return v != VerdictClear
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(text []byte) error {
	switch string(text) {
	case "clear":
		*v = VerdictClear
	case "abnormal":
		*v = VerdictAbnormal
	case "pancreatitis":
		*v = VerdictPancreatitis
	default:
		return fmt.Errorf("unknown verdict %q", text)
	}
	return nil
}
