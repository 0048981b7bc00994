package labs

import "fmt"

// FieldState is the reference-range classification of one field.
type FieldState int

const (
	Unset FieldState = iota
	Below
	Above
	Within
)

func (s FieldState) String() string {
	switch s {
	case Below:
		return "below"
	case Above:
		return "above"
	case Within:
		return "within"
	default:
		return "unset"
	}
}

func (s FieldState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *FieldState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unset":
		*s = Unset
	case "below":
		*s = Below
	case "above":
		*s = Above
	case "within":
		*s = Within
	default:
		return fmt.Errorf("unknown field state %q", text)
	}
	return nil
}

// BorderClass is the CSS class of the input border for this state.
func (s FieldState) BorderClass() string {
	switch s {
	case Below:
		return "border-amber-500"
	case Above:
		return "border-red-600"
	case Within:
		return "border-green-600"
	default:
		return "border-gray-300"
	}
}

// Classify compares the entered value of t against its reference range only.
func Classify(t Test, v Values) FieldState {
	x, ok := v[t.Name]
	if !ok {
		return Unset
	}
	switch {
	case x < t.Min:
		return Below
	case x > t.Max:
		return Above
	default:
		return Within
	}
}
