// Package classifier turns one evaluation window into an event kind and a
// confidence. A TFLite model is used when one loads; otherwise, and for any
// window the model fails on, a deterministic rule classifier decides.
package classifier

import "strings"

// Kind is the event kind of a window.
type Kind int

const (
	KindNone Kind = iota
	KindCough
	KindSnore
)

// String returns the lower case kind name.
func (k Kind) String() string {
	switch k {
	case KindCough:
		return "cough"
	case KindSnore:
		return "snore"
	default:
		return "none"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name; unknown names decode to KindNone.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

// ParseKind parses a kind name, returning KindNone for unknown names.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cough":
		return KindCough
	case "snore", "snoring":
		return KindSnore
	default:
		return KindNone
	}
}

// Result is the classification of one window.
type Result struct {
	Kind       Kind    `json:"kind"`
	Confidence float64 `json:"confidence"` // [0, 1]
}

// IsPositive reports whether the result is an event at or above threshold.
func (r Result) IsPositive(threshold float64) bool {
	return r.Kind != KindNone && r.Confidence >= threshold
}

// Classifier classifies evaluation windows.
type Classifier interface {
	Classify(window []float32) (Result, error)
}

// Mode names the active classifier implementation.
type Mode string

const (
	ModeModel Mode = "model"
	ModeRules Mode = "rules"
)
