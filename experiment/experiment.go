package experiment

import (
	"errors"
	"fmt"
)

var (
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrInvalidWeights     = errors.New("invalid variant weights")
)

// ControlName is the implicit baseline arm. It receives all traffic not
// claimed by configured variants and carries no overrides.
const ControlName = "control"

// Variant is one experiment arm. Zero-valued override fields mean "use the
// engine default".
type Variant struct {
	Name         string  `json:"name"`
	Weight       float64 `json:"weight"` // percentage of traffic, [0, 100]
	Model        string  `json:"model,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	IsControl    bool    `json:"is_control,omitempty"`
}

// Control returns the implicit baseline variant.
func Control() Variant {
	return Variant{Name: ControlName, IsControl: true}
}

// Experiment is a named traffic split.
type Experiment struct {
	Name     string    `json:"name"`
	Variants []Variant `json:"variants"`
}

// Validate checks that weights are non-negative and sum to at most 100.
func (e *Experiment) Validate() error {
	var total float64
	for _, v := range e.Variants {
		if v.Weight < 0 {
			return fmt.Errorf("%w: variant %q has negative weight", ErrInvalidWeights, v.Name)
		}
		total += v.Weight
	}
	if total > 100 {
		return fmt.Errorf("%w: weights sum to %.2f, must not exceed 100", ErrInvalidWeights, total)
	}
	return nil
}

// VariantByName looks up a configured arm, including the implicit control.
func (e *Experiment) VariantByName(name string) (Variant, bool) {
	if name == ControlName {
		return Control(), true
	}
	for _, v := range e.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}
