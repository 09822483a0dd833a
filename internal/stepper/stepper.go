// Package stepper computes the next value along a bounded range that is
// divided into a fixed number of equal steps.
//
// Two policies are provided:
//   - MinMax saturates at the range edges.
//   - Circular continues from the opposite edge.
//
// A Stepper carries no mutable state and is safe for concurrent use.
package stepper

import (
	"fmt"
	"math"
	"strings"
)

// Direction is the direction of a single step.
type Direction int

const (
	Up   Direction = 1
	Down Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Sign returns +1 for Up and -1 for Down.
func (d Direction) Sign() int { return int(d) }

// ParseDirection converts "up"/"down" (case-insensitive) into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "+1", "1":
		return Up, nil
	case "down", "-1":
		return Down, nil
	default:
		return 0, fmt.Errorf("invalid direction: %q (must be up or down)", s)
	}
}

// Policy selects what happens when a step leaves the range.
type Policy int

const (
	// MinMax clamps at the bounds.
	MinMax Policy = iota
	// Circular wraps to the opposite bound.
	Circular
)

func (p Policy) String() string {
	switch p {
	case MinMax:
		return "min-max"
	case Circular:
		return "circular"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ConfigurationError reports invalid stepper bounds or step count.
type ConfigurationError struct {
	Min, Max float64
	Steps    int
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid stepper (min=%g max=%g steps=%d): %s", e.Min, e.Max, e.Steps, e.Reason)
}

// Stepper walks the range [min, max] in steps equal increments.
type Stepper struct {
	min, max float64
	steps    int
	size     float64
	policy   Policy
}

// NewMinMax creates a clamping stepper.
func NewMinMax(min, max float64, steps int) (*Stepper, error) {
	return New(MinMax, min, max, steps)
}

// NewCircular creates a wrapping stepper.
func NewCircular(min, max float64, steps int) (*Stepper, error) {
	return New(Circular, min, max, steps)
}

// New validates the configuration and creates a stepper with the given policy.
func New(policy Policy, min, max float64, steps int) (*Stepper, error) {
	cfgErr := func(reason string) error {
		return &ConfigurationError{Min: min, Max: max, Steps: steps, Reason: reason}
	}
	switch {
	case math.IsNaN(min) || math.IsInf(min, 0) || math.IsNaN(max) || math.IsInf(max, 0):
		return nil, cfgErr("bounds must be finite")
	case min > max:
		return nil, cfgErr("min must be <= max")
	case steps <= 0:
		return nil, cfgErr("steps must be > 0")
	case policy != MinMax && policy != Circular:
		return nil, cfgErr("unknown policy " + policy.String())
	}
	return &Stepper{
		min:    min,
		max:    max,
		steps:  steps,
		size:   (max - min) / float64(steps),
		policy: policy,
	}, nil
}

func (s *Stepper) Min() float64      { return s.min }
func (s *Stepper) Max() float64      { return s.max }
func (s *Stepper) Steps() int        { return s.steps }
func (s *Stepper) StepSize() float64 { return s.size }
func (s *Stepper) Policy() Policy    { return s.policy }

// Index returns the grid position nearest to value, clamped to [0, Steps()].
// Values observed slightly off the grid (a device reporting 0.37 on a 0.1
// grid) snap to the nearest position.
func (s *Stepper) Index(value float64) int {
	if s.size == 0 || math.IsNaN(value) {
		return 0
	}
	idx := math.Round((value - s.min) / s.size)
	if idx < 0 {
		return 0
	}
	if idx > float64(s.steps) {
		return s.steps
	}
	return int(idx)
}

// Value returns the value at grid position idx. The top position maps to
// Max() exactly.
func (s *Stepper) Value(idx int) float64 {
	if idx == s.steps {
		return s.max
	}
	return s.min + float64(idx)*s.size
}

// Step moves one position from current in direction dir.
//
// exceeded reports that the step hit a boundary. For MinMax that means the
// result sits on the bound it was moving toward (reached or clamped). For
// Circular it means the step wrapped around.
func (s *Stepper) Step(current float64, dir Direction) (next float64, exceeded bool) {
	idx := s.Index(current) + dir.Sign()

	switch s.policy {
	case Circular:
		if idx > s.steps {
			idx, exceeded = 0, true
		} else if idx < 0 {
			idx, exceeded = s.steps, true
		}
	default:
		if idx >= s.steps {
			idx = s.steps
			exceeded = dir == Up
		} else if idx <= 0 {
			idx = 0
			exceeded = dir == Down
		}
	}

	return s.Value(idx), exceeded
}
