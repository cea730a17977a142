package detectors

import (
	"fmt"
	"math"
)

// Interval selects which bounds of a parameter range are inclusive.
type Interval int

const (
	// Open is (low, high).
	Open Interval = iota
	// LeftClosed is [low, high).
	LeftClosed
	// RightClosed is (low, high].
	RightClosed
	// Closed is [low, high].
	Closed
)

// Unbounded sides of a parameter range.
var (
	PositiveInf = math.Inf(1)
	NegativeInf = math.Inf(-1)
)

func (iv Interval) format(low, high float64) string {
	left, right := "(", ")"
	if iv == LeftClosed || iv == Closed {
		left = "["
	}
	if iv == RightClosed || iv == Closed {
		right = "]"
	}
	return fmt.Sprintf("%s%g, %g%s", left, low, high, right)
}

// CheckParameter returns a *ConfigurationError if value lies outside the
// range between low and high with the inclusivity given by iv.
func CheckParameter(name string, value, low, high float64, iv Interval) error {
	if math.IsInf(low, -1) && math.IsInf(high, 1) {
		return &ConfigurationError{Param: name, Msg: "neither low nor high bound is defined"}
	}
	if low > high {
		return &ConfigurationError{Param: name, Msg: fmt.Sprintf("lower bound %g > higher bound %g", low, high)}
	}
	if math.IsNaN(value) {
		return &ConfigurationError{Param: name, Msg: "is set to NaN"}
	}

	var below, above bool
	switch iv {
	case Closed:
		below, above = value < low, value > high
	case LeftClosed:
		below, above = value < low, value >= high
	case RightClosed:
		below, above = value <= low, value > high
	default:
		below, above = value <= low, value >= high
	}
	if below || above {
		return &ConfigurationError{
			Param: name,
			Msg:   fmt.Sprintf("is set to %g, not in the range of %s", value, iv.format(low, high)),
		}
	}
	return nil
}

// CheckContamination validates a contamination fraction in (0, 0.5).
func CheckContamination(c float64) error {
	return CheckParameter("contamination", c, 0, 0.5, Open)
}
