// Package penalty converts plagiarism percentages into score multipliers.
package penalty

import (
	"errors"
	"math"
)

const (
	// DefaultNoPenaltyUpTo is the plagiarism percent at or below which marks are untouched.
	DefaultNoPenaltyUpTo = 35.0
	// DefaultFullZeroAt is the plagiarism percent at or above which marks drop to zero.
	DefaultFullZeroAt = 85.0
)

// ErrInvalidThresholds indicates the decay window is empty or inverted.
var ErrInvalidThresholds = errors.New("full zero threshold must exceed no penalty threshold")

// Decay is a linear penalty between two plagiarism thresholds.
type Decay struct {
	NoPenaltyUpTo float64
	FullZeroAt    float64
}

// Default returns the decay curve used when no thresholds are configured.
func Default() Decay {
	return Decay{NoPenaltyUpTo: DefaultNoPenaltyUpTo, FullZeroAt: DefaultFullZeroAt}
}

// Validate checks that the thresholds describe a non-empty window.
func (d Decay) Validate() error {
	if d.FullZeroAt <= d.NoPenaltyUpTo {
		return ErrInvalidThresholds
	}
	return nil
}

// ratio is the shared thresholded-decay primitive; both call sites round its result differently.
func (d Decay) ratio(percent float64) float64 {
	switch {
	case percent <= d.NoPenaltyUpTo:
		return 1
	case percent >= d.FullZeroAt:
		return 0
	default:
		return (d.FullZeroAt - percent) / (d.FullZeroAt - d.NoPenaltyUpTo)
	}
}

// Factor returns the multiplier in [0,1] for the given plagiarism percent, rounded to 4 decimals.
func (d Decay) Factor(percent float64) float64 {
	return Round(d.ratio(percent), 4)
}

// Apply scales raw marks by the decay curve, rounded to 2 decimals.
func (d Decay) Apply(rawMarks, percent float64) float64 {
	if rawMarks <= 0 {
		return 0
	}
	return Round(rawMarks*d.ratio(percent), 2)
}

// Applied reports whether the percent falls into the penalised region.
func (d Decay) Applied(percent float64) bool {
	return d.ratio(percent) < 1
}

// Round rounds half away from zero to the given number of decimals.
func Round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
