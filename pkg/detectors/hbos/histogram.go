package hbos

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/taosad/pkg/detectors"
)

// densityTolerance bounds how far sum(density*width) may drift from 1.
const densityTolerance = 0.1

// constantPad is the half-width, relative to the value, of the range given
// to a constant feature whose magnitude makes the absolute 0.5 vanish.
const constantPad = 1e-9

// Histogram is the equal-width density histogram of a single feature.
type Histogram struct {
	// Edges holds len(Density)+1 ascending bin edges.
	Edges []float64
	// Density holds one value per bin; density*width sums to 1.
	Density []float64
}

// buildHistogram bins values into nBins equal-width bins spanning their
// observed range and normalizes the counts to a density.
func buildHistogram(values []float64, nBins int) Histogram {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return degenerateHistogram(nBins)
		}
	}

	lo, hi := floats.Min(values), floats.Max(values)
	if lo == hi {
		pad := math.Max(0.5, math.Abs(lo)*constantPad)
		lo, hi = lo-pad, hi+pad
	}

	width := hi - lo
	norm := float64(nBins) / width
	if math.IsInf(width, 0) || math.IsInf(norm, 0) || width <= 0 {
		// range overflows or is too narrow to split into nBins
		return degenerateHistogram(nBins)
	}

	edges := floats.Span(make([]float64, nBins+1), lo, hi)
	counts := make([]float64, nBins)
	for _, v := range values {
		pos := (v - lo) * norm
		idx := nBins - 1
		if pos < float64(nBins) {
			idx = int(math.Max(pos, 0))
		}
		// floating point drift can misplace values sitting on an edge
		if idx > 0 && v < edges[idx] {
			idx--
		}
		if idx < nBins-1 && v >= edges[idx+1] {
			idx++
		}
		counts[idx]++
	}

	density := make([]float64, nBins)
	n := float64(len(values))
	for k, c := range counts {
		density[k] = c / n / (edges[k+1] - edges[k])
	}

	return Histogram{Edges: edges, Density: density}
}

// degenerateHistogram has no finite range to bin. Its NaN density fails
// checkMass.
func degenerateHistogram(nBins int) Histogram {
	density := make([]float64, nBins)
	for k := range density {
		density[k] = math.NaN()
	}
	return Histogram{Edges: make([]float64, nBins+1), Density: density}
}

// mass returns sum(density*width), which should be 1.
func (h Histogram) mass() float64 {
	var sum float64
	for k, d := range h.Density {
		sum += d * (h.Edges[k+1] - h.Edges[k])
	}
	return sum
}

// checkMass returns a *detectors.DegenerateFitError if the histogram's
// density does not integrate to one within densityTolerance.
func (h Histogram) checkMass(feature int) error {
	sum := h.mass()
	if math.IsNaN(sum) || math.Abs(sum-1) > densityTolerance {
		return &detectors.DegenerateFitError{Feature: feature, Sum: sum}
	}
	return nil
}

// binIndex places v against ascending edges with right-closed bins. It
// returns 0 for values at or below the lowest edge, len(edges) for values
// above the highest edge, and k for edges[k-1] < v <= edges[k].
func binIndex(edges []float64, v float64) int {
	return sort.SearchFloat64s(edges, v)
}

// binScores returns log2(density + alpha) for every bin.
func (h Histogram) binScores(alpha float64) []float64 {
	out := make([]float64, len(h.Density))
	for k, d := range h.Density {
		out[k] = math.Log2(d + alpha)
	}
	return out
}

// score returns the log-density score of v. Values outside the edges take
// the score of the nearest bin when they lie within tol bin widths of it,
// otherwise the lowest bin score of the feature.
func (h Histogram) score(v float64, binScores []float64, minScore, tol float64) float64 {
	nBins := len(h.Density)
	last := len(h.Edges) - 1

	switch idx := binIndex(h.Edges, v); {
	case idx == 0:
		dist := h.Edges[0] - v
		width := h.Edges[1] - h.Edges[0]
		if dist <= width*tol {
			return binScores[0]
		}
		return minScore
	case idx == nBins+1:
		dist := v - h.Edges[last]
		width := h.Edges[last] - h.Edges[last-1]
		if dist <= width*tol {
			return binScores[nBins-1]
		}
		return minScore
	default:
		return binScores[idx-1]
	}
}
