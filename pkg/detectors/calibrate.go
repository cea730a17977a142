package detectors

import (
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Calibration is the fit-time view of a detector's training scores.
type Calibration struct {
	// Contamination used to derive Threshold.
	Contamination float64
	// Threshold is the (1 - contamination) percentile of Scores.
	Threshold float64
	// Labels holds 1 for training samples scoring above Threshold, else 0.
	Labels []int
	// Mean and Std describe the training score distribution (population std).
	Mean float64
	Std  float64
	// Scores are the decision scores of the training data.
	Scores []float64
}

// Calibrate derives the threshold, binary labels and score statistics from
// a detector's training scores.
func Calibrate(scores []float64, contamination float64) (*Calibration, error) {
	if err := CheckContamination(contamination); err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, ErrEmptyData
	}

	c := &Calibration{
		Contamination: contamination,
		Threshold:     Percentile(scores, 100*(1-contamination)),
		Labels:        make([]int, len(scores)),
		Scores:        append([]float64(nil), scores...),
	}
	for i, s := range scores {
		if s > c.Threshold {
			c.Labels[i] = 1
		}
	}
	c.Mean, c.Std = stat.PopMeanStdDev(scores, nil)

	return c, nil
}

// Clone returns a deep copy of c.
func (c *Calibration) Clone() *Calibration {
	out := *c
	out.Labels = slices.Clone(c.Labels)
	out.Scores = slices.Clone(c.Scores)
	return &out
}

// Probability maps scores to outlier probabilities in [0, 1] using the
// training mean and standard deviation.
func (c *Calibration) Probability(scores []float64) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		var p float64
		if c.Std > 0 {
			p = math.Erf((s - c.Mean) / (c.Std * math.Sqrt2))
		} else if s > c.Mean {
			p = 1
		}
		out[i] = math.Max(0, math.Min(1, p))
	}
	return out
}

// PredictLabels labels a batch of scores as Outlier or Inlier. The threshold
// is the score at rank floor((1 - contamination) * n) of this batch, not the
// fit-time Threshold; samples scoring at or above it are outliers.
func PredictLabels(scores []float64, contamination float64) []int {
	labels := make([]int, len(scores))
	if len(scores) == 0 {
		return labels
	}

	ranking := append([]float64(nil), scores...)
	sort.Float64s(ranking)
	idx := int((1 - contamination) * float64(len(ranking)))
	if idx >= len(ranking) {
		idx = len(ranking) - 1
	}
	threshold := ranking[idx]

	for i, s := range scores {
		if s >= threshold {
			labels[i] = Outlier
		} else {
			labels[i] = Inlier
		}
	}
	return labels
}

// Percentile returns the q-th percentile (0 <= q <= 100) of data using linear
// interpolation between the closest ranks. data is not modified.
func Percentile(data []float64, q float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)

	pos := q / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower < 0 {
		return sorted[0]
	}
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	if lower == upper {
		return sorted[lower]
	}

	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
