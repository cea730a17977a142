package detectors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		q    float64
		want float64
	}{
		{name: "empty", data: nil, q: 50, want: 0},
		{name: "single", data: []float64{3}, q: 90, want: 3},
		{name: "median odd", data: []float64{5, 1, 3}, q: 50, want: 3},
		{name: "interpolated", data: []float64{1, 2, 3, 4}, q: 50, want: 2.5},
		{name: "ninetieth", data: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, q: 90, want: 9.1},
		{name: "max", data: []float64{1, 2, 3}, q: 100, want: 3},
		{name: "min", data: []float64{4, 2, 3}, q: 0, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(tt.data, tt.q), 1e-12)
		})
	}
}

func TestPercentileDoesNotMutate(t *testing.T) {
	data := []float64{3, 1, 2}
	Percentile(data, 50)
	assert.Equal(t, []float64{3, 1, 2}, data)
}

func TestCalibrate(t *testing.T) {
	scores := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	c, err := Calibrate(scores, 0.1)
	require.NoError(t, err)

	assert.InDelta(t, 9.1, c.Threshold, 1e-12)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, c.Labels)
	assert.InDelta(t, 5.5, c.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(8.25), c.Std, 1e-12)
	assert.Equal(t, scores, c.Scores)
	assert.Equal(t, 0.1, c.Contamination)
}

func TestCalibrationClone(t *testing.T) {
	c, err := Calibrate([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1)
	require.NoError(t, err)

	clone := c.Clone()
	assert.Equal(t, c, clone)

	clone.Labels[0] = 1
	clone.Scores[0] = 100
	clone.Threshold = 0
	assert.Equal(t, 0, c.Labels[0])
	assert.Equal(t, 1.0, c.Scores[0])
	assert.InDelta(t, 9.1, c.Threshold, 1e-12)
}

func TestCalibrateErrors(t *testing.T) {
	tests := []struct {
		name          string
		scores        []float64
		contamination float64
		configErr     bool
	}{
		{name: "zero contamination", scores: []float64{1, 2}, contamination: 0, configErr: true},
		{name: "half contamination", scores: []float64{1, 2}, contamination: 0.5, configErr: true},
		{name: "empty scores", scores: nil, contamination: 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Calibrate(tt.scores, tt.contamination)
			require.Error(t, err)
			assert.Equal(t, tt.configErr, IsConfigurationError(err))
		})
	}
}

func TestPredictLabels(t *testing.T) {
	scores := []float64{0.1, 0.9, 0.2, 0.3, 0.8, 0.4, 0.5, 0.6, 0.7, 0.05}

	labels := PredictLabels(scores, 0.2)

	// rank floor(0.8*10) = 8 of the sorted batch is 0.8
	assert.Equal(t, []int{1, -1, 1, 1, -1, 1, 1, 1, 1, 1}, labels)
}

func TestPredictLabelsTies(t *testing.T) {
	labels := PredictLabels([]float64{1, 1, 1, 1}, 0.1)
	assert.Equal(t, []int{Outlier, Outlier, Outlier, Outlier}, labels)
}

func TestPredictLabelsIndependentOfCalibration(t *testing.T) {
	train := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	c, err := Calibrate(train, 0.1)
	require.NoError(t, err)

	// every score of this batch is below the fit-time threshold, yet the
	// batch-local threshold still flags the top ranked sample
	batch := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 9.05}
	for _, s := range batch {
		assert.Less(t, s, c.Threshold)
	}
	labels := PredictLabels(batch, 0.1)
	assert.Equal(t, Outlier, labels[9])
	assert.Equal(t, Inlier, labels[8])
}

func TestProbability(t *testing.T) {
	c := &Calibration{Mean: 0, Std: 1}

	p := c.Probability([]float64{-3, 0, 1, 10})

	assert.Equal(t, 0.0, p[0])
	assert.Equal(t, 0.0, p[1])
	assert.InDelta(t, math.Erf(1/math.Sqrt2), p[2], 1e-12)
	assert.InDelta(t, 1.0, p[3], 1e-12)

	flat := &Calibration{Mean: 2}
	assert.Equal(t, []float64{0, 1}, flat.Probability([]float64{2, 3}))
}
