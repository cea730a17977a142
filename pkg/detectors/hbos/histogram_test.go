package hbos

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/taosad/pkg/detectors"
)

func TestBinIndexRightClosed(t *testing.T) {
	edges := []float64{0, 1, 2.5, 4, 10}

	tests := []struct {
		name  string
		value float64
		want  int
	}{
		{name: "below lowest edge", value: -1, want: 0},
		{name: "on lowest edge", value: 0, want: 0},
		{name: "inside first bin", value: 0.5, want: 1},
		{name: "on first inner edge", value: 1, want: 1},
		{name: "on edge 2.5 belongs to bin ending there", value: 2.5, want: 2},
		{name: "just past 2.5", value: 2.5000001, want: 3},
		{name: "on highest edge", value: 10, want: 4},
		{name: "above highest edge", value: 10.1, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, binIndex(edges, tt.value))
		})
	}
}

func TestBuildHistogram(t *testing.T) {
	values := []float64{0, 1, 1, 2, 2, 2, 3, 3, 3, 4}

	h := buildHistogram(values, 4)

	assert.Equal(t, []float64{0, 1, 2, 3, 4}, h.Edges)
	// bins are [0,1) [1,2) [2,3) [3,4] so the maximum lands in the last bin
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.3, 0.4}, h.Density, 1e-12)
	assert.InDelta(t, 1.0, h.mass(), 1e-12)
	assert.NoError(t, h.checkMass(0))
}

func TestBuildHistogramConstantFeature(t *testing.T) {
	h := buildHistogram([]float64{3, 3, 3}, 5)

	assert.InDelta(t, 2.5, h.Edges[0], 1e-12)
	assert.InDelta(t, 3.5, h.Edges[5], 1e-12)
	assert.InDelta(t, 1.0, h.mass(), 1e-9)
}

func TestBuildHistogramExtremeRanges(t *testing.T) {
	tests := []struct {
		name       string
		values     []float64
		degenerate bool
	}{
		{name: "constant large magnitude", values: []float64{1.7e18, 1.7e18, 1.7e18}},
		{name: "constant negative large magnitude", values: []float64{-4e15, -4e15}},
		{name: "range overflows", values: []float64{-1e308, 1e308, 0}, degenerate: true},
		{name: "subnormal range", values: []float64{0, 5e-324}, degenerate: true},
		{name: "bins narrower than float spacing", values: []float64{1e18, 1e18 + 256}, degenerate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Histogram
			require.NotPanics(t, func() { h = buildHistogram(tt.values, 10) })
			require.Len(t, h.Edges, 11)
			require.Len(t, h.Density, 10)

			err := h.checkMass(0)
			if tt.degenerate {
				assert.True(t, detectors.IsDegenerateFit(err), "err: %v", err)
				return
			}
			assert.NoError(t, err)
			assert.Less(t, h.Edges[0], tt.values[0])
			assert.Greater(t, h.Edges[10], tt.values[0])
		})
	}
}

func TestCheckMassDegenerate(t *testing.T) {
	h := Histogram{
		Edges:   []float64{0, 1, 2},
		Density: []float64{0.9, 0.9},
	}

	err := h.checkMass(3)
	require.Error(t, err)
	assert.True(t, detectors.IsDegenerateFit(err))

	var de *detectors.DegenerateFitError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 3, de.Feature)
	assert.InDelta(t, 1.8, de.Sum, 1e-12)

	nan := Histogram{Edges: []float64{0, 1}, Density: []float64{math.NaN()}}
	assert.Error(t, nan.checkMass(0))
}

func TestHistogramScore(t *testing.T) {
	h := Histogram{
		Edges:   []float64{0, 1, 2, 3},
		Density: []float64{0.5, 0.3, 0.2},
	}
	alpha, tol := 0.1, 0.5
	binScores := h.binScores(alpha)
	minScore := math.Log2(0.2 + alpha)

	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{name: "first bin", value: 0.5, want: math.Log2(0.6)},
		{name: "second bin", value: 1.5, want: math.Log2(0.4)},
		{name: "right closed edge", value: 1, want: math.Log2(0.6)},
		{name: "last edge", value: 3, want: math.Log2(0.3)},
		{name: "slightly below", value: -0.4, want: math.Log2(0.6)},
		{name: "far below", value: -0.6, want: minScore},
		{name: "slightly above", value: 3.5, want: math.Log2(0.3)},
		{name: "far above", value: 100, want: minScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.score(tt.value, binScores, minScore, tol)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}
