package detectors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowwiseDistances(t *testing.T) {
	t.Run("single row", func(t *testing.T) {
		d, err := RowwiseDistances([][]float64{{0, 0}}, [][]float64{{3, 4}})
		require.NoError(t, err)
		assert.Equal(t, []float64{5.0}, d)
	})

	t.Run("does not broadcast", func(t *testing.T) {
		x := [][]float64{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}, {0, 0, 1}}
		y := [][]float64{{0, 0, 0}, {1, 1, 2}, {2, 2, 2}, {0, 0, 0}}
		d, err := RowwiseDistances(x, y)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1, 0, 1}, d)
	})

	t.Run("row count mismatch", func(t *testing.T) {
		_, err := RowwiseDistances([][]float64{{0, 0}}, [][]float64{{3, 4}, {1, 1}})
		require.Error(t, err)
		assert.True(t, IsShapeError(err))
	})

	t.Run("column count mismatch", func(t *testing.T) {
		_, err := RowwiseDistances([][]float64{{0, 0}}, [][]float64{{3, 4, 5}})
		require.Error(t, err)
		assert.True(t, IsShapeError(err))
	})
}

func TestInvertOrder(t *testing.T) {
	scores := []float64{0.1, 0.3, 0.5, 0.7, 0.2, 0.1}

	t.Run("multiplication", func(t *testing.T) {
		got, err := InvertOrder(scores, InvertMultiply)
		require.NoError(t, err)
		assert.Equal(t, []float64{-0.1, -0.3, -0.5, -0.7, -0.2, -0.1}, got)

		back, err := InvertOrder(got, InvertMultiply)
		require.NoError(t, err)
		assert.Equal(t, scores, back)
	})

	t.Run("subtraction", func(t *testing.T) {
		got, err := InvertOrder(scores, InvertSubtract)
		require.NoError(t, err)
		want := []float64{0.6, 0.4, 0.2, 0, 0.5, 0.6}
		assert.InDeltaSlice(t, want, got, 1e-12)
	})

	t.Run("input untouched", func(t *testing.T) {
		in := []float64{1, 2}
		_, err := InvertOrder(in, InvertMultiply)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2}, in)
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := InvertOrder(scores, InvertMethod(7))
		assert.Error(t, err)
	})
}

func TestCheckMatrix(t *testing.T) {
	n, d, err := CheckMatrix([][]float64{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, d)

	_, _, err = CheckMatrix(nil)
	assert.True(t, errors.Is(err, ErrEmptyData))

	_, _, err = CheckMatrix([][]float64{{1, 2}, {3}})
	assert.True(t, IsShapeError(err))

	assert.True(t, IsShapeError(CheckFeatures([][]float64{{1, 2}}, 3)))
	assert.NoError(t, CheckFeatures([][]float64{{1, 2, 3}}, 3))
}
