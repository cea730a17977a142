package detectors

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// InvertMethod selects how InvertOrder flips a score ordering.
type InvertMethod int

const (
	// InvertMultiply negates every score.
	InvertMultiply InvertMethod = iota
	// InvertSubtract replaces every score s with max(scores) - s.
	InvertSubtract
)

// CheckMatrix verifies data is a non-empty rectangular matrix and returns
// its dimensions.
func CheckMatrix(data [][]float64) (nSamples, nFeatures int, err error) {
	if len(data) == 0 || len(data[0]) == 0 {
		return 0, 0, ErrEmptyData
	}
	nFeatures = len(data[0])
	for i, row := range data {
		if len(row) != nFeatures {
			return 0, 0, &ShapeError{
				Op:   "check matrix",
				Want: fmt.Sprintf("%d features", nFeatures),
				Got:  fmt.Sprintf("%d features in row %d", len(row), i),
			}
		}
	}
	return len(data), nFeatures, nil
}

// CheckFeatures verifies data is rectangular with exactly nFeatures columns.
func CheckFeatures(data [][]float64, nFeatures int) error {
	_, d, err := CheckMatrix(data)
	if err != nil {
		return err
	}
	if d != nFeatures {
		return &ShapeError{
			Op:   "check features",
			Want: fmt.Sprintf("%d features", nFeatures),
			Got:  fmt.Sprintf("%d features", d),
		}
	}
	return nil
}

// RowwiseDistances returns the Euclidean distance between row i of x and row
// i of y for every i. Unlike a pairwise distance matrix it does not
// broadcast: x and y must have identical shapes.
func RowwiseDistances(x, y [][]float64) ([]float64, error) {
	if len(x) != len(y) {
		return nil, &ShapeError{
			Op:   "rowwise distances",
			Want: fmt.Sprintf("%d rows", len(x)),
			Got:  fmt.Sprintf("%d rows", len(y)),
		}
	}

	out := make([]float64, len(x))
	for i := range x {
		if len(x[i]) != len(y[i]) {
			return nil, &ShapeError{
				Op:   "rowwise distances",
				Want: fmt.Sprintf("%d columns", len(x[i])),
				Got:  fmt.Sprintf("%d columns in row %d", len(y[i]), i),
			}
		}
		out[i] = floats.Distance(x[i], y[i], 2)
	}
	return out, nil
}

// InvertOrder returns a copy of scores with the order reversed so the
// smallest value becomes the largest.
func InvertOrder(scores []float64, method InvertMethod) ([]float64, error) {
	out := append([]float64(nil), scores...)
	switch method {
	case InvertMultiply:
		floats.Scale(-1, out)
	case InvertSubtract:
		if len(out) == 0 {
			return out, nil
		}
		top := floats.Max(out)
		for i, s := range out {
			out[i] = top - s
		}
	default:
		return nil, errors.Errorf("invert order: unknown method %d", method)
	}
	return out, nil
}
