// Package preprocess prepares feature matrices before they reach a detector.
package preprocess

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/taosad/pkg/detectors"
)

// StandardScaler standardizes each feature to zero mean and unit variance
// using the population standard deviation of the fitted data.
type StandardScaler struct {
	Mean []float64
	Std  []float64
}

// Fit learns the per-feature mean and standard deviation.
func (s *StandardScaler) Fit(data [][]float64) error {
	nSamples, nFeatures, err := detectors.CheckMatrix(data)
	if err != nil {
		return errors.Wrap(err, "scaler fit")
	}

	mean := make([]float64, nFeatures)
	std := make([]float64, nFeatures)
	column := make([]float64, nSamples)
	for f := 0; f < nFeatures; f++ {
		for i, row := range data {
			column[i] = row[f]
		}
		mean[f], std[f] = stat.PopMeanStdDev(column, nil)
	}

	s.Mean, s.Std = mean, std
	return nil
}

// Transform returns a standardized copy of data. Features with zero
// standard deviation map to 0.
func (s *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	if s.Mean == nil {
		return nil, detectors.ErrNotFitted
	}
	if err := detectors.CheckFeatures(data, len(s.Mean)); err != nil {
		return nil, errors.Wrap(err, "scaler transform")
	}

	out := make([][]float64, len(data))
	for i, row := range data {
		out[i] = make([]float64, len(row))
		for f, v := range row {
			if s.Std[f] != 0 {
				out[i][f] = (v - s.Mean[f]) / s.Std[f]
			}
		}
	}
	return out, nil
}

// FitTransform fits the scaler on data and standardizes it.
func (s *StandardScaler) FitTransform(data [][]float64) ([][]float64, error) {
	if err := s.Fit(data); err != nil {
		return nil, err
	}
	return s.Transform(data)
}
