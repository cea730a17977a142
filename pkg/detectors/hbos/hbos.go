// Package hbos implements the Histogram-Based Outlier Score (HBOS) detector.
//
// HBOS builds one equal-width histogram per feature from training data and
// scores a sample by summing the log densities of the bins its values fall
// into. The sum is negated so that samples in sparse bins receive large
// positive scores.
package hbos

import (
	"bytes"
	"encoding/gob"
	"slices"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/taosad/pkg/detectors"
)

// HBOS scores samples by per-feature histogram density.
//
// A fitted HBOS is read-only during scoring and may be shared by concurrent
// DecisionFunction and Predict callers. Fit must not run concurrently with
// any other method.
type HBOS struct {
	// Configuration
	nBins         int
	alpha         float64
	tol           float64
	contamination float64
	log           logrus.FieldLogger

	// Trained model
	histograms  []Histogram
	calibration *detectors.Calibration
}

// Option configures an HBOS detector.
type Option func(*HBOS)

// WithBins sets the number of bins per feature.
func WithBins(n int) Option {
	return func(h *HBOS) {
		h.nBins = n
	}
}

// WithAlpha sets the regularizer added to every bin density before the log.
func WithAlpha(a float64) Option {
	return func(h *HBOS) {
		h.alpha = a
	}
}

// WithTol sets how many bin widths outside the histogram a value may fall
// and still take the score of the nearest bin.
func WithTol(t float64) Option {
	return func(h *HBOS) {
		h.tol = t
	}
}

// WithContamination sets the expected proportion of outliers.
func WithContamination(c float64) Option {
	return func(h *HBOS) {
		h.contamination = c
	}
}

// WithLogger sets the logger used during fitting.
func WithLogger(l logrus.FieldLogger) Option {
	return func(h *HBOS) {
		h.log = l
	}
}

// New creates an HBOS detector and validates its configuration.
func New(opts ...Option) (*HBOS, error) {
	h := &HBOS{
		nBins:         10,
		alpha:         0.1,
		tol:           0.5,
		contamination: 0.1,
		log:           logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(h)
	}

	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *HBOS) validate() error {
	if err := detectors.CheckParameter("n_bins", float64(h.nBins), 1, detectors.PositiveInf, detectors.LeftClosed); err != nil {
		return err
	}
	if err := detectors.CheckParameter("alpha", h.alpha, 0, 1, detectors.Open); err != nil {
		return err
	}
	if err := detectors.CheckParameter("tol", h.tol, 0, 1, detectors.Open); err != nil {
		return err
	}
	return detectors.CheckContamination(h.contamination)
}

// Fit builds one histogram per feature and calibrates the training scores.
// On error the detector is left unfitted.
func (h *HBOS) Fit(data [][]float64) error {
	h.histograms, h.calibration = nil, nil

	nSamples, nFeatures, err := detectors.CheckMatrix(data)
	if err != nil {
		return errors.Wrap(err, "hbos fit")
	}

	histograms := make([]Histogram, nFeatures)
	column := make([]float64, nSamples)
	for f := 0; f < nFeatures; f++ {
		for i, row := range data {
			column[i] = row[f]
		}
		histograms[f] = buildHistogram(column, h.nBins)
		if err := histograms[f].checkMass(f); err != nil {
			return err
		}
	}

	scores := h.decisionScores(data, histograms)
	calibration, err := detectors.Calibrate(scores, h.contamination)
	if err != nil {
		return errors.Wrap(err, "hbos calibrate")
	}

	h.histograms = histograms
	h.calibration = calibration

	h.log.WithFields(logrus.Fields{
		"samples":   nSamples,
		"features":  nFeatures,
		"bins":      h.nBins,
		"threshold": calibration.Threshold,
	}).Debug("hbos fitted")

	return nil
}

// DecisionFunction scores data against the fitted histograms.
func (h *HBOS) DecisionFunction(data [][]float64) ([]float64, error) {
	if h.histograms == nil {
		return nil, detectors.ErrNotFitted
	}
	if err := detectors.CheckFeatures(data, len(h.histograms)); err != nil {
		return nil, errors.Wrap(err, "hbos decision function")
	}
	return h.decisionScores(data, h.histograms), nil
}

// decisionScores sums per-feature log densities and negates the sum.
func (h *HBOS) decisionScores(data [][]float64, histograms []Histogram) []float64 {
	scores := make([]float64, len(data))
	for f, hist := range histograms {
		binScores := hist.binScores(h.alpha)
		minScore := floats.Min(binScores)
		for i, row := range data {
			scores[i] += hist.score(row[f], binScores, minScore, h.tol)
		}
	}
	floats.Scale(-1, scores)
	return scores
}

// Predict labels data as detectors.Outlier or detectors.Inlier using a
// threshold ranked from this batch of scores.
func (h *HBOS) Predict(data [][]float64) ([]int, error) {
	scores, err := h.DecisionFunction(data)
	if err != nil {
		return nil, err
	}
	return detectors.PredictLabels(scores, h.contamination), nil
}

// Calibration returns the fit-time threshold, labels and score statistics.
func (h *HBOS) Calibration() (*detectors.Calibration, error) {
	if h.calibration == nil {
		return nil, detectors.ErrNotFitted
	}
	return h.calibration.Clone(), nil
}

// Histograms returns a copy of the fitted per-feature histograms.
func (h *HBOS) Histograms() []Histogram {
	if h.histograms == nil {
		return nil
	}
	out := make([]Histogram, len(h.histograms))
	for f, hist := range h.histograms {
		out[f] = Histogram{Edges: slices.Clone(hist.Edges), Density: slices.Clone(hist.Density)}
	}
	return out
}

// model is the gob encoding of a fitted HBOS.
type model struct {
	NBins         int
	Alpha         float64
	Tol           float64
	Contamination float64
	Histograms    []Histogram
	Calibration   detectors.Calibration
}

// Save serializes the trained model.
func (h *HBOS) Save() ([]byte, error) {
	if h.histograms == nil {
		return nil, detectors.ErrNotFitted
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(model{
		NBins:         h.nBins,
		Alpha:         h.alpha,
		Tol:           h.tol,
		Contamination: h.contamination,
		Histograms:    h.histograms,
		Calibration:   *h.calibration,
	})
	if err != nil {
		return nil, errors.Wrap(err, "hbos save")
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model, replacing the configuration and state.
func (h *HBOS) Load(data []byte) error {
	var m model
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return errors.Wrap(err, "hbos load")
	}

	loaded := &HBOS{
		nBins:         m.NBins,
		alpha:         m.Alpha,
		tol:           m.Tol,
		contamination: m.Contamination,
	}
	if err := loaded.validate(); err != nil {
		return errors.Wrap(err, "hbos load")
	}
	for f, hist := range m.Histograms {
		if len(hist.Edges) != m.NBins+1 || len(hist.Density) != m.NBins {
			return errors.Errorf("hbos load: feature %d has %d edges for %d bins", f, len(hist.Edges), m.NBins)
		}
	}

	h.nBins, h.alpha, h.tol, h.contamination = m.NBins, m.Alpha, m.Tol, m.Contamination
	h.histograms = m.Histograms
	h.calibration = &m.Calibration
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	return nil
}
