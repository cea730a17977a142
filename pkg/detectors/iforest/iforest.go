// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/taosad/pkg/detectors"
)

// eulerGamma is the Euler-Mascheroni constant.
const eulerGamma = 0.5772156649

// IsolationForest implements unsupervised anomaly detection using isolation trees.
//
// Like the other detectors it adds no locking: scoring only reads fitted
// state, and Fit must not run concurrently with any other method.
type IsolationForest struct {
	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	seed          int64
	jobs          int
	log           logrus.FieldLogger

	// Trained model
	forest      *forest
	calibration *detectors.Calibration
}

// forest is the fitted ensemble.
type forest struct {
	Trees         []*Node
	NFeatures     int
	AvgPathLength float64
}

// Node is a node of an isolation tree. Leaves have no children.
type Node struct {
	Feature int
	Value   float64
	Left    *Node
	Right   *Node
	// Size is the number of training samples that reached a leaf.
	Size int
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// WithJobs sets how many trees are built concurrently.
func WithJobs(n int) Option {
	return func(f *IsolationForest) {
		f.jobs = n
	}
}

// WithLogger sets the logger used during fitting.
func WithLogger(l logrus.FieldLogger) Option {
	return func(f *IsolationForest) {
		f.log = l
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) (*IsolationForest, error) {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: 0.1,
		seed:          42,
		jobs:          1,
		log:           logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *IsolationForest) validate() error {
	if err := detectors.CheckParameter("n_trees", float64(f.nTrees), 1, detectors.PositiveInf, detectors.LeftClosed); err != nil {
		return err
	}
	if err := detectors.CheckParameter("sample_size", float64(f.sampleSize), 2, detectors.PositiveInf, detectors.LeftClosed); err != nil {
		return err
	}
	if err := detectors.CheckParameter("n_jobs", float64(f.jobs), 1, detectors.PositiveInf, detectors.LeftClosed); err != nil {
		return err
	}
	return detectors.CheckContamination(f.contamination)
}

// Fit trains the Isolation Forest on the provided data and calibrates the
// training scores. On error the detector is left unfitted.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.forest, f.calibration = nil, nil

	nSamples, nFeatures, err := detectors.CheckMatrix(data)
	if err != nil {
		return errors.Wrap(err, "iforest fit")
	}

	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	// every tree draws from its own source so the result does not depend
	// on how trees are scheduled across workers
	rng := rand.New(rand.NewSource(f.seed))
	seeds := make([]int64, f.nTrees)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	trees := make([]*Node, f.nTrees)
	var g errgroup.Group
	g.SetLimit(f.jobs)
	for i := range trees {
		g.Go(func() error {
			r := rand.New(rand.NewSource(seeds[i]))
			indices := r.Perm(nSamples)[:sampleSize]
			sample := make([][]float64, sampleSize)
			for j, idx := range indices {
				sample[j] = data[idx]
			}
			trees[i] = buildNode(r, sample, nFeatures, 0, maxDepth)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fst := &forest{
		Trees:         trees,
		NFeatures:     nFeatures,
		AvgPathLength: averagePathLength(float64(sampleSize)),
	}
	calibration, err := detectors.Calibrate(fst.scores(data), f.contamination)
	if err != nil {
		return errors.Wrap(err, "iforest calibrate")
	}

	f.forest = fst
	f.calibration = calibration

	f.log.WithFields(logrus.Fields{
		"samples":     nSamples,
		"trees":       f.nTrees,
		"sample_size": sampleSize,
		"threshold":   calibration.Threshold,
	}).Debug("iforest fitted")

	return nil
}

func buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth, maxDepth int) *Node {
	n := len(data)
	if depth >= maxDepth || n <= 1 {
		return &Node{Size: n}
	}

	feature := rng.Intn(nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		minVal = math.Min(minVal, row[feature])
		maxVal = math.Max(maxVal, row[feature])
	}
	if minVal == maxVal {
		return &Node{Size: n}
	}

	split := minVal + rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &Node{
		Feature: feature,
		Value:   split,
		Left:    buildNode(rng, left, nFeatures, depth+1, maxDepth),
		Right:   buildNode(rng, right, nFeatures, depth+1, maxDepth),
	}
}

// DecisionFunction returns the anomaly score 2^(-E[h(x)]/c(n)) of every
// sample. Scores lie in (0, 1]; higher is more anomalous.
func (f *IsolationForest) DecisionFunction(data [][]float64) ([]float64, error) {
	if f.forest == nil {
		return nil, detectors.ErrNotFitted
	}
	if err := detectors.CheckFeatures(data, f.forest.NFeatures); err != nil {
		return nil, errors.Wrap(err, "iforest decision function")
	}
	return f.forest.scores(data), nil
}

func (fst *forest) scores(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		var total float64
		for _, tree := range fst.Trees {
			total += pathLength(sample, tree, 0)
		}
		avg := total / float64(len(fst.Trees))
		if fst.AvgPathLength == 0 {
			scores[i] = 1
			continue
		}
		scores[i] = math.Pow(2, -avg/fst.AvgPathLength)
	}
	return scores
}

// Predict labels data as detectors.Outlier or detectors.Inlier using a
// threshold ranked from this batch of scores.
func (f *IsolationForest) Predict(data [][]float64) ([]int, error) {
	scores, err := f.DecisionFunction(data)
	if err != nil {
		return nil, err
	}
	return detectors.PredictLabels(scores, f.contamination), nil
}

// Calibration returns the fit-time threshold, labels and score statistics.
func (f *IsolationForest) Calibration() (*detectors.Calibration, error) {
	if f.calibration == nil {
		return nil, detectors.ErrNotFitted
	}
	return f.calibration.Clone(), nil
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *Node, depth int) float64 {
	// gob drops children that are empty leaves
	if n == nil {
		return float64(depth)
	}
	if n.Left == nil && n.Right == nil {
		return float64(depth) + averagePathLength(float64(n.Size))
	}
	if sample[n.Feature] < n.Value {
		return pathLength(sample, n.Left, depth+1)
	}
	return pathLength(sample, n.Right, depth+1)
}

// averagePathLength returns c(n), the average path length of an
// unsuccessful search in a binary search tree of n nodes.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

// model is the gob encoding of a fitted forest.
type model struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	Seed          int64
	Forest        forest
	Calibration   detectors.Calibration
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	if f.forest == nil {
		return nil, detectors.ErrNotFitted
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(model{
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		Seed:          f.seed,
		Forest:        *f.forest,
		Calibration:   *f.calibration,
	})
	if err != nil {
		return nil, errors.Wrap(err, "iforest save")
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model, replacing the configuration and state.
func (f *IsolationForest) Load(data []byte) error {
	var m model
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return errors.Wrap(err, "iforest load")
	}
	if len(m.Forest.Trees) == 0 {
		return errors.New("iforest load: model has no trees")
	}
	if err := detectors.CheckContamination(m.Contamination); err != nil {
		return errors.Wrap(err, "iforest load")
	}

	f.nTrees, f.sampleSize, f.contamination, f.seed = m.NTrees, m.SampleSize, m.Contamination, m.Seed
	f.forest = &m.Forest
	f.calibration = &m.Calibration
	if f.jobs == 0 {
		f.jobs = 1
	}
	if f.log == nil {
		f.log = logrus.StandardLogger()
	}
	return nil
}
