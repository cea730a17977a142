// Package cblof implements the Cluster-Based Local Outlier Factor (CBLOF)
// detector.
//
// CBLOF partitions the training data with a pluggable clustering capability
// and separates the resulting clusters into large and small ones. Samples in
// large clusters are scored by the distance to their own cluster center;
// samples in small clusters by the distance to the nearest large cluster
// center. Weighting scores by cluster size is available but disabled by
// default.
package cblof

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/taosad/pkg/cluster"
	"github.com/hed1ad/taosad/pkg/detectors"
)

// CBLOF scores samples by their distance to cluster centers.
//
// A fitted CBLOF only reads its state during scoring. Concurrent
// DecisionFunction and Predict calls are safe when the clusterer's Predict
// is. Fit must not run concurrently with any other method.
type CBLOF struct {
	// Configuration
	nClusters     int
	contamination float64
	alpha         float64
	beta          float64
	useWeights    bool
	seed          int64
	jobs          int
	clusterer     cluster.Clusterer
	log           logrus.FieldLogger

	// Trained model
	model       *partition
	calibration *detectors.Calibration
	warnings    []error
}

// partition is the fitted clustering of the training data.
type partition struct {
	clusterer    cluster.Clusterer
	nFeatures    int
	labels       []int
	sizes        []int
	centers      [][]float64
	split        Split
	large        []bool
	largeCenters [][]float64
}

// Option configures a CBLOF detector.
type Option func(*CBLOF)

// WithClusters sets the number of clusters requested from the clusterer.
func WithClusters(n int) Option {
	return func(c *CBLOF) {
		c.nClusters = n
	}
}

// WithContamination sets the expected proportion of outliers.
func WithContamination(v float64) Option {
	return func(c *CBLOF) {
		c.contamination = v
	}
}

// WithAlpha sets the fraction of samples the large clusters must cover.
func WithAlpha(a float64) Option {
	return func(c *CBLOF) {
		c.alpha = a
	}
}

// WithBeta sets the minimum size ratio between the last large cluster and
// the first small cluster.
func WithBeta(b float64) Option {
	return func(c *CBLOF) {
		c.beta = b
	}
}

// WithWeights multiplies every score by the size of the sample's cluster.
func WithWeights(on bool) Option {
	return func(c *CBLOF) {
		c.useWeights = on
	}
}

// WithClusterer replaces the default k-means clusterer.
func WithClusterer(cl cluster.Clusterer) Option {
	return func(c *CBLOF) {
		c.clusterer = cl
	}
}

// WithSeed sets the random seed of the default clusterer.
func WithSeed(seed int64) Option {
	return func(c *CBLOF) {
		c.seed = seed
	}
}

// WithJobs sets the parallelism degree of the default clusterer.
func WithJobs(n int) Option {
	return func(c *CBLOF) {
		c.jobs = n
	}
}

// WithLogger sets the logger that receives fit warnings.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *CBLOF) {
		c.log = l
	}
}

// New creates a CBLOF detector and validates its configuration.
func New(opts ...Option) (*CBLOF, error) {
	c := &CBLOF{
		nClusters:     8,
		contamination: 0.1,
		alpha:         0.9,
		beta:          5,
		seed:          42,
		jobs:          1,
		log:           logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CBLOF) validate() error {
	if err := detectors.CheckParameter("n_clusters", float64(c.nClusters), 2, detectors.PositiveInf, detectors.LeftClosed); err != nil {
		return err
	}
	if err := detectors.CheckParameter("alpha", c.alpha, 0, 1, detectors.Open); err != nil {
		return err
	}
	if err := detectors.CheckParameter("beta", c.beta, 1, detectors.PositiveInf, detectors.LeftClosed); err != nil {
		return err
	}
	if err := detectors.CheckParameter("n_jobs", float64(c.jobs), 1, detectors.PositiveInf, detectors.LeftClosed); err != nil {
		return err
	}
	return detectors.CheckContamination(c.contamination)
}

// Fit clusters data, splits the clusters into large and small ones and
// calibrates the training scores. On error the detector is left unfitted.
func (c *CBLOF) Fit(data [][]float64) error {
	c.model, c.calibration, c.warnings = nil, nil, nil

	nSamples, nFeatures, err := detectors.CheckMatrix(data)
	if err != nil {
		return errors.Wrap(err, "cblof fit")
	}

	clusterer := c.clusterer
	if clusterer == nil {
		clusterer = cluster.NewKMeans(c.nClusters,
			cluster.WithSeed(c.seed),
			cluster.WithWorkers(c.jobs),
		)
	}

	labels, err := clusterer.Fit(data)
	if err != nil {
		return errors.Wrap(err, "cblof clustering")
	}
	sizes, err := countLabels(labels, nSamples)
	if err != nil {
		return err
	}

	var warnings []error
	if len(sizes) != c.nClusters {
		w := detectors.ClusteringMismatchWarning{Requested: c.nClusters, Realized: len(sizes)}
		c.log.WithFields(logrus.Fields{
			"requested": w.Requested,
			"realized":  w.Realized,
		}).Warn(w.Error())
		warnings = append(warnings, w)
	}

	centers, err := c.clusterCenters(clusterer, data, labels, sizes, nFeatures)
	if err != nil {
		return err
	}

	split, err := SplitClusters(sizes, nSamples, c.alpha, c.beta)
	if err != nil {
		return err
	}

	p := &partition{
		clusterer: clusterer,
		nFeatures: nFeatures,
		labels:    labels,
		sizes:     sizes,
		centers:   centers,
		split:     split,
		large:     make([]bool, len(sizes)),
	}
	for _, l := range split.Large() {
		p.large[l] = true
		p.largeCenters = append(p.largeCenters, centers[l])
	}

	scores, err := p.score(data, labels, c.useWeights)
	if err != nil {
		return err
	}
	calibration, err := detectors.Calibrate(scores, c.contamination)
	if err != nil {
		return errors.Wrap(err, "cblof calibrate")
	}

	c.model = p
	c.calibration = calibration
	c.warnings = warnings

	c.log.WithFields(logrus.Fields{
		"samples":   nSamples,
		"clusters":  len(sizes),
		"large":     split.Index,
		"threshold": calibration.Threshold,
	}).Debug("cblof fitted")

	return nil
}

// clusterCenters takes the centers from the clusterer when it declares them
// and otherwise computes the feature-wise mean of each cluster's members.
func (c *CBLOF) clusterCenters(cl cluster.Clusterer, data [][]float64, labels, sizes []int, nFeatures int) ([][]float64, error) {
	if centers, ok := cl.Centers(); ok {
		if len(centers) < len(sizes) {
			return nil, &detectors.ShapeError{
				Op:   "cblof centers",
				Want: fmt.Sprintf("%d centers", len(sizes)),
				Got:  fmt.Sprintf("%d centers", len(centers)),
			}
		}
		for l, center := range centers {
			if len(center) != nFeatures {
				return nil, &detectors.ShapeError{
					Op:   "cblof centers",
					Want: fmt.Sprintf("%d features", nFeatures),
					Got:  fmt.Sprintf("%d features in center %d", len(center), l),
				}
			}
		}
		return centers, nil
	}

	c.log.Warn("clusterer does not provide cluster centers, computing them as the mean of each cluster")

	centers := make([][]float64, len(sizes))
	for l := range centers {
		centers[l] = make([]float64, nFeatures)
	}
	for i, row := range data {
		floats.Add(centers[labels[i]], row)
	}
	for l, center := range centers {
		if sizes[l] == 0 {
			for f := range center {
				center[f] = math.NaN()
			}
			continue
		}
		floats.Scale(1/float64(sizes[l]), center)
	}
	return centers, nil
}

// countLabels returns the number of members of every cluster label.
func countLabels(labels []int, nSamples int) ([]int, error) {
	if len(labels) != nSamples {
		return nil, &detectors.ShapeError{
			Op:   "cblof labels",
			Want: fmt.Sprintf("%d labels", nSamples),
			Got:  fmt.Sprintf("%d labels", len(labels)),
		}
	}

	var sizes []int
	for i, l := range labels {
		if l < 0 {
			return nil, errors.Errorf("cblof labels: sample %d has negative cluster label %d", i, l)
		}
		for l >= len(sizes) {
			sizes = append(sizes, 0)
		}
		sizes[l]++
	}
	return sizes, nil
}

// score computes the outlier score of every row given its cluster label.
func (p *partition) score(data [][]float64, labels []int, useWeights bool) ([]float64, error) {
	if len(labels) != len(data) {
		return nil, &detectors.ShapeError{
			Op:   "cblof score",
			Want: fmt.Sprintf("%d labels", len(data)),
			Got:  fmt.Sprintf("%d labels", len(labels)),
		}
	}

	scores := make([]float64, len(data))
	var (
		largeIdx     []int
		largeRows    [][]float64
		largeCenters [][]float64
	)
	for i, row := range data {
		l := labels[i]
		if l < 0 {
			return nil, errors.Errorf("cblof score: sample %d has negative cluster label %d", i, l)
		}
		// clusters without training members are treated as small
		if l < len(p.large) && p.large[l] {
			largeIdx = append(largeIdx, i)
			largeRows = append(largeRows, row)
			largeCenters = append(largeCenters, p.centers[l])
			continue
		}

		nearest := math.Inf(1)
		for _, center := range p.largeCenters {
			nearest = math.Min(nearest, floats.Distance(row, center, 2))
		}
		scores[i] = nearest
	}

	dist, err := detectors.RowwiseDistances(largeRows, largeCenters)
	if err != nil {
		return nil, err
	}
	for j, i := range largeIdx {
		scores[i] = dist[j]
	}

	if useWeights {
		for i, l := range labels {
			var size int
			if l < len(p.sizes) {
				size = p.sizes[l]
			}
			scores[i] *= float64(size)
		}
	}
	return scores, nil
}

// DecisionFunction assigns data to the fitted clusters and scores it.
func (c *CBLOF) DecisionFunction(data [][]float64) ([]float64, error) {
	if c.model == nil {
		return nil, detectors.ErrNotFitted
	}
	if err := detectors.CheckFeatures(data, c.model.nFeatures); err != nil {
		return nil, errors.Wrap(err, "cblof decision function")
	}

	labels, err := c.model.clusterer.Predict(data)
	if err != nil {
		return nil, errors.Wrap(err, "cblof cluster assignment")
	}
	return c.model.score(data, labels, c.useWeights)
}

// Predict labels data as detectors.Outlier or detectors.Inlier using a
// threshold ranked from this batch of scores.
func (c *CBLOF) Predict(data [][]float64) ([]int, error) {
	scores, err := c.DecisionFunction(data)
	if err != nil {
		return nil, err
	}
	return detectors.PredictLabels(scores, c.contamination), nil
}

// Calibration returns the fit-time threshold, labels and score statistics.
func (c *CBLOF) Calibration() (*detectors.Calibration, error) {
	if c.calibration == nil {
		return nil, detectors.ErrNotFitted
	}
	return c.calibration.Clone(), nil
}

// NClusters returns the number of clusters realized by the last fit.
func (c *CBLOF) NClusters() int {
	if c.model == nil {
		return 0
	}
	return len(c.model.sizes)
}

// ClusterLabels returns the cluster label of every training sample.
func (c *CBLOF) ClusterLabels() []int {
	if c.model == nil {
		return nil
	}
	return slices.Clone(c.model.labels)
}

// ClusterSizes returns the number of training samples in every cluster.
func (c *CBLOF) ClusterSizes() []int {
	if c.model == nil {
		return nil
	}
	return slices.Clone(c.model.sizes)
}

// ClusterCenters returns the center of every cluster.
func (c *CBLOF) ClusterCenters() [][]float64 {
	if c.model == nil {
		return nil
	}
	out := make([][]float64, len(c.model.centers))
	for k, center := range c.model.centers {
		out[k] = slices.Clone(center)
	}
	return out
}

// Split returns the large/small cluster separation of the last fit.
func (c *CBLOF) Split() Split {
	if c.model == nil {
		return Split{}
	}
	return c.model.split.clone()
}

// Warnings returns the non-fatal conditions raised by the last fit.
func (c *CBLOF) Warnings() []error {
	return slices.Clone(c.warnings)
}
