package cluster

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/taosad/pkg/detectors"
)

// KMeans partitions samples into k clusters around their means.
type KMeans struct {
	// Configuration
	k       int
	maxIter int
	nInit   int
	tol     float64
	workers int
	seed    int64

	// Trained model
	centers [][]float64
	inertia float64
}

// KMeansOption configures a KMeans.
type KMeansOption func(*KMeans)

// WithSeed sets the seed of the center initialization.
func WithSeed(seed int64) KMeansOption {
	return func(m *KMeans) {
		m.seed = seed
	}
}

// WithMaxIter sets the maximum number of Lloyd iterations per run.
func WithMaxIter(n int) KMeansOption {
	return func(m *KMeans) {
		m.maxIter = n
	}
}

// WithNInit sets how many seeded runs are performed; the run with the lowest
// inertia is kept.
func WithNInit(n int) KMeansOption {
	return func(m *KMeans) {
		m.nInit = n
	}
}

// WithTol sets the convergence tolerance relative to the mean feature variance.
func WithTol(tol float64) KMeansOption {
	return func(m *KMeans) {
		m.tol = tol
	}
}

// WithWorkers sets the number of goroutines used to assign samples.
func WithWorkers(n int) KMeansOption {
	return func(m *KMeans) {
		m.workers = n
	}
}

// NewKMeans creates a KMeans with k clusters.
func NewKMeans(k int, opts ...KMeansOption) *KMeans {
	m := &KMeans{
		k:       k,
		maxIter: 300,
		nInit:   10,
		tol:     1e-4,
		workers: 1,
		seed:    42,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Fit runs k-means and returns the cluster label of every row.
func (m *KMeans) Fit(data [][]float64) ([]int, error) {
	n, d, err := detectors.CheckMatrix(data)
	if err != nil {
		return nil, errors.Wrap(err, "kmeans fit")
	}
	if m.k < 1 {
		return nil, errors.Errorf("kmeans fit: k must be >= 1, got %d", m.k)
	}
	if n < m.k {
		return nil, errors.Errorf("kmeans fit: %d samples is less than k (%d)", n, m.k)
	}

	tol := m.tol * meanVariance(data, d)
	rng := rand.New(rand.NewSource(m.seed))

	var (
		bestCenters [][]float64
		bestLabels  []int
		bestInertia = math.Inf(1)
	)
	for run := 0; run < max(m.nInit, 1); run++ {
		centers := initCenters(data, m.k, rng)
		labels, inertia, err := m.lloyd(data, centers, tol)
		if err != nil {
			return nil, err
		}
		if inertia < bestInertia {
			bestCenters, bestLabels, bestInertia = centers, labels, inertia
		}
	}

	m.centers = bestCenters
	m.inertia = bestInertia
	return bestLabels, nil
}

// lloyd refines centers in place and returns the final assignment.
func (m *KMeans) lloyd(data [][]float64, centers [][]float64, tol float64) ([]int, float64, error) {
	d := len(data[0])
	for it := 0; it < m.maxIter; it++ {
		labels, _, err := m.assign(data, centers)
		if err != nil {
			return nil, 0, err
		}

		sums := make([][]float64, m.k)
		counts := make([]int, m.k)
		for c := range sums {
			sums[c] = make([]float64, d)
		}
		for i, row := range data {
			floats.Add(sums[labels[i]], row)
			counts[labels[i]]++
		}

		var shift float64
		for c := range centers {
			if counts[c] == 0 {
				continue // empty cluster keeps its center
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			shift += sqDist(centers[c], sums[c])
			centers[c] = sums[c]
		}

		if shift <= tol {
			break
		}
	}

	return m.assign(data, centers)
}

// assign labels every row with its nearest center.
func (m *KMeans) assign(data [][]float64, centers [][]float64) ([]int, float64, error) {
	n := len(data)
	labels := make([]int, n)

	workers := max(m.workers, 1)
	chunk := (n + workers - 1) / workers
	partial := make([]float64, workers)

	var g errgroup.Group
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		start, end := w*chunk, min((w+1)*chunk, n)
		if start >= end {
			continue
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				best, bestDist := 0, math.Inf(1)
				for c, center := range centers {
					if dist := sqDist(data[i], center); dist < bestDist {
						best, bestDist = c, dist
					}
				}
				labels[i] = best
				partial[w] += bestDist
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	return labels, floats.Sum(partial), nil
}

// Predict assigns each row to its nearest fitted center.
func (m *KMeans) Predict(data [][]float64) ([]int, error) {
	if m.centers == nil {
		return nil, detectors.ErrNotFitted
	}
	if err := detectors.CheckFeatures(data, len(m.centers[0])); err != nil {
		return nil, errors.Wrap(err, "kmeans predict")
	}

	labels, _, err := m.assign(data, m.centers)
	return labels, err
}

// Centers returns a copy of the fitted cluster centers.
func (m *KMeans) Centers() ([][]float64, bool) {
	if m.centers == nil {
		return nil, true
	}
	out := make([][]float64, len(m.centers))
	for c, center := range m.centers {
		out[c] = append([]float64(nil), center...)
	}
	return out, true
}

// Inertia returns the sum of squared distances of samples to their centers.
func (m *KMeans) Inertia() float64 {
	return m.inertia
}

// initCenters picks k starting centers with k-means++ seeding.
func initCenters(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(data)
	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), data[rng.Intn(n)]...))

	dist := make([]float64, n)
	for i, row := range data {
		dist[i] = sqDist(row, centers[0])
	}

	for len(centers) < k {
		total := floats.Sum(dist)
		next := rng.Intn(n)
		if total > 0 {
			next = floats.MaxIdx(dist)
			r := rng.Float64() * total
			var cumulative float64
			for i, d := range dist {
				cumulative += d
				if cumulative >= r && d > 0 {
					next = i
					break
				}
			}
		}

		center := append([]float64(nil), data[next]...)
		centers = append(centers, center)
		for i, row := range data {
			if d := sqDist(row, center); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centers
}

// meanVariance returns the mean of the per-feature population variances.
func meanVariance(data [][]float64, d int) float64 {
	column := make([]float64, len(data))
	var sum float64
	for f := 0; f < d; f++ {
		for i, row := range data {
			column[i] = row[f]
		}
		_, std := stat.PopMeanStdDev(column, nil)
		sum += std * std
	}
	return sum / float64(d)
}

// sqDist returns the squared Euclidean distance between a and b.
func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}
