// Package cluster defines the clustering capability consumed by cluster-based
// detectors and provides a default k-means implementation.
package cluster

// Clusterer partitions samples into clusters.
type Clusterer interface {
	// Fit partitions data and returns one non-negative cluster label per row.
	Fit(data [][]float64) ([]int, error)

	// Predict assigns each row of data to one of the fitted clusters.
	Predict(data [][]float64) ([]int, error)

	// Centers returns one center per cluster label. The bool reports whether
	// the clusterer provides centers at all; when false, callers compute
	// centers themselves.
	Centers() ([][]float64, bool)
}
