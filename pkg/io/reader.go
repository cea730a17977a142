// Package io provides input/output utilities for data ingestion and for
// writing scoring results.
package io

import "context"

// Reader is the interface for reading feature matrices from various sources.
type Reader interface {
	// Read returns the complete dataset.
	Read() ([][]float64, error)

	// Stream returns a channel of samples for real-time processing.
	Stream(ctx context.Context) (<-chan []float64, error)

	// Close releases resources.
	Close() error
}

// FeatureExtractor extracts numerical features from raw data.
type FeatureExtractor interface {
	// Extract converts raw input to feature vector.
	Extract(data any) ([]float64, error)

	// FeatureNames returns the names of extracted features.
	FeatureNames() []string
}

// Writer is the interface for writing detection results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close flushes and releases resources.
	Close() error
}

// Result represents the outcome of scoring one sample.
type Result struct {
	Index int `json:"index"`
	// Score is the raw decision score; higher is more anomalous.
	Score float64 `json:"score"`
	// IsAnomaly reports whether Score exceeds the fit-time threshold.
	IsAnomaly bool `json:"is_anomaly"`
	// Label is the batch prediction: -1 for outliers, 1 for inliers.
	Label int `json:"label"`
	// Probability is the calibrated outlier probability in [0, 1].
	Probability float64        `json:"probability"`
	Features    []float64      `json:"features,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
