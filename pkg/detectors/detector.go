// Package detectors provides the shared contract for unsupervised outlier
// scoring engines: fit, decision scores, calibrated threshold and labels.
package detectors

// Outlier and inlier values returned by Predict.
const (
	Outlier = -1
	Inlier  = 1
)

// Detector is the common interface for all outlier scoring engines.
type Detector interface {
	// Fit trains the detector on historical data and calibrates the
	// training scores. data is a 2D slice where each row is a sample and
	// each column is a feature.
	Fit(data [][]float64) error

	// DecisionFunction returns raw outlier scores for the given samples.
	// Higher values indicate more anomalous samples.
	DecisionFunction(data [][]float64) ([]float64, error)

	// Predict labels every sample as Outlier or Inlier using a threshold
	// ranked from this batch of scores.
	Predict(data [][]float64) ([]int, error)

	// Calibration returns the fit-time threshold, labels and score statistics.
	Calibration() (*Calibration, error)
}

// Persistable is implemented by detectors whose fitted state can be serialized.
type Persistable interface {
	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Score represents a single streamed scoring result.
type Score struct {
	// Value is the raw outlier score.
	Value float64
	// IsAnomaly indicates if the score exceeds the fit-time threshold.
	IsAnomaly bool
	// Features contains the original input features.
	Features []float64
	// Metadata contains additional information.
	Metadata map[string]any
}

// Config holds configuration shared by every detector.
type Config struct {
	// Contamination is the expected proportion of outliers in training data.
	Contamination float64
	// RandomSeed for reproducibility.
	RandomSeed int64
	// Jobs is the parallelism degree forwarded to pluggable capabilities.
	Jobs int
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.1,
		RandomSeed:    42,
		Jobs:          1,
	}
}

// Validate checks the shared configuration values.
func (c Config) Validate() error {
	if err := CheckContamination(c.Contamination); err != nil {
		return err
	}
	return CheckParameter("jobs", float64(c.Jobs), 1, PositiveInf, LeftClosed)
}
