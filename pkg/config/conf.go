// Package config loads detector configuration from YAML and builds the
// selected detector.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/taosad/pkg/detectors"
	"github.com/hed1ad/taosad/pkg/detectors/cblof"
	"github.com/hed1ad/taosad/pkg/detectors/hbos"
	"github.com/hed1ad/taosad/pkg/detectors/iforest"
)

// Algorithm names accepted in Config.Algorithm.
const (
	AlgorithmHBOS    = "hbos"
	AlgorithmCBLOF   = "cblof"
	AlgorithmIForest = "iforest"
)

// Algorithms lists every supported algorithm.
var Algorithms = []string{AlgorithmHBOS, AlgorithmCBLOF, AlgorithmIForest}

// Config represents the detector configuration file.
type Config struct {
	Algorithm     string  `yaml:"algorithm"`
	Contamination float64 `yaml:"contamination"`
	RandomSeed    int64   `yaml:"random_seed"`
	Jobs          int     `yaml:"n_jobs"`

	HBOS    HBOSConfig    `yaml:"hbos"`
	CBLOF   CBLOFConfig   `yaml:"cblof"`
	IForest IForestConfig `yaml:"iforest"`
}

// HBOSConfig holds the histogram detector settings.
type HBOSConfig struct {
	Bins  int     `yaml:"n_bins"`
	Alpha float64 `yaml:"alpha"`
	Tol   float64 `yaml:"tol"`
}

// CBLOFConfig holds the cluster detector settings.
type CBLOFConfig struct {
	Clusters   int     `yaml:"n_clusters"`
	Alpha      float64 `yaml:"alpha"`
	Beta       float64 `yaml:"beta"`
	UseWeights bool    `yaml:"use_weights"`
}

// IForestConfig holds the isolation forest settings.
type IForestConfig struct {
	Trees      int `yaml:"n_trees"`
	SampleSize int `yaml:"sample_size"`
}

// Default returns the default configuration.
func Default() *Config {
	shared := detectors.DefaultConfig()
	return &Config{
		Algorithm:     AlgorithmHBOS,
		Contamination: shared.Contamination,
		RandomSeed:    shared.RandomSeed,
		Jobs:          shared.Jobs,
		HBOS: HBOSConfig{
			Bins:  10,
			Alpha: 0.1,
			Tol:   0.5,
		},
		CBLOF: CBLOFConfig{
			Clusters: 8,
			Alpha:    0.9,
			Beta:     5,
		},
		IForest: IForestConfig{
			Trees:      100,
			SampleSize: 256,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path required")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file: %s", path)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file: %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file: %s", path)
	}
	return c, nil
}

// Validate checks the shared settings and every algorithm section by
// constructing the detectors.
func (c *Config) Validate() error {
	shared := detectors.Config{
		Contamination: c.Contamination,
		RandomSeed:    c.RandomSeed,
		Jobs:          c.Jobs,
	}
	if err := shared.Validate(); err != nil {
		return err
	}
	if !isAlgorithm(c.Algorithm) {
		return errors.Errorf("unknown algorithm %q, want one of %s", c.Algorithm, strings.Join(Algorithms, ", "))
	}
	for _, a := range Algorithms {
		if _, err := c.NewDetectorFor(a, logrus.StandardLogger()); err != nil {
			return errors.Wrapf(err, "%s", a)
		}
	}
	return nil
}

// NewDetector builds the configured algorithm.
func (c *Config) NewDetector(logger logrus.FieldLogger) (detectors.Detector, error) {
	return c.NewDetectorFor(c.Algorithm, logger)
}

// NewDetectorFor builds the named algorithm from its section and the shared
// settings.
func (c *Config) NewDetectorFor(algorithm string, logger logrus.FieldLogger) (detectors.Detector, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	switch strings.ToLower(algorithm) {
	case AlgorithmHBOS:
		d, err := hbos.New(
			hbos.WithBins(c.HBOS.Bins),
			hbos.WithAlpha(c.HBOS.Alpha),
			hbos.WithTol(c.HBOS.Tol),
			hbos.WithContamination(c.Contamination),
			hbos.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return d, nil
	case AlgorithmCBLOF:
		d, err := cblof.New(
			cblof.WithClusters(c.CBLOF.Clusters),
			cblof.WithAlpha(c.CBLOF.Alpha),
			cblof.WithBeta(c.CBLOF.Beta),
			cblof.WithWeights(c.CBLOF.UseWeights),
			cblof.WithContamination(c.Contamination),
			cblof.WithSeed(c.RandomSeed),
			cblof.WithJobs(c.Jobs),
			cblof.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return d, nil
	case AlgorithmIForest:
		d, err := iforest.New(
			iforest.WithTrees(c.IForest.Trees),
			iforest.WithSampleSize(c.IForest.SampleSize),
			iforest.WithContamination(c.Contamination),
			iforest.WithSeed(c.RandomSeed),
			iforest.WithJobs(c.Jobs),
			iforest.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, errors.Errorf("unknown algorithm %q, want one of %s", algorithm, strings.Join(Algorithms, ", "))
	}
}

func isAlgorithm(name string) bool {
	for _, a := range Algorithms {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}
