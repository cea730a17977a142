package detectors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFitted is returned when scoring is attempted before Fit.
	ErrNotFitted = errors.New("model not trained")

	// ErrEmptyData is returned for matrices without rows or columns.
	ErrEmptyData = errors.New("empty data")
)

// ConfigurationError reports a parameter outside its declared range or a
// configuration that cannot produce a valid model.
type ConfigurationError struct {
	Param string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Param == "" {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration: %s: %s", e.Param, e.Msg)
}

// ShapeError reports mismatched matrix dimensions.
type ShapeError struct {
	Op   string
	Want string
	Got  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: shape mismatch: want %s, got %s", e.Op, e.Want, e.Got)
}

// DegenerateFitError reports a histogram whose density does not integrate
// to one. The fit is aborted and no model is installed.
type DegenerateFitError struct {
	Feature int
	Sum     float64
}

func (e *DegenerateFitError) Error() string {
	return fmt.Sprintf("degenerate fit: feature %d density integrates to %g, want 1", e.Feature, e.Sum)
}

// ClusteringMismatchWarning is a non-fatal condition raised when the
// clustering capability realizes a different number of clusters than requested.
type ClusteringMismatchWarning struct {
	Requested int
	Realized  int
}

func (w ClusteringMismatchWarning) Error() string {
	return fmt.Sprintf("clustering formed %d clusters, inconsistent with n_clusters (%d)", w.Realized, w.Requested)
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsShapeError reports whether err wraps a *ShapeError.
func IsShapeError(err error) bool {
	var se *ShapeError
	return errors.As(err, &se)
}

// IsDegenerateFit reports whether err wraps a *DegenerateFitError.
func IsDegenerateFit(err error) bool {
	var de *DegenerateFitError
	return errors.As(err, &de)
}
