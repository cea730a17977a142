// Package csv provides CSV file reading for tabular data and CSV output of
// scoring results.
package csv

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Reader reads a numeric matrix from a CSV file.
//
// A label column, when configured, is split off into Labels and the
// skipped columns are dropped. Empty cells and "NaN" parse as NaN so they
// can be filled upstream of the detectors.
type Reader struct {
	file        *os.File
	reader      *csv.Reader
	hasHeader   bool
	headers     []string
	labelColumn string
	skipColumns []string

	labelIdx int
	skip     map[int]bool
	labels   []int
	skipped  int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithLabelColumn names the ground truth column. It requires a header.
func WithLabelColumn(name string) Option {
	return func(r *Reader) {
		r.labelColumn = name
	}
}

// WithSkipColumns names columns that are not features, such as identifiers
// or timestamps. It requires a header.
func WithSkipColumns(names ...string) Option {
	return func(r *Reader) {
		r.skipColumns = append(r.skipColumns, names...)
	}
}

// NewReader creates a new CSV reader.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open csv file: %s", filename)
	}

	r, err := newReader(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.file = file
	return r, nil
}

func newReader(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		reader:    csv.NewReader(src),
		hasHeader: true,
		labelIdx:  -1,
		skip:      make(map[int]bool),
	}

	for _, opt := range opts {
		opt(r)
	}

	if !r.hasHeader {
		if r.labelColumn != "" || len(r.skipColumns) > 0 {
			return nil, errors.New("label and skip columns require a header row")
		}
		return r, nil
	}

	headers, err := r.reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv header")
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}
	r.headers = headers

	if r.labelColumn != "" {
		r.labelIdx = indexOf(headers, r.labelColumn)
		if r.labelIdx < 0 {
			return nil, errors.Errorf("label column not found: %s", r.labelColumn)
		}
	}
	for _, name := range r.skipColumns {
		i := indexOf(headers, name)
		if i < 0 {
			return nil, errors.Errorf("skip column not found: %s", name)
		}
		r.skip[i] = true
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// FeatureNames returns the headers of the feature columns.
func (r *Reader) FeatureNames() []string {
	var names []string
	for i, h := range r.headers {
		if i != r.labelIdx && !r.skip[i] {
			names = append(names, h)
		}
	}
	return names
}

// Labels returns the label column of the rows read so far.
func (r *Reader) Labels() []int {
	return r.labels
}

// Skipped returns the number of malformed rows dropped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Read returns all data as a 2D float slice.
func (r *Reader) Read() ([][]float64, error) {
	var data [][]float64

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read csv record")
		}

		row, label, err := r.parseRow(record)
		if err != nil {
			r.skipped++
			log.WithError(err).Debug("skipping malformed csv row")
			continue
		}
		data = append(data, row)
		if r.labelIdx >= 0 {
			r.labels = append(r.labels, label)
		}
	}

	return data, nil
}

// Stream returns a channel of rows for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	out := make(chan []float64, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				record, err := r.reader.Read()
				if err == io.EOF {
					return
				}
				if err != nil {
					continue
				}

				row, _, err := r.parseRow(record)
				if err != nil {
					r.skipped++
					continue
				}

				select {
				case out <- row:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// parseRow converts a record into features and, when configured, a label.
func (r *Reader) parseRow(record []string) ([]float64, int, error) {
	if len(record) == 0 {
		return nil, 0, errors.New("empty row")
	}

	var (
		row   = make([]float64, 0, len(record))
		label int
	)
	for i, val := range record {
		val = strings.TrimSpace(val)
		switch {
		case i == r.labelIdx:
			l, err := strconv.Atoi(val)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "invalid label in column %d", i)
			}
			label = l
		case r.skip[i]:
		case val == "":
			row = append(row, math.NaN())
		default:
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "invalid value in column %d", i)
			}
			row = append(row, f)
		}
	}
	return row, label, nil
}

func indexOf(list []string, val string) int {
	for i, item := range list {
		if item == val {
			return i
		}
	}
	return -1
}
