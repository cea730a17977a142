package csv

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"

	taosio "github.com/hed1ad/taosad/pkg/io"
)

var resultHeader = []string{"index", "score", "is_anomaly", "label", "probability"}

// Writer writes scoring results as CSV rows.
type Writer struct {
	closer      io.Closer
	writer      *csv.Writer
	wroteHeader bool
}

var _ taosio.Writer = (*Writer)(nil)

// NewWriter creates a results writer on w. Close flushes w but does not
// close it.
func NewWriter(w io.Writer) *Writer {
	return &Writer{writer: csv.NewWriter(w)}
}

// NewFileWriter creates or truncates filename and writes results to it.
func NewFileWriter(filename string) (*Writer, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create csv file: %s", filename)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Write outputs a single result, preceded by the header on first use.
func (w *Writer) Write(result taosio.Result) error {
	if !w.wroteHeader {
		if err := w.writer.Write(resultHeader); err != nil {
			return errors.Wrap(err, "failed to write csv header")
		}
		w.wroteHeader = true
	}

	record := []string{
		strconv.Itoa(result.Index),
		strconv.FormatFloat(result.Score, 'g', -1, 64),
		strconv.FormatBool(result.IsAnomaly),
		strconv.Itoa(result.Label),
		strconv.FormatFloat(result.Probability, 'g', -1, 64),
	}
	if err := w.writer.Write(record); err != nil {
		return errors.Wrapf(err, "failed to write result %d", result.Index)
	}
	return nil
}

// WriteAll outputs multiple results.
func (w *Writer) WriteAll(results []taosio.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes buffered rows and closes the file, if any.
func (w *Writer) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return errors.Wrap(err, "failed to flush csv writer")
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
