package main

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/hed1ad/taosad/pkg/config"
	"github.com/hed1ad/taosad/pkg/io/csv"
	"github.com/hed1ad/taosad/pkg/io/pcap"
	sqlreader "github.com/hed1ad/taosad/pkg/io/sql"
	"github.com/hed1ad/taosad/pkg/preprocess"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// inputOptions selects and prepares the feature matrix of a command.
type inputOptions struct {
	input       string
	noHeader    bool
	labelColumn string
	skipColumns []string

	pcap string

	driver     string
	dsn        string
	table      string
	columns    []string
	timeColumn string
	start      string
	end        string

	fill  bool
	scale bool

	configPath string
}

func (o *inputOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.input, "input", "", "Path to a CSV file")
	fs.BoolVar(&o.noHeader, "no-header", false, "The CSV file has no header row")
	fs.StringVar(&o.labelColumn, "label-column", "", "CSV column holding ground truth labels")
	fs.StringSliceVar(&o.skipColumns, "skip-columns", nil, "CSV columns that are not features")
	fs.StringVar(&o.pcap, "pcap", "", "Path to a packet capture file")
	fs.StringVar(&o.driver, "driver", "", "Database driver (sqlite, postgres)")
	fs.StringVar(&o.dsn, "dsn", "", "Database connection string")
	fs.StringVar(&o.table, "table", "", "Database table to read")
	fs.StringSliceVar(&o.columns, "columns", nil, "Database feature columns (default: all)")
	fs.StringVar(&o.timeColumn, "time-column", "", "Database time column bounding the window")
	fs.StringVar(&o.start, "start", "", "Window start (RFC3339)")
	fs.StringVar(&o.end, "end", "", "Window end (RFC3339)")
	fs.BoolVar(&o.fill, "fill", true, "Fill missing values forward then backward")
	fs.BoolVar(&o.scale, "scale", false, "Standardize features before fitting")
	fs.StringVar(&o.configPath, "config", "", "Path to a YAML detector config")
}

func (o *inputOptions) config() (*config.Config, error) {
	if o.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(o.configPath)
}

// load reads the matrix and, for labeled CSV input, its labels.
func (o *inputOptions) load() ([][]float64, []int, error) {
	var (
		data   [][]float64
		labels []int
		err    error
	)

	switch {
	case o.input != "":
		data, labels, err = o.loadCSV()
	case o.pcap != "":
		data, err = o.loadPCAP()
	case o.driver != "":
		data, err = o.loadSQL()
	default:
		return nil, nil, errors.New("one of --input, --pcap or --driver is required")
	}
	if err != nil {
		return nil, nil, err
	}
	if len(data) == 0 {
		return nil, nil, errors.New("input has no rows")
	}

	if o.fill {
		preprocess.Fill(data)
	}
	if o.scale {
		var s preprocess.StandardScaler
		if data, err = s.FitTransform(data); err != nil {
			return nil, nil, err
		}
	}

	log.WithFields(log.Fields{
		"rows":     len(data),
		"features": len(data[0]),
	}).Debug("input loaded")
	return data, labels, nil
}

func (o *inputOptions) loadCSV() ([][]float64, []int, error) {
	opts := []csv.Option{csv.WithHeader(!o.noHeader)}
	if o.labelColumn != "" {
		opts = append(opts, csv.WithLabelColumn(o.labelColumn))
	}
	if len(o.skipColumns) > 0 {
		opts = append(opts, csv.WithSkipColumns(o.skipColumns...))
	}

	r, err := csv.NewReader(o.input, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	data, err := r.Read()
	if err != nil {
		return nil, nil, err
	}
	if n := r.Skipped(); n > 0 {
		log.Warnf("skipped %d malformed rows in %s", n, o.input)
	}
	return data, r.Labels(), nil
}

func (o *inputOptions) loadPCAP() ([][]float64, error) {
	r, err := pcap.NewFileReader(o.pcap)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Read()
}

func (o *inputOptions) loadSQL() ([][]float64, error) {
	if o.table == "" {
		return nil, errors.New("--table is required with --driver")
	}

	opts := []sqlreader.Option{sqlreader.WithColumns(o.columns...)}
	if o.timeColumn != "" {
		start, err := parseTime(o.start)
		if err != nil {
			return nil, errors.Wrap(err, "invalid --start")
		}
		end, err := parseTime(o.end)
		if err != nil {
			return nil, errors.Wrap(err, "invalid --end")
		}
		opts = append(opts, sqlreader.WithTimeWindow(o.timeColumn, start, end))
	}

	r, err := sqlreader.Open(o.driver, o.dsn, o.table, opts...)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Read()
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
