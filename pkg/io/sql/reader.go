// Package sql reads feature matrices from database tables through
// database/sql. The sqlite and postgres drivers are registered by the
// command that opens the connection.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const identifierRegex = "^[A-Za-z_][A-Za-z0-9_]*$"

var identifier = regexp.MustCompile(identifierRegex)

// Reader selects numeric columns of one table, optionally bounded by a time
// column window. NULL values read as NaN.
type Reader struct {
	db      *sql.DB
	ownsDB  bool
	table   string
	columns []string

	timeColumn string
	start, end time.Time
	keepTime   bool
	dollar     bool
}

// Option configures a SQL reader.
type Option func(*Reader)

// WithColumns selects the feature columns. By default every column of the
// table except the time column is read.
func WithColumns(names ...string) Option {
	return func(r *Reader) {
		r.columns = append(r.columns, names...)
	}
}

// WithTimeWindow keeps rows whose column value lies in [start, end]. A zero
// start or end leaves that side open.
func WithTimeWindow(column string, start, end time.Time) Option {
	return func(r *Reader) {
		r.timeColumn = column
		r.start = start
		r.end = end
	}
}

// WithKeepTime keeps the time column as a feature. The column must then
// hold numeric values.
func WithKeepTime(keep bool) Option {
	return func(r *Reader) {
		r.keepTime = keep
	}
}

// WithDollarPlaceholders binds query arguments as $1, $2 instead of ?.
func WithDollarPlaceholders() Option {
	return func(r *Reader) {
		r.dollar = true
	}
}

// Open connects to the database and creates a reader for table. The reader
// closes the connection on Close.
func Open(driver, dsn, table string, opts ...Option) (*Reader, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database with driver: %s", driver)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to database with driver: %s", driver)
	}

	if driver == "postgres" || driver == "pgx" {
		opts = append([]Option{WithDollarPlaceholders()}, opts...)
	}
	r, err := NewReader(db, table, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	r.ownsDB = true
	return r, nil
}

// NewReader creates a reader for table on an existing connection.
func NewReader(db *sql.DB, table string, opts ...Option) (*Reader, error) {
	if db == nil {
		return nil, errors.New("database required")
	}

	r := &Reader{db: db, table: table}
	for _, opt := range opts {
		opt(r)
	}

	names := append([]string{r.table}, r.columns...)
	if r.timeColumn != "" {
		names = append(names, r.timeColumn)
	}
	for _, n := range names {
		if !identifier.MatchString(n) {
			return nil, errors.Errorf("invalid identifier: %q", n)
		}
	}

	if len(r.columns) == 0 {
		cols, err := r.tableColumns()
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			if c == r.timeColumn && !r.keepTime {
				continue
			}
			r.columns = append(r.columns, c)
		}
	} else if r.keepTime && r.timeColumn != "" && !contains(r.columns, r.timeColumn) {
		r.columns = append(r.columns, r.timeColumn)
	}

	if len(r.columns) == 0 {
		return nil, errors.Errorf("table %s has no feature columns", r.table)
	}
	return r, nil
}

func (r *Reader) tableColumns() ([]string, error) {
	rows, err := r.db.Query(fmt.Sprintf("SELECT * FROM %s LIMIT 0", r.table))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to inspect table: %s", r.table)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list columns of table: %s", r.table)
	}
	return cols, nil
}

// FeatureNames returns the selected columns in matrix order.
func (r *Reader) FeatureNames() []string {
	return r.columns
}

// query builds the select statement and its arguments.
func (r *Reader) query() (string, []any) {
	var (
		b     strings.Builder
		conds []string
		args  []any
	)
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(r.columns, ", "), r.table)

	if r.timeColumn != "" {
		if !r.start.IsZero() {
			args = append(args, r.start)
			conds = append(conds, fmt.Sprintf("%s >= %s", r.timeColumn, r.placeholder(len(args))))
		}
		if !r.end.IsZero() {
			args = append(args, r.end)
			conds = append(conds, fmt.Sprintf("%s <= %s", r.timeColumn, r.placeholder(len(args))))
		}
	}
	if len(conds) > 0 {
		fmt.Fprintf(&b, " WHERE %s", strings.Join(conds, " AND "))
	}
	if r.timeColumn != "" {
		fmt.Fprintf(&b, " ORDER BY %s", r.timeColumn)
	}
	return b.String(), args
}

func (r *Reader) placeholder(i int) string {
	if r.dollar {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// Read returns all selected rows.
func (r *Reader) Read() ([][]float64, error) {
	return r.ReadContext(context.Background())
}

// ReadContext returns all selected rows, aborting when ctx is done.
func (r *Reader) ReadContext(ctx context.Context) ([][]float64, error) {
	q, args := r.query()
	log.WithField("query", q).Debug("reading table")

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query table: %s", r.table)
	}
	defer rows.Close()

	var data [][]float64
	for rows.Next() {
		row, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read rows of table: %s", r.table)
	}
	return data, nil
}

// Stream returns a channel of rows for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	q, args := r.query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query table: %s", r.table)
	}

	out := make(chan []float64, 100)
	go func() {
		defer close(out)
		defer rows.Close()
		for rows.Next() {
			row, err := r.scan(rows)
			if err != nil {
				log.WithError(err).Debug("skipping unreadable row")
				continue
			}
			select {
			case out <- row:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *Reader) scan(rows *sql.Rows) ([]float64, error) {
	vals := make([]sql.NullFloat64, len(r.columns))
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, errors.Wrapf(err, "failed to scan row of table: %s", r.table)
	}

	row := make([]float64, len(vals))
	for i, v := range vals {
		if v.Valid {
			row[i] = v.Float64
		} else {
			row[i] = math.NaN()
		}
	}
	return row, nil
}

// Close closes the connection when the reader opened it.
func (r *Reader) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}

func contains(list []string, val string) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}
