// Package catalog loads FITS binary tables into in-memory Apache Arrow records.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrNotTable is returned when the requested HDU holds an image.
	ErrNotTable = errors.New("catalog: HDU is not a table")
	// ErrHDURange is returned when the requested HDU does not exist.
	ErrHDURange = errors.New("catalog: HDU index out of range")
	// ErrColumnNotFound is returned when a named column is absent.
	ErrColumnNotFound = errors.New("catalog: column not found")
)

// ---------------------------------------------------------------------
// Prometheus Metrics
// ---------------------------------------------------------------------

var (
	loadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "starcat_load_latency_seconds",
		Help: "FITS table load latency distribution",
	})
	rowsLoaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "starcat_rows_loaded_total",
		Help: "Total number of catalog rows loaded from FITS tables",
	})
)

func init() {
	prometheus.MustRegister(loadLatency, rowsLoaded)
}

// ---------------------------------------------------------------------
// Table
// ---------------------------------------------------------------------

// Table is a star catalog held as a single Arrow record.
type Table struct {
	rec     arrow.Record
	source  string
	hdu     int
	extName string
}

// New wraps rec as a Table. The table retains rec; callers keep their own
// reference and release it independently.
func New(rec arrow.Record, source string) *Table {
	rec.Retain()
	return &Table{rec: rec, source: source}
}

// Derive wraps rec as a Table carrying the provenance of t.
func (t *Table) Derive(rec arrow.Record) *Table {
	rec.Retain()
	return &Table{rec: rec, source: t.source, hdu: t.hdu, extName: t.extName}
}

// Record returns the underlying record without retaining it.
func (t *Table) Record() arrow.Record { return t.rec }

// Schema returns the table schema.
func (t *Table) Schema() *arrow.Schema { return t.rec.Schema() }

// NumRows returns the number of catalog rows.
func (t *Table) NumRows() int64 { return t.rec.NumRows() }

// Source is the path or URI the table was loaded from.
func (t *Table) Source() string { return t.source }

// HDU returns the index and EXTNAME of the HDU the table was read from.
func (t *Table) HDU() (int, string) { return t.hdu, t.extName }

// Column returns the named column without retaining it.
func (t *Table) Column(name string) (arrow.Array, error) {
	idx := t.rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	return t.rec.Column(idx[0]), nil
}

// HasColumn reports whether the table has a column called name.
func (t *Table) HasColumn(name string) bool {
	return name != "" && t.rec.Schema().HasField(name)
}

// Unit returns the FITS unit string of the named column, or "" when the
// column has none or does not exist.
func (t *Table) Unit(name string) string {
	idx := t.rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return ""
	}
	return fieldUnit(t.rec.Schema().Field(idx[0]))
}

// Float64Column returns the named numeric column cast to float64. The
// caller must release the result.
func (t *Table) Float64Column(ctx context.Context, name string) (*array.Float64, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if f, ok := col.(*array.Float64); ok {
		f.Retain()
		return f, nil
	}
	out, err := compute.CastToType(ctx, col, arrow.PrimitiveTypes.Float64)
	if err != nil {
		return nil, fmt.Errorf("catalog: cast column %q to float64: %w", name, err)
	}
	return out.(*array.Float64), nil
}

// Select returns a table holding only the named columns, in order.
func (t *Table) Select(names ...string) (*Table, error) {
	fields := make([]arrow.Field, 0, len(names))
	cols := make([]arrow.Array, 0, len(names))
	for _, name := range names {
		idx := t.rec.Schema().FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
		}
		fields = append(fields, t.rec.Schema().Field(idx[0]))
		cols = append(cols, t.rec.Column(idx[0]))
	}
	rec := array.NewRecord(arrow.NewSchema(fields, nil), cols, t.rec.NumRows())
	defer rec.Release()
	return t.Derive(rec), nil
}

// Release drops the table's reference to its record.
func (t *Table) Release() {
	if t.rec != nil {
		t.rec.Release()
		t.rec = nil
	}
}
