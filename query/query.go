// Package query selects catalog rows by brightness, position and identifier.
package query

import (
	"context"
	"errors"
	"fmt"

	roaring "github.com/RoaringBitmap/roaring"
	"github.com/TFMV/starcat/catalog"
	"github.com/TFMV/starcat/coords"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/scalar"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrInvalidQuery is returned for queries that cannot be planned.
var ErrInvalidQuery = errors.New("query: invalid query")

var (
	queryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "starcat_query_latency_seconds",
		Help: "Catalog query latency distribution",
	})
	rowsSelected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "starcat_rows_selected_total",
		Help: "Total number of catalog rows returned by queries",
	})
)

func init() {
	prometheus.MustRegister(queryLatency, rowsSelected)
}

// Query is a conjunction of row predicates plus a projection.
type Query struct {
	// Columns to return, all when empty.
	Columns []string `json:"columns,omitempty"`
	// MinBrightness keeps rows whose brightness is strictly greater.
	MinBrightness *float64 `json:"min_brightness,omitempty"`
	// Cone keeps rows within a radius of a position.
	Cone *Cone `json:"cone,omitempty"`
	// IDs keeps rows whose identifier column matches one of the values.
	IDs []string `json:"ids,omitempty"`
	// Limit caps the number of rows returned, unlimited when zero.
	Limit int `json:"limit,omitempty"`
}

// Cone is a circular region on the sky, in ICRS degrees.
type Cone struct {
	RA     float64 `json:"ra"`
	Dec    float64 `json:"dec"`
	Radius float64 `json:"radius"`
}

// Validate checks the query for values no planner can use.
func (q *Query) Validate() error {
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidQuery, q.Limit)
	}
	if q.Cone != nil {
		if q.Cone.Radius < 0 || q.Cone.Radius > 180 {
			return fmt.Errorf("%w: cone radius %g outside [0, 180]", ErrInvalidQuery, q.Cone.Radius)
		}
		if q.Cone.Dec < -90 || q.Cone.Dec > 90 {
			return fmt.Errorf("%w: cone declination %g outside [-90, 90]", ErrInvalidQuery, q.Cone.Dec)
		}
	}
	return nil
}

// FilterByBrightness returns the rows of t whose column value is strictly
// greater than threshold. Nulls and NaN never pass. Column order and units are
// preserved; the caller must release the result.
func FilterByBrightness(ctx context.Context, t *catalog.Table, column string, threshold float64) (*catalog.Table, error) {
	mask, err := GreaterMask(ctx, t, column, threshold)
	if err != nil {
		return nil, err
	}
	defer mask.Release()
	return filterTable(ctx, t, mask)
}

// GreaterMask evaluates column > threshold over t with Arrow compute. Null
// inputs yield null mask slots.
func GreaterMask(ctx context.Context, t *catalog.Table, column string, threshold float64) (*array.Boolean, error) {
	vals, err := t.Float64Column(ctx, column)
	if err != nil {
		return nil, err
	}
	defer vals.Release()

	lhs := compute.NewDatum(vals)
	defer lhs.Release()
	rhs := compute.NewDatum(scalar.NewFloat64Scalar(threshold))
	defer rhs.Release()

	out, err := compute.CallFunction(ctx, "greater", nil, lhs, rhs)
	if err != nil {
		return nil, fmt.Errorf("query: compare %q > %g: %w", column, threshold, err)
	}
	defer out.Release()
	return out.(*compute.ArrayDatum).MakeArray().(*array.Boolean), nil
}

// filterTable keeps the rows of t where mask is true.
func filterTable(ctx context.Context, t *catalog.Table, mask arrow.Array) (*catalog.Table, error) {
	rec, err := compute.FilterRecordBatch(ctx, t.Record(), mask, compute.DefaultFilterOptions())
	if err != nil {
		return nil, fmt.Errorf("query: filter: %w", err)
	}
	defer rec.Release()
	return t.Derive(rec), nil
}

// coneBitmap returns the rows of t within the cone.
func coneBitmap(ctx context.Context, t *catalog.Table, cols catalog.Columns, c *Cone) (*roaring.Bitmap, error) {
	positions, err := coords.FromTable(ctx, t, cols.RA, cols.Dec)
	if err != nil {
		return nil, err
	}
	center := coords.NewICRS(c.RA, c.Dec)
	bm := roaring.New()
	for i, p := range positions {
		if coords.Separation(center, p).Deg() <= c.Radius {
			bm.Add(uint32(i))
		}
	}
	return bm, nil
}

// maskBitmap converts a boolean mask into the set of true rows.
func maskBitmap(mask *array.Boolean) *roaring.Bitmap {
	bm := roaring.New()
	for i := 0; i < mask.Len(); i++ {
		if mask.IsValid(i) && mask.Value(i) {
			bm.Add(uint32(i))
		}
	}
	return bm
}

// bitmapMask converts a row set into a boolean mask of length n.
func bitmapMask(bm *roaring.Bitmap, n int) arrow.Array {
	vals := make([]bool, n)
	it := bm.Iterator()
	for it.HasNext() {
		vals[it.Next()] = true
	}
	b := array.NewBooleanBuilder(catalog.Pool)
	defer b.Release()
	b.AppendValues(vals, nil)
	return b.NewArray()
}
