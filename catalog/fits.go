package catalog

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/astrogo/fitsio"
	"go.uber.org/zap"
)

// LoadOptions controls how a FITS table is read.
type LoadOptions struct {
	// HDU is the index of the table HDU. Zero means the first extension,
	// since the primary HDU can only hold an image.
	HDU int
	// Name identifies the source in errors, logs and the resulting Table.
	Name      string
	Allocator memory.Allocator
	Logger    *zap.Logger
}

func (o LoadOptions) withDefaults() LoadOptions {
	if o.HDU == 0 {
		o.HDU = 1
	}
	if o.Allocator == nil {
		o.Allocator = Pool
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// LoadFile reads the table HDU of the FITS file at path.
func LoadFile(ctx context.Context, path string, opts LoadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if opts.Name == "" {
		opts.Name = path
	}
	return Load(ctx, f, opts)
}

// Load decodes a FITS stream and converts the selected binary or ASCII
// table HDU into a Table. Every row of the HDU ends up in one record.
func Load(ctx context.Context, r io.Reader, opts LoadOptions) (*Table, error) {
	start := time.Now()
	opts = opts.withDefaults()

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to decode FITS %q: %w", opts.Name, err)
	}
	defer f.Close()

	hdus := f.HDUs()
	if opts.HDU < 0 || opts.HDU >= len(hdus) {
		return nil, fmt.Errorf("%w: hdu %d, file %q has %d", ErrHDURange, opts.HDU, opts.Name, len(hdus))
	}
	tbl, ok := hdus[opts.HDU].(*fitsio.Table)
	if !ok {
		return nil, fmt.Errorf("%w: hdu %d of %q", ErrNotTable, opts.HDU, opts.Name)
	}

	rec, err := readRecord(ctx, tbl, opts)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	t := New(rec, opts.Name)
	t.hdu = opts.HDU
	t.extName = tbl.Name()

	loadLatency.Observe(time.Since(start).Seconds())
	rowsLoaded.Add(float64(rec.NumRows()))
	opts.Logger.Debug("Loaded FITS table",
		zap.String("source", opts.Name),
		zap.Int("hdu", opts.HDU),
		zap.String("extname", t.extName),
		zap.Int64("rows", rec.NumRows()),
		zap.Int64("columns", rec.NumCols()))
	return t, nil
}

// readRecord scans all rows of tbl into an Arrow record.
func readRecord(ctx context.Context, tbl *fitsio.Table, opts LoadOptions) (arrow.Record, error) {
	cols := tbl.Cols()
	fields := make([]arrow.Field, 0, len(cols))
	keep := make([]int, 0, len(cols))
	for i, col := range cols {
		dt, ok := arrowType(col.Type())
		if !ok {
			opts.Logger.Warn("Skipping unsupported FITS column",
				zap.String("column", col.Name),
				zap.String("format", col.Format))
			continue
		}
		fields = append(fields, arrow.Field{
			Name:     col.Name,
			Type:     dt,
			Nullable: true,
			Metadata: unitMetadata(col.Unit),
		})
		keep = append(keep, i)
	}

	builder := array.NewRecordBuilder(opts.Allocator, arrow.NewSchema(fields, nil))
	defer builder.Release()

	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to read rows of %q: %w", opts.Name, err)
	}
	defer rows.Close()

	// fitsio scans positionally, so every column needs a destination even
	// when it is not kept.
	dest := make([]interface{}, len(cols))
	for i := range cols {
		dest[i] = reflect.New(cols[i].Type()).Interface()
	}

	for n := int64(0); rows.Next(); n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan row %d of %q: %w", n, opts.Name, err)
		}
		for j, ci := range keep {
			appendValue(builder.Field(j), reflect.ValueOf(dest[ci]).Elem(), cols[ci].Null)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: failed to iterate rows of %q: %w", opts.Name, err)
	}
	return builder.NewRecord(), nil
}

// appendValue appends one scanned FITS cell. Integer cells equal to the
// column's TNULL value become Arrow nulls.
func appendValue(b array.Builder, v reflect.Value, null string) {
	switch b := b.(type) {
	case *array.BooleanBuilder:
		b.Append(v.Bool())
	case *array.Int8Builder:
		if isNullInt(v, null) {
			b.AppendNull()
			return
		}
		b.Append(int8(v.Int()))
	case *array.Int16Builder:
		if isNullInt(v, null) {
			b.AppendNull()
			return
		}
		b.Append(int16(v.Int()))
	case *array.Int32Builder:
		if isNullInt(v, null) {
			b.AppendNull()
			return
		}
		b.Append(int32(v.Int()))
	case *array.Int64Builder:
		if isNullInt(v, null) {
			b.AppendNull()
			return
		}
		b.Append(v.Int())
	case *array.Uint8Builder:
		if isNullUint(v, null) {
			b.AppendNull()
			return
		}
		b.Append(uint8(v.Uint()))
	case *array.Uint16Builder:
		if isNullUint(v, null) {
			b.AppendNull()
			return
		}
		b.Append(uint16(v.Uint()))
	case *array.Uint32Builder:
		if isNullUint(v, null) {
			b.AppendNull()
			return
		}
		b.Append(uint32(v.Uint()))
	case *array.Uint64Builder:
		if isNullUint(v, null) {
			b.AppendNull()
			return
		}
		b.Append(v.Uint())
	case *array.Float32Builder:
		b.Append(float32(v.Float()))
	case *array.Float64Builder:
		b.Append(v.Float())
	case *array.StringBuilder:
		b.Append(strings.TrimRight(v.String(), " \x00"))
	default:
		b.AppendNull()
	}
}

func isNullInt(v reflect.Value, null string) bool {
	return null != "" && strconv.FormatInt(v.Int(), 10) == strings.TrimSpace(null)
}

func isNullUint(v reflect.Value, null string) bool {
	return null != "" && strconv.FormatUint(v.Uint(), 10) == strings.TrimSpace(null)
}

// ---------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------

// fitsColumn describes how one Arrow column is written as a FITS column.
type fitsColumn struct {
	col   fitsio.Column
	value func(i int) interface{}
}

// WriteFITS writes t as an empty primary HDU followed by a binary table
// extension with the same columns and units. Null floats are written as
// NaN and null integers as the column's TNULL sentinel.
func WriteFITS(w io.Writer, t *Table) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("catalog: failed to create FITS writer: %w", err)
	}
	defer f.Close()

	phdu, err := fitsio.NewPrimaryHDU(nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to create primary HDU: %w", err)
	}
	if err := f.Write(phdu); err != nil {
		return fmt.Errorf("catalog: failed to write primary HDU: %w", err)
	}

	rec := t.Record()
	fcols := make([]fitsColumn, rec.NumCols())
	cols := make([]fitsio.Column, rec.NumCols())
	for i, field := range rec.Schema().Fields() {
		fc, err := toFITSColumn(field, rec.Column(i))
		if err != nil {
			return err
		}
		fcols[i] = fc
		cols[i] = fc.col
	}

	name := t.extName
	if name == "" {
		name = "CATALOG"
	}
	tbl, err := fitsio.NewTable(name, cols, fitsio.BINARY_TBL)
	if err != nil {
		return fmt.Errorf("catalog: failed to create FITS table: %w", err)
	}
	defer tbl.Close()

	vals := make([]interface{}, len(fcols))
	for row := 0; row < int(rec.NumRows()); row++ {
		for j, fc := range fcols {
			vals[j] = fc.value(row)
		}
		if err := tbl.Write(vals...); err != nil {
			return fmt.Errorf("catalog: failed to write FITS row %d: %w", row, err)
		}
	}

	if err := f.Write(tbl); err != nil {
		return fmt.Errorf("catalog: failed to write FITS table: %w", err)
	}
	return nil
}

func toFITSColumn(field arrow.Field, arr arrow.Array) (fitsColumn, error) {
	col := fitsio.Column{Name: field.Name, Unit: fieldUnit(field)}
	var value func(i int) interface{}

	switch a := arr.(type) {
	case *array.Boolean:
		col.Format = "L"
		value = func(i int) interface{} {
			v := a.IsValid(i) && a.Value(i)
			return &v
		}
	case *array.Uint8:
		col.Format = "B"
		value = func(i int) interface{} {
			v := a.Value(i)
			return &v
		}
	case *array.Int8:
		col.Format, col.Null = "I", strconv.Itoa(math.MinInt16)
		value = func(i int) interface{} {
			v := int16(math.MinInt16)
			if a.IsValid(i) {
				v = int16(a.Value(i))
			}
			return &v
		}
	case *array.Int16:
		col.Format, col.Null = "I", strconv.Itoa(math.MinInt16)
		value = func(i int) interface{} {
			v := int16(math.MinInt16)
			if a.IsValid(i) {
				v = a.Value(i)
			}
			return &v
		}
	case *array.Uint16:
		col.Format, col.Null = "J", strconv.Itoa(math.MinInt32)
		value = func(i int) interface{} {
			v := int32(math.MinInt32)
			if a.IsValid(i) {
				v = int32(a.Value(i))
			}
			return &v
		}
	case *array.Int32:
		col.Format, col.Null = "J", strconv.Itoa(math.MinInt32)
		value = func(i int) interface{} {
			v := int32(math.MinInt32)
			if a.IsValid(i) {
				v = a.Value(i)
			}
			return &v
		}
	case *array.Uint32:
		col.Format, col.Null = "K", strconv.FormatInt(math.MinInt64, 10)
		value = func(i int) interface{} {
			v := int64(math.MinInt64)
			if a.IsValid(i) {
				v = int64(a.Value(i))
			}
			return &v
		}
	case *array.Int64:
		col.Format, col.Null = "K", strconv.FormatInt(math.MinInt64, 10)
		value = func(i int) interface{} {
			v := int64(math.MinInt64)
			if a.IsValid(i) {
				v = a.Value(i)
			}
			return &v
		}
	case *array.Float32:
		col.Format = "E"
		value = func(i int) interface{} {
			v := float32(math.NaN())
			if a.IsValid(i) {
				v = a.Value(i)
			}
			return &v
		}
	case *array.Float64:
		col.Format = "D"
		value = func(i int) interface{} {
			v := math.NaN()
			if a.IsValid(i) {
				v = a.Value(i)
			}
			return &v
		}
	case *array.String:
		width := 1
		for i := 0; i < a.Len(); i++ {
			if n := len(a.Value(i)); n > width {
				width = n
			}
		}
		col.Format = strconv.Itoa(width) + "A"
		value = func(i int) interface{} {
			v := a.Value(i)
			return &v
		}
	default:
		return fitsColumn{}, fmt.Errorf("catalog: column %q has type %s with no FITS equivalent", field.Name, arr.DataType())
	}
	return fitsColumn{col: col, value: value}, nil
}
