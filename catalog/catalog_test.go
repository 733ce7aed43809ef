package catalog_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/TFMV/starcat/catalog"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestRecord(pool memory.Allocator) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "source_id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "ra", Type: arrow.PrimitiveTypes.Float64, Nullable: true, Metadata: arrow.NewMetadata([]string{"unit"}, []string{"deg"})},
		{Name: "dec", Type: arrow.PrimitiveTypes.Float64, Nullable: true, Metadata: arrow.NewMetadata([]string{"unit"}, []string{"deg"})},
		{Name: "brightness", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
	}, nil)

	builder := array.NewRecordBuilder(pool, schema)
	defer builder.Release()

	builder.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2, 3, 4}, []bool{true, true, false, true})
	builder.Field(1).(*array.StringBuilder).AppendValues([]string{"Sirius", "Vega", "Deneb", "Rigel"}, nil)
	builder.Field(2).(*array.Float64Builder).AppendValues([]float64{101.287, 279.234, 310.358, 78.634}, nil)
	builder.Field(3).(*array.Float64Builder).AppendValues([]float64{-16.716, 38.784, 45.280, -8.202}, nil)
	builder.Field(4).(*array.Float32Builder).AppendValues([]float32{12.5, 9.0, 10.0, 11.25}, nil)

	return builder.NewRecord()
}

func writeFixture(t *testing.T) []byte {
	t.Helper()
	rec := createTestRecord(memory.DefaultAllocator)
	defer rec.Release()

	tbl := catalog.New(rec, "fixture")
	defer tbl.Release()

	var buf bytes.Buffer
	require.NoError(t, catalog.WriteFITS(&buf, tbl))
	return buf.Bytes()
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	tbl, err := catalog.Load(context.Background(), bytes.NewReader(writeFixture(t)), catalog.LoadOptions{Name: "fixture.fits"})
	require.NoError(t, err)
	defer tbl.Release()

	assert.Equal(t, int64(4), tbl.NumRows())
	assert.Equal(t, int64(5), tbl.Record().NumCols())
	assert.Equal(t, "fixture.fits", tbl.Source())
	hdu, name := tbl.HDU()
	assert.Equal(t, 1, hdu)
	assert.Equal(t, "CATALOG", name)

	names, err := tbl.Column("name")
	require.NoError(t, err)
	assert.Equal(t, "Vega", names.(*array.String).Value(1))

	ids, err := tbl.Column("source_id")
	require.NoError(t, err)
	assert.True(t, ids.IsNull(2), "TNULL sentinel should load as null")
	assert.Equal(t, int64(4), ids.(*array.Int64).Value(3))

	assert.Equal(t, "deg", tbl.Unit("ra"))
	assert.Equal(t, "", tbl.Unit("brightness"))

	bright, err := tbl.Float64Column(context.Background(), "brightness")
	require.NoError(t, err)
	defer bright.Release()
	assert.Equal(t, []float64{12.5, 9.0, 10.0, 11.25}, bright.Float64Values())
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stars.fits")
	require.NoError(t, os.WriteFile(path, writeFixture(t), 0o644))

	tbl, err := catalog.LoadFile(context.Background(), path, catalog.LoadOptions{})
	require.NoError(t, err)
	defer tbl.Release()

	assert.Equal(t, path, tbl.Source())
	assert.Equal(t, int64(4), tbl.NumRows())
}

// The primary HDU cannot hold a table, so HDU 0 names the first extension.
func TestLoadDefaultHDU(t *testing.T) {
	t.Parallel()

	data := writeFixture(t)
	for _, n := range []int{0, 1} {
		tbl, err := catalog.Load(context.Background(), bytes.NewReader(data), catalog.LoadOptions{HDU: n})
		require.NoError(t, err)
		hdu, name := tbl.HDU()
		assert.Equal(t, 1, hdu, "HDU %d", n)
		assert.Equal(t, "CATALOG", name)
		tbl.Release()
	}

	_, err := catalog.Load(context.Background(), bytes.NewReader(data), catalog.LoadOptions{HDU: -1})
	assert.ErrorIs(t, err, catalog.ErrHDURange)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		_, err := catalog.LoadFile(context.Background(), filepath.Join(t.TempDir(), "nope.fits"), catalog.LoadOptions{})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("hdu out of range", func(t *testing.T) {
		_, err := catalog.Load(context.Background(), bytes.NewReader(writeFixture(t)), catalog.LoadOptions{HDU: 5})
		assert.ErrorIs(t, err, catalog.ErrHDURange)
	})

	t.Run("image hdu", func(t *testing.T) {
		var buf bytes.Buffer
		f, err := fitsio.Create(&buf)
		require.NoError(t, err)
		phdu, err := fitsio.NewPrimaryHDU(nil)
		require.NoError(t, err)
		require.NoError(t, f.Write(phdu))
		img := fitsio.NewImage(-64, []int{2, 2})
		require.NoError(t, img.Write([]float64{1, 2, 3, 4}))
		require.NoError(t, f.Write(img))
		require.NoError(t, img.Close())
		require.NoError(t, f.Close())

		_, err = catalog.Load(context.Background(), &buf, catalog.LoadOptions{})
		assert.ErrorIs(t, err, catalog.ErrNotTable)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := catalog.Load(context.Background(), bytes.NewReader([]byte("not a fits file")), catalog.LoadOptions{})
		assert.Error(t, err)
	})
}

func TestTableColumns(t *testing.T) {
	t.Parallel()

	rec := createTestRecord(memory.DefaultAllocator)
	defer rec.Release()
	tbl := catalog.New(rec, "mem")
	defer tbl.Release()

	_, err := tbl.Column("magnitude")
	assert.ErrorIs(t, err, catalog.ErrColumnNotFound)
	assert.True(t, tbl.HasColumn("ra"))
	assert.False(t, tbl.HasColumn(""))

	sel, err := tbl.Select("dec", "ra")
	require.NoError(t, err)
	defer sel.Release()
	assert.Equal(t, "dec", sel.Schema().Field(0).Name)
	assert.Equal(t, "deg", sel.Unit("ra"))
	assert.Equal(t, int64(4), sel.NumRows())

	_, err = tbl.Select("ra", "magnitude")
	assert.ErrorIs(t, err, catalog.ErrColumnNotFound)
}
