package storage_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TFMV/starcat/catalog"
	"github.com/TFMV/starcat/storage"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestTable(t *testing.T) *catalog.Table {
	t.Helper()
	deg := arrow.NewMetadata([]string{catalog.UnitKey}, []string{"deg"})
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "ra", Type: arrow.PrimitiveTypes.Float64, Metadata: deg},
		{Name: "dec", Type: arrow.PrimitiveTypes.Float64, Metadata: deg},
		{Name: "brightness", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()
	builder.Field(0).(*array.Float64Builder).AppendValues([]float64{10.684, 83.822, 201.365}, nil)
	builder.Field(1).(*array.Float64Builder).AppendValues([]float64{41.269, -5.391, -43.019}, nil)
	builder.Field(2).(*array.Float64Builder).AppendValues([]float64{12.5, 8, 15.25}, nil)

	rec := builder.NewRecord()
	defer rec.Release()
	tbl := catalog.New(rec, "storage-test")
	t.Cleanup(tbl.Release)
	return tbl
}

func TestParseLocation(t *testing.T) {
	t.Parallel()

	loc, err := storage.ParseLocation("gs://sky-surveys/gaia/dr3.fits")
	require.NoError(t, err)
	assert.True(t, loc.IsRemote())
	assert.Equal(t, "sky-surveys", loc.Bucket)
	assert.Equal(t, "gaia/dr3.fits", loc.Object)
	assert.Equal(t, "gs://sky-surveys/gaia/dr3.fits", loc.String())

	loc, err = storage.ParseLocation("data/stars.fits")
	require.NoError(t, err)
	assert.False(t, loc.IsRemote())
	assert.Equal(t, "data/stars.fits", loc.String())

	for _, bad := range []string{"", "gs://", "gs://bucket", "gs:///object"} {
		_, err := storage.ParseLocation(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormats(t *testing.T) {
	t.Parallel()

	tests := map[string]storage.Format{
		"out.arrow":   storage.FormatArrow,
		"out.ipc":     storage.FormatArrow,
		"out.parquet": storage.FormatParquet,
		"out.CSV":     storage.FormatCSV,
		"out.fits":    storage.FormatFITS,
		"out.fit":     storage.FormatFITS,
	}
	for path, want := range tests {
		got, err := storage.FormatFromPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := storage.FormatFromPath("out")
	assert.Error(t, err)
	_, err = storage.ParseFormat("xlsx")
	assert.Error(t, err)
	_, err = storage.ParseCompression("rar")
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	tbl := createTestTable(t)
	path := filepath.Join(t.TempDir(), "stars.arrow")
	require.NoError(t, storage.SaveToDisk(tbl, path))

	loaded, err := storage.LoadFromDisk(path)
	require.NoError(t, err)
	defer loaded.Release()

	assert.True(t, array.RecordEqual(tbl.Record(), loaded.Record()))
	assert.Equal(t, "deg", loaded.Unit("ra"))
	assert.Equal(t, path, loaded.Source())

	_, err = storage.LoadFromDisk(filepath.Join(t.TempDir(), "missing.arrow"))
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	t.Parallel()

	tbl := createTestTable(t)
	ctx := context.Background()

	t.Run("arrow", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, storage.Export(ctx, tbl, storage.FormatArrow, &buf, storage.ExportOptions{}))
		got, err := storage.ReadSnapshot(&buf, "buffer")
		require.NoError(t, err)
		defer got.Release()
		assert.True(t, array.RecordEqual(tbl.Record(), got.Record()))
	})

	t.Run("parquet", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, storage.Export(ctx, tbl, storage.FormatParquet, &buf, storage.ExportOptions{Compression: "zstd"}))

		got, err := pqarrow.ReadTable(ctx, bytes.NewReader(buf.Bytes()), parquet.NewReaderProperties(memory.DefaultAllocator),
			pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
		require.NoError(t, err)
		defer got.Release()
		assert.Equal(t, tbl.NumRows(), got.NumRows())
		assert.Equal(t, int64(3), got.NumCols())
		assert.Equal(t, "brightness", got.Schema().Field(2).Name)
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, storage.Export(ctx, tbl, storage.FormatCSV, &buf, storage.ExportOptions{}))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, "ra,dec,brightness", lines[0])
		assert.True(t, strings.HasSuffix(lines[1], ",12.5"), lines[1])
	})

	t.Run("fits", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, storage.Export(ctx, tbl, storage.FormatFITS, &buf, storage.ExportOptions{}))
		got, err := catalog.Load(ctx, bytes.NewReader(buf.Bytes()), catalog.LoadOptions{})
		require.NoError(t, err)
		defer got.Release()
		assert.True(t, array.RecordEqual(tbl.Record(), got.Record()))
		assert.Equal(t, "deg", got.Unit("dec"))
	})

	t.Run("to local path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bright.fits")
		require.NoError(t, storage.ExportTo(ctx, tbl, path, "", storage.ExportOptions{}))

		r, err := storage.Open(ctx, path)
		require.NoError(t, err)
		defer r.Close()
		got, err := catalog.Load(ctx, r, catalog.LoadOptions{})
		require.NoError(t, err)
		defer got.Release()
		assert.Equal(t, tbl.NumRows(), got.NumRows())
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := storage.Export(cctx, tbl, storage.FormatCSV, &bytes.Buffer{}, storage.ExportOptions{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGCSOptions(t *testing.T) {
	t.Parallel()

	assert.Empty(t, storage.GCSOptions(""))
	assert.Len(t, storage.GCSOptions("http://localhost:4443/storage/v1/"), 2)
}
