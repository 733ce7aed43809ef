package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/TFMV/starcat/catalog"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"google.golang.org/api/option"
)

// Format is an export file format.
type Format string

const (
	FormatArrow   Format = "arrow"
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatFITS    Format = "fits"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatArrow, FormatParquet, FormatCSV, FormatFITS:
		return f, nil
	case "ipc", "feather":
		return FormatArrow, nil
	case "fit":
		return FormatFITS, nil
	default:
		return "", fmt.Errorf("storage: unknown export format %q", s)
	}
}

// FormatFromPath infers the format from the file extension of path.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("storage: cannot infer export format of %q", path)
	}
	return ParseFormat(ext)
}

// ExportOptions tunes format-specific writers.
type ExportOptions struct {
	// Compression is the parquet codec name, snappy when empty.
	Compression string
}

// ParseCompression maps a codec name onto a parquet compression codec.
func ParseCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("storage: unknown compression %q", name)
	}
}

// Export writes t to w in format.
func Export(ctx context.Context, t *catalog.Table, format Format, w io.Writer, opts ExportOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch format {
	case FormatArrow:
		return writeIPC(t, w)
	case FormatParquet:
		return writeParquet(t, w, opts)
	case FormatCSV:
		return writeCSV(t, w)
	case FormatFITS:
		return catalog.WriteFITS(w, t)
	default:
		return fmt.Errorf("storage: unknown export format %q", format)
	}
}

// ExportTo creates uri and writes t into it, inferring the format from
// the extension when format is empty.
func ExportTo(ctx context.Context, t *catalog.Table, uri string, format Format, opts ExportOptions, copts ...option.ClientOption) (err error) {
	if format == "" {
		if format, err = FormatFromPath(uri); err != nil {
			return err
		}
	}
	w, err := Create(ctx, uri, copts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close %q: %w", uri, cerr)
		}
	}()
	return Export(ctx, t, format, w, opts)
}

func writeIPC(t *catalog.Table, w io.Writer) error {
	writer, err := ipc.NewFileWriter(w, ipc.WithSchema(t.Schema()), ipc.WithAllocator(catalog.Pool))
	if err != nil {
		return fmt.Errorf("failed to create Arrow file writer: %w", err)
	}
	if err := writer.Write(t.Record()); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write record to Arrow file: %w", err)
	}
	return writer.Close()
}

func writeParquet(t *catalog.Table, w io.Writer, opts ExportOptions) error {
	codec, err := ParseCompression(opts.Compression)
	if err != nil {
		return err
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithAllocator(catalog.Pool),
	)
	fw, err := pqarrow.NewFileWriter(t.Schema(), w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := fw.Write(t.Record()); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to write parquet row group: %w", err)
	}
	return fw.Close()
}

func writeCSV(t *catalog.Table, w io.Writer) error {
	writer := csv.NewWriter(w, t.Schema(), csv.WithHeader(true), csv.WithNullWriter(""))
	if err := writer.Write(t.Record()); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	writer.Flush()
	return writer.Error()
}
