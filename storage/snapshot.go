package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/TFMV/starcat/catalog"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// SaveToDisk writes t to path in the Arrow IPC file format.
func SaveToDisk(t *catalog.Table, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", path, err)
	}
	if err := writeIPC(t, file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// LoadFromDisk reads an Arrow IPC file written by SaveToDisk.
func LoadFromDisk(path string) (*catalog.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()
	return ReadSnapshot(file, path)
}

// ReadSnapshot reads an Arrow IPC file from r. Readers without random
// access are buffered in memory first.
func ReadSnapshot(r io.Reader, source string) (*catalog.Table, error) {
	ras, ok := r.(ipc.ReadAtSeeker)
	if !ok {
		buf, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", source, err)
		}
		ras = bytes.NewReader(buf)
	}

	reader, err := ipc.NewFileReader(ras, ipc.WithAllocator(catalog.Pool))
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow file reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	recs := make([]arrow.Record, 0, reader.NumRecords())
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for i := 0; i < reader.NumRecords(); i++ {
		rec, err := reader.Record(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", i, err)
		}
		rec.Retain()
		recs = append(recs, rec)
	}

	merged, err := concatRecords(reader.Schema(), recs)
	if err != nil {
		return nil, err
	}
	defer merged.Release()
	return catalog.New(merged, source), nil
}

// concatRecords merges recs column by column into a single record.
func concatRecords(schema *arrow.Schema, recs []arrow.Record) (arrow.Record, error) {
	if len(recs) == 1 {
		recs[0].Retain()
		return recs[0], nil
	}
	if len(recs) == 0 {
		b := array.NewRecordBuilder(catalog.Pool, schema)
		defer b.Release()
		return b.NewRecord(), nil
	}

	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	var rows int64
	for _, rec := range recs {
		rows += rec.NumRows()
	}
	for i := range cols {
		parts := make([]arrow.Array, len(recs))
		for j, rec := range recs {
			parts[j] = rec.Column(i)
		}
		c, err := array.Concatenate(parts, catalog.Pool)
		if err != nil {
			return nil, fmt.Errorf("failed to merge column %q: %w", schema.Field(i).Name, err)
		}
		cols[i] = c
	}
	return array.NewRecord(schema, cols, rows), nil
}
