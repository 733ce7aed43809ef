package query

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// DefaultBatchSize is the row count of batches sent over the wire.
const DefaultBatchSize = 64 * 1024

// Batches calls fn with consecutive zero-copy slices of rec holding at
// most size rows each. A record with no rows is passed through once so
// that consumers still see its schema. Slices are released after fn
// returns; fn must retain any slice it keeps.
func Batches(rec arrow.Record, size int64, fn func(arrow.Record) error) error {
	if size <= 0 {
		size = DefaultBatchSize
	}
	n := rec.NumRows()
	if n == 0 {
		return fn(rec)
	}
	for start := int64(0); start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		slice := rec.NewSlice(start, end)
		err := fn(slice)
		slice.Release()
		if err != nil {
			return fmt.Errorf("query: batch [%d, %d): %w", start, end, err)
		}
	}
	return nil
}
