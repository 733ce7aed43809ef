// Package index builds secondary indexes over catalog columns.
package index

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	roaring "github.com/RoaringBitmap/roaring"
	"github.com/TFMV/starcat/catalog"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// ---------------------------------------------------------------------
// Manager: Manages multiple indexes per column
// ---------------------------------------------------------------------

type Manager struct {
	mu       sync.RWMutex
	indexes  map[string]map[Strategy]Index
	types    map[string]arrow.DataType
	settings Settings
}

type Settings struct {
	// BloomFilterFPRate is the desired false-positive rate for the Bloom filter
	BloomFilterFPRate float64
	// IDStrategy is the equality index kept on the identifier column,
	// HashIndex or RoaringBitmap.
	IDStrategy Strategy
}

// DefaultSettings returns the settings used by the analyzer.
func DefaultSettings() Settings {
	return Settings{BloomFilterFPRate: 0.01, IDStrategy: HashIndex}
}

// NewManager creates an empty index manager
func NewManager(settings Settings) *Manager {
	if settings.BloomFilterFPRate <= 0 || settings.BloomFilterFPRate >= 1 {
		settings.BloomFilterFPRate = DefaultSettings().BloomFilterFPRate
	}
	if settings.IDStrategy == 0 {
		settings.IDStrategy = DefaultSettings().IDStrategy
	}
	return &Manager{
		indexes:  make(map[string]map[Strategy]Index),
		types:    make(map[string]arrow.DataType),
		settings: settings,
	}
}

// Settings returns the manager's settings with defaults applied.
func (m *Manager) Settings() Settings { return m.settings }

// Numeric reports whether dt orders by number. Only numeric columns get
// range lookups; everything else compares as the scan path casts it.
func Numeric(dt arrow.DataType) bool {
	return arrow.IsInteger(dt.ID()) || arrow.IsFloating(dt.ID())
}

func (m *Manager) newIndex(strategy Strategy, rows int) (Index, error) {
	switch strategy {
	case RoaringBitmap:
		return NewRoaringIndex(), nil
	case HashIndex:
		return NewHashIndex(rows), nil
	case Bloom:
		return NewBloomIndex(uint(rows), m.settings.BloomFilterFPRate), nil
	case SortedColumn:
		return NewSortedIndex(rows), nil
	default:
		return nil, fmt.Errorf("index: unsupported strategy %v", strategy)
	}
}

// Build indexes every non-null value of column in t with strategy,
// replacing any index of the same strategy on that column. NaN values are
// not indexed.
func (m *Manager) Build(t *catalog.Table, column string, strategy Strategy) error {
	arr, err := t.Column(column)
	if err != nil {
		return err
	}
	if t.NumRows() > math.MaxUint32 {
		return fmt.Errorf("index: %d rows exceed the bitmap row limit", t.NumRows())
	}

	idx, err := m.newIndex(strategy, arr.Len())
	if err != nil {
		return err
	}
	for i := 0; i < arr.Len(); i++ {
		v, ok := Value(arr, i)
		if !ok {
			continue
		}
		if f, isFloat := v.(float64); isFloat && math.IsNaN(f) {
			continue
		}
		if err := idx.Add(uint32(i), v); err != nil {
			return fmt.Errorf("index: add row %d of %q: %w", i, column, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexes[column] == nil {
		m.indexes[column] = make(map[Strategy]Index)
	}
	m.indexes[column][strategy] = idx
	m.types[column] = arr.DataType()
	return nil
}

// Get retrieves an existing index for a given column and strategy
func (m *Manager) Get(column string, strategy Strategy) (Index, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	strats, ok := m.indexes[column]
	if !ok {
		return nil, false
	}
	idx, exists := strats[strategy]
	return idx, exists
}

// Range returns the SortedColumn index of column, if one was built over
// a numeric column.
func (m *Manager) Range(column string) (RangeIndex, bool) {
	idx, ok := m.Get(column, SortedColumn)
	if !ok {
		return nil, false
	}
	m.mu.RLock()
	dt := m.types[column]
	m.mu.RUnlock()
	if dt == nil || !Numeric(dt) {
		return nil, false
	}
	r, ok := idx.(RangeIndex)
	return r, ok
}

// Lookup returns the rows of column equal to value, consulting the bloom
// filter first and then the first equality index available. ok is false
// when the column has no equality index.
func (m *Manager) Lookup(column string, value interface{}) (bm *roaring.Bitmap, ok bool, err error) {
	if bf, found := m.Get(column, Bloom); found {
		if b, isBloom := bf.(*bloomIndex); isBloom && !b.MayContain(value) {
			return roaring.New(), true, nil
		}
	}
	for _, strategy := range []Strategy{HashIndex, RoaringBitmap, Bloom, SortedColumn} {
		if idx, found := m.Get(column, strategy); found {
			bm, err := idx.Search(value)
			return bm, true, err
		}
	}
	return nil, false, nil
}

// Value returns the index key of row i of arr. Integers widen to int64 or
// uint64, floats to float64. ok is false for nulls and unsupported types.
func Value(arr arrow.Array, i int) (interface{}, bool) {
	if arr.IsNull(i) {
		return nil, false
	}
	switch a := arr.(type) {
	case *array.Int8:
		return int64(a.Value(i)), true
	case *array.Int16:
		return int64(a.Value(i)), true
	case *array.Int32:
		return int64(a.Value(i)), true
	case *array.Int64:
		return a.Value(i), true
	case *array.Uint8:
		return uint64(a.Value(i)), true
	case *array.Uint16:
		return uint64(a.Value(i)), true
	case *array.Uint32:
		return uint64(a.Value(i)), true
	case *array.Uint64:
		return a.Value(i), true
	case *array.Float32:
		return float64(a.Value(i)), true
	case *array.Float64:
		return a.Value(i), true
	case *array.String:
		return a.Value(i), true
	case *array.Boolean:
		return a.Value(i), true
	default:
		return nil, false
	}
}

// ParseValue converts s into the index key type of a column of type dt.
func ParseValue(dt arrow.DataType, s string) (interface{}, error) {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64:
		return strconv.ParseInt(s, 10, 64)
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return strconv.ParseUint(s, 10, 64)
	case arrow.FLOAT32, arrow.FLOAT64:
		return strconv.ParseFloat(s, 64)
	case arrow.BOOL:
		return strconv.ParseBool(s)
	case arrow.STRING:
		return s, nil
	default:
		return nil, fmt.Errorf("index: cannot key a %s column", dt)
	}
}
