package index

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	roaring "github.com/RoaringBitmap/roaring"
	bloom "github.com/bits-and-blooms/bloom/v3"
	murmur3 "github.com/spaolacci/murmur3"
)

// ---------------------------------------------------------------------
// Strategy: Defines which indexing strategy to use
// ---------------------------------------------------------------------

type Strategy int

// The zero Strategy is unset.
const (
	RoaringBitmap Strategy = iota + 1
	HashIndex
	Bloom
	SortedColumn
)

func (s Strategy) String() string {
	switch s {
	case RoaringBitmap:
		return "roaring"
	case HashIndex:
		return "hash"
	case Bloom:
		return "bloom"
	case SortedColumn:
		return "sorted"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy parses a strategy name as written in configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "roaring":
		return RoaringBitmap, nil
	case "hash":
		return HashIndex, nil
	case "bloom":
		return Bloom, nil
	case "sorted":
		return SortedColumn, nil
	default:
		return 0, fmt.Errorf("index: unknown strategy %q", s)
	}
}

// ---------------------------------------------------------------------
// Index: The universal interface for all index implementations
//
// Catalogs are immutable once loaded, so indexes are built once and only
// grow while being built.
// ---------------------------------------------------------------------

type Index interface {
	// Add inserts row for the given value into the index
	Add(row uint32, value interface{}) error
	// Search returns the rows holding value
	Search(value interface{}) (*roaring.Bitmap, error)
}

// RangeIndex is an Index that can answer threshold queries.
type RangeIndex interface {
	Index
	// Greater returns the rows whose value is strictly greater than v.
	Greater(v float64) *roaring.Bitmap
}

// ---------------------------------------------------------------------
// 1) Roaring Bitmap Index
//
//    Maps each distinct value -> roaring.Bitmap of rows.
// ---------------------------------------------------------------------

type roaringIndex struct {
	mu     sync.RWMutex
	values map[interface{}]*roaring.Bitmap
}

// NewRoaringIndex constructs a new Index backed by one bitmap per value
func NewRoaringIndex() Index {
	return &roaringIndex{values: make(map[interface{}]*roaring.Bitmap)}
}

func (r *roaringIndex) Add(row uint32, value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, ok := r.values[value]
	if !ok {
		bm = roaring.New()
		r.values[value] = bm
	}
	bm.Add(row)
	return nil
}

func (r *roaringIndex) Search(value interface{}) (*roaring.Bitmap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bm, ok := r.values[value]
	if !ok || bm == nil {
		return roaring.New(), nil
	}
	return bm.Clone(), nil
}

// ---------------------------------------------------------------------
// 2) Hash Index
//
//    Murmur3 buckets each value; within a bucket value -> bitmap of rows.
//    Suited to identifier columns with one row per value.
// ---------------------------------------------------------------------

type hashIndex struct {
	mu      sync.RWMutex
	buckets map[uint64]map[interface{}]*roaring.Bitmap
}

// NewHashIndex constructs a new HashIndex sized for sizeHint rows
func NewHashIndex(sizeHint int) Index {
	return &hashIndex{buckets: make(map[uint64]map[interface{}]*roaring.Bitmap, sizeHint)}
}

func (h *hashIndex) Add(row uint32, value interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := murmurKey(value)
	submap, ok := h.buckets[key]
	if !ok {
		submap = make(map[interface{}]*roaring.Bitmap)
		h.buckets[key] = submap
	}
	bm, ok := submap[value]
	if !ok {
		bm = roaring.New()
		submap[value] = bm
	}
	bm.Add(row)
	return nil
}

func (h *hashIndex) Search(value interface{}) (*roaring.Bitmap, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	submap, ok := h.buckets[murmurKey(value)]
	if !ok {
		return roaring.New(), nil
	}
	bm, ok := submap[value]
	if !ok || bm == nil {
		return roaring.New(), nil
	}
	return bm.Clone(), nil
}

func murmurKey(value interface{}) uint64 {
	return murmur3.Sum64([]byte(toString(value)))
}

// ---------------------------------------------------------------------
// 3) Bloom Filter Index
//
//    Answers "definitely absent" before the value map is consulted.
// ---------------------------------------------------------------------

type bloomIndex struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	values map[interface{}]*roaring.Bitmap
}

// NewBloomIndex sizes the filter for capacity values at false-positive rate fpRate.
func NewBloomIndex(capacity uint, fpRate float64) Index {
	if capacity == 0 {
		capacity = 1
	}
	return &bloomIndex{
		filter: bloom.NewWithEstimates(capacity, fpRate),
		values: make(map[interface{}]*roaring.Bitmap),
	}
}

func (b *bloomIndex) Add(row uint32, value interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.filter.AddString(toString(value))
	bm, ok := b.values[value]
	if !ok {
		bm = roaring.New()
		b.values[value] = bm
	}
	bm.Add(row)
	return nil
}

// MayContain reports whether value could be in the index.
func (b *bloomIndex) MayContain(value interface{}) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.TestString(toString(value))
}

func (b *bloomIndex) Search(value interface{}) (*roaring.Bitmap, error) {
	if !b.MayContain(value) {
		return roaring.New(), nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	bm, ok := b.values[value]
	if !ok || bm == nil {
		return roaring.New(), nil
	}
	return bm.Clone(), nil
}

// ---------------------------------------------------------------------
// 4) Sorted Column Index
//
//    Keeps (value, row) entries ordered by value. Threshold queries are a
//    binary search followed by a walk to the end of the slice.
// ---------------------------------------------------------------------

type sortedIndex struct {
	mu      sync.RWMutex
	entries []sortedEntry
	sorted  bool
}

type sortedEntry struct {
	value interface{}
	row   uint32
}

// NewSortedIndex constructs an empty SortedColumn index with room for sizeHint rows.
func NewSortedIndex(sizeHint int) RangeIndex {
	return &sortedIndex{entries: make([]sortedEntry, 0, sizeHint), sorted: true}
}

// Add appends the entry; ordering is restored lazily on the next read so
// bulk builds stay O(n log n).
func (s *sortedIndex) Add(row uint32, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, sortedEntry{value: value, row: row})
	s.sorted = false
	return nil
}

// ensureSorted must be called without holding the lock.
func (s *sortedIndex) ensureSorted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sorted {
		return
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		return compareValues(s.entries[i].value, s.entries[j].value) < 0
	})
	s.sorted = true
}

func (s *sortedIndex) Search(value interface{}) (*roaring.Bitmap, error) {
	s.ensureSorted()
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := roaring.New()
	n := len(s.entries)
	left := sort.Search(n, func(i int) bool {
		return compareValues(s.entries[i].value, value) >= 0
	})
	for i := left; i < n && compareValues(s.entries[i].value, value) == 0; i++ {
		result.Add(s.entries[i].row)
	}
	return result, nil
}

func (s *sortedIndex) Greater(v float64) *roaring.Bitmap {
	s.ensureSorted()
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := roaring.New()
	start := sort.Search(len(s.entries), func(i int) bool {
		return compareValues(s.entries[i].value, v) > 0
	})
	for _, e := range s.entries[start:] {
		result.Add(e.row)
	}
	return result
}

// compareValues orders two index values. Numbers compare numerically
// whatever their width; anything else falls back to string order.
//
//	< 0 if a < b
//	= 0 if a == b
//	> 0 if a > b
func compareValues(a, b interface{}) int {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
