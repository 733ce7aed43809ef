package catalog

import (
	"reflect"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Pool is the Go memory allocator used by Arrow.
var Pool = memory.NewGoAllocator()

// UnitKey is the Arrow field metadata key holding the FITS TUNIT of a column.
const UnitKey = "unit"

// Columns names the catalog columns the analysis reads.
type Columns struct {
	RA         string
	Dec        string
	Brightness string
	// ID is optional; lookups by identifier are disabled when empty.
	ID string
}

// DefaultColumns returns the column names of a typical star catalog.
func DefaultColumns() Columns {
	return Columns{
		RA:         "ra",
		Dec:        "dec",
		Brightness: "brightness",
	}
}

// arrowType maps the Go type fitsio reports for a column onto an Arrow type.
// Vector, complex and bit columns have no scalar mapping.
func arrowType(rt reflect.Type) (arrow.DataType, bool) {
	switch rt.Kind() {
	case reflect.Bool:
		return arrow.FixedWidthTypes.Boolean, true
	case reflect.Int8:
		return arrow.PrimitiveTypes.Int8, true
	case reflect.Int16:
		return arrow.PrimitiveTypes.Int16, true
	case reflect.Int32:
		return arrow.PrimitiveTypes.Int32, true
	case reflect.Int64:
		return arrow.PrimitiveTypes.Int64, true
	case reflect.Uint8:
		return arrow.PrimitiveTypes.Uint8, true
	case reflect.Uint16:
		return arrow.PrimitiveTypes.Uint16, true
	case reflect.Uint32:
		return arrow.PrimitiveTypes.Uint32, true
	case reflect.Uint64:
		return arrow.PrimitiveTypes.Uint64, true
	case reflect.Float32:
		return arrow.PrimitiveTypes.Float32, true
	case reflect.Float64:
		return arrow.PrimitiveTypes.Float64, true
	case reflect.String:
		return arrow.BinaryTypes.String, true
	default:
		return nil, false
	}
}

func unitMetadata(unit string) arrow.Metadata {
	if unit == "" {
		return arrow.Metadata{}
	}
	return arrow.NewMetadata([]string{UnitKey}, []string{unit})
}

func fieldUnit(f arrow.Field) string {
	if i := f.Metadata.FindKey(UnitKey); i >= 0 {
		return f.Metadata.Values()[i]
	}
	return ""
}
