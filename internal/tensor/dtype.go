// Package tensor provides the host-side buffer types exchanged with the
// kiln compute backend: a runtime data type tag, shapes, and raw buffers.
package tensor

// Float is a constraint for the numeric precisions the backend dispatches on.
type Float interface {
	~float32 | ~float64
}

// DataType represents runtime precision information for buffers.
type DataType int

// Supported buffer precisions.
const (
	Float32 DataType = iota
	Float64
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// TypeOf returns the DataType matching a generic element type.
func TypeOf[T Float]() DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	default:
		return Float64
	}
}
