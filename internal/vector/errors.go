package vector

import "fmt"

// ErrDimensionMismatch is returned when a vector's length differs from the
// index dimension. Use errors.As to inspect it.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Actual, e.Expected)
}
