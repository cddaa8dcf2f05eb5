package tensor

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned (wrapped) whenever operands have
// incompatible shapes.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// DimensionError describes an operation that received operands with
// incompatible shapes.
type DimensionError struct {
	Op    string
	Left  []int
	Right []int
	// Detail is an optional human readable explanation.
	Detail string
}

func (e *DimensionError) Error() string {
	msg := fmt.Sprintf("%s: incompatible shapes %v and %v", e.Op, e.Left, e.Right)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *DimensionError) Unwrap() error {
	return ErrDimensionMismatch
}

func dimErr(op string, left, right []int, format string, args ...any) error {
	return &DimensionError{
		Op:     op,
		Left:   copyShape(left),
		Right:  copyShape(right),
		Detail: fmt.Sprintf(format, args...),
	}
}
