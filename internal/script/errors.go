package script

import "fmt"

// LoadError reports a script whose source failed to parse, whose top-level
// evaluation threw, or which is missing a required entry point.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading script: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// RuntimeError reports a throw from one of the script entry points, carrying
// the engine diagnostic.
type RuntimeError struct {
	Fn  string
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("script %s: %v", e.Fn, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ShapeError reports an entry point return value that violates its contract,
// like map returning something other than a list of [key, value] pairs.
type ShapeError struct {
	Fn     string
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("script %s returned %s", e.Fn, e.Reason)
}

// UnsupportedValueError reports a script value outside the bridgeable
// domain of null, bool, number, string, array and plain object.
type UnsupportedValueError struct {
	Reason string
}

func (e *UnsupportedValueError) Error() string {
	return "unsupported script value: " + e.Reason
}
