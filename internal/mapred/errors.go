package mapred

import (
	"errors"
	"fmt"
)

// ErrSortUndefined reports sorted output requested for a script with no
// sort entry point.
var ErrSortUndefined = errors.New(`sorted output requested but the script does not define "sort"`)

// InputIOError wraps a failure reading the input stream.
type InputIOError struct {
	Err error
}

func (e *InputIOError) Error() string {
	return fmt.Sprintf("reading input: %v", e.Err)
}

func (e *InputIOError) Unwrap() error {
	return e.Err
}

// OutputIOError wraps a failure writing a record, like a closed downstream
// pipe.
type OutputIOError struct {
	Err error
}

func (e *OutputIOError) Error() string {
	return fmt.Sprintf("writing output: %v", e.Err)
}

func (e *OutputIOError) Unwrap() error {
	return e.Err
}
