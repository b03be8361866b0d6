package syncx

import "sync/atomic"

// AtomicError holds an error that can be set and read concurrently.
// Only the first non-nil error sticks, later calls are no-ops.
type AtomicError struct {
	err atomic.Value
}

type errBox struct {
	err error
}

// Set stores err unless an error was stored before.
func (ae *AtomicError) Set(err error) {
	if err != nil {
		ae.err.CompareAndSwap(nil, errBox{err})
	}
}

// Load returns the stored error, nil if none was set.
func (ae *AtomicError) Load() error {
	if v := ae.err.Load(); v != nil {
		return v.(errBox).err
	}
	return nil
}
