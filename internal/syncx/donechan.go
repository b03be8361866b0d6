// Package syncx holds the shutdown primitives behind the pipeline: a
// close-many-times done channel and a first-error-wins error slot.
package syncx

import "sync"

// A DoneChan signals shutdown to every goroutine selecting on it. The
// pool's workers and its submit path all watch one; Close is idempotent,
// so a failed start and a normal teardown can both fire it without
// coordination.
type DoneChan struct {
	done chan struct{}
	once sync.Once
}

// NewDoneChan returns a DoneChan.
func NewDoneChan() *DoneChan {
	return &DoneChan{
		done: make(chan struct{}),
	}
}

// Close releases everyone waiting on Done. Safe to call more than once;
// only the first call has any effect.
func (dc *DoneChan) Close() {
	dc.once.Do(func() {
		close(dc.done)
	})
}

// Done returns the channel that is closed on shutdown.
func (dc *DoneChan) Done() chan struct{} {
	return dc.done
}
