// Package pool runs script calls on a fixed set of workers, each owning one
// isolated script context for the lifetime of the pool.
package pool

import (
	"errors"
	"runtime"
	"sync"

	"github.com/linemr/linemr/internal/script"
	"github.com/linemr/linemr/internal/syncx"
)

const minWorkers = 1

// ErrClosed is returned for calls submitted after the pool shut down.
var ErrClosed = errors.New("pool closed")

// Call runs on a single worker with exclusive use of its script context.
type Call func(sc *script.Context) (any, error)

// Result carries a finished call back to the submitter.
type Result struct {
	Value any
	Err   error
}

type task struct {
	call Call
	out  chan Result
}

// Pool is a fixed set of workers. Each worker evaluates the script source
// into its own context at start and never shares it; a worker runs one call
// at a time to completion.
type Pool struct {
	tasks   chan task
	done    *syncx.DoneChan
	wg      sync.WaitGroup
	size    int
	hasSort bool
	hasTest bool
}

type workerReady struct {
	err     error
	hasSort bool
	hasTest bool
}

// New starts size workers, defaulting to the number of CPUs when size is
// not positive. Every worker evaluates source once; if any evaluation
// fails, the pool is torn down and the first failure returned before any
// work is accepted.
func New(source string, size int) (*Pool, error) {
	if size < minWorkers {
		size = runtime.NumCPU()
	}

	p := &Pool{
		tasks: make(chan task),
		done:  syncx.NewDoneChan(),
		size:  size,
	}

	ready := make(chan workerReady, size)
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(source, ready)
	}

	var firstErr error
	for i := 0; i < size; i++ {
		r := <-ready
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		p.hasSort = r.hasSort
		p.hasTest = r.hasTest
	}
	if firstErr != nil {
		p.Close()
		return nil, firstErr
	}

	return p, nil
}

func (p *Pool) worker(source string, ready chan<- workerReady) {
	defer p.wg.Done()

	sc, err := script.NewContext(source)
	if err != nil {
		ready <- workerReady{err: err}
		return
	}
	ready <- workerReady{hasSort: sc.HasSort(), hasTest: sc.HasTest()}

	for {
		select {
		case <-p.done.Done():
			return
		case t := <-p.tasks:
			v, err := t.call(sc)
			t.out <- Result{Value: v, Err: err}
		}
	}
}

// Submit hands call to exactly one worker and returns the channel its
// single result is delivered on. The channel is buffered; workers never
// block on delivery.
func (p *Pool) Submit(call Call) <-chan Result {
	out := make(chan Result, 1)
	select {
	case p.tasks <- task{call: call, out: out}:
	case <-p.done.Done():
		out <- Result{Err: ErrClosed}
	}
	return out
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// HasSort reports whether the script defines a sort entry point.
func (p *Pool) HasSort() bool {
	return p.hasSort
}

// HasTest reports whether the script defines a test entry point.
func (p *Pool) HasTest() bool {
	return p.hasTest
}

// Close stops intake and waits for workers to finish their in-flight calls
// and drop their contexts. Safe to call more than once.
func (p *Pool) Close() {
	p.done.Close()
	p.wg.Wait()
}
