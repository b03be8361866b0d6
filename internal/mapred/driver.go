// Package mapred drives the map/shuffle/reduce pipeline: a single line
// producer feeding a pool of script workers, an insertion-ordered shuffle,
// and a reduce pass with streaming or buffered emission.
package mapred

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/linemr/linemr/internal/pool"
	"github.com/linemr/linemr/internal/script"
	"github.com/linemr/linemr/internal/syncx"
)

// inflightFactor scales the worker count into the in-flight task bound, so
// workers stay busy without the producer racing arbitrarily far ahead.
const inflightFactor = 2

// Config carries one run's settings.
type Config struct {
	// Script is the script source text.
	Script string
	// Input is the byte stream decomposed into lines.
	Input io.Reader
	// Output receives the encoded reductions.
	Output io.Writer
	// Format selects the output encoding, FormatPlain when empty.
	Format Format
	// Sorted forces buffered mode; the script must define sort.
	Sorted bool
	// Workers overrides the pool size, number of CPUs when not positive.
	Workers int
	// Logger receives stage lifecycle events on stderr, never records.
	Logger *zap.Logger
}

// Run executes one full map/shuffle/reduce pass over the input. Any error
// aborts the run: in-flight work is drained, the pool torn down, and the
// first error returned. Output holds either nothing or whole records.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Format == "" {
		cfg.Format = FormatPlain
	}

	p, err := pool.New(cfg.Script, cfg.Workers)
	if err != nil {
		return err
	}
	defer p.Close()
	logger.Debug("pool started", zap.Int("workers", p.Size()))

	if cfg.Sorted && !p.HasSort() {
		return ErrSortUndefined
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	inflight := p.Size() * inflightFactor
	stageCtx, stop := context.WithCancel(ctx)
	defer stop()

	d := &driver{
		pool:     p,
		inflight: inflight,
		sem:      semaphore.NewWeighted(int64(inflight)),
		ctx:      stageCtx,
		stop:     stop,
		logger:   logger,
	}

	sh := newShuffle()
	d.runMapStage(newLineSource(cfg.Input), sh)
	if err := d.runErr(ctx); err != nil {
		logger.Debug("run cancelled", zap.Error(err))
		return err
	}
	logger.Debug("map stage drained", zap.Int("keys", sh.len()))

	buffered := cfg.Sorted || p.HasSort()
	d.runReduceStage(sh, buffered, newEmitter(cfg.Output, cfg.Format))
	if err := d.runErr(ctx); err != nil {
		logger.Debug("run cancelled", zap.Error(err))
		return err
	}
	logger.Debug("reduce stage drained")
	return nil
}

// Test evaluates the script on a single worker and invokes its test entry
// point if defined, printing OK on success. No input is consumed.
func Test(source string, out io.Writer) error {
	p, err := pool.New(source, 1)
	if err != nil {
		return err
	}
	defer p.Close()

	if !p.HasTest() {
		return nil
	}
	r := <-p.Submit(func(sc *script.Context) (any, error) {
		return nil, sc.CallTest()
	})
	if r.Err != nil {
		return r.Err
	}
	if _, err := fmt.Fprintln(out, "OK"); err != nil {
		return &OutputIOError{Err: err}
	}
	return nil
}

type driver struct {
	pool     *pool.Pool
	inflight int
	sem      *semaphore.Weighted
	ctx      context.Context
	stop     context.CancelFunc
	err      syncx.AtomicError
	logger   *zap.Logger
}

// cancel records the first error and stops the stages at their next task
// boundary.
func (d *driver) cancel(err error) {
	d.err.Set(err)
	d.stop()
}

// runErr resolves the error a finished stage left behind; an externally
// cancelled context counts even when no stage recorded it.
func (d *driver) runErr(ctx context.Context) error {
	if err := d.err.Load(); err != nil {
		return err
	}
	return ctx.Err()
}

// runMapStage pulls lines from src, fans them out as map tasks with at most
// d.inflight in flight, and folds the emitted pairs into sh. Pairs from one
// line enter their groups in emission order; cross-line order is up to
// worker scheduling.
func (d *driver) runMapStage(src *lineSource, sh *shuffle) {
	results := make(chan pool.Result, d.inflight)

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(results)
		}()

		for {
			line, ok, err := src.next()
			if err != nil {
				d.cancel(err)
				return
			}
			if !ok {
				return
			}

			if d.sem.Acquire(d.ctx, 1) != nil {
				return
			}
			fut := d.pool.Submit(func(sc *script.Context) (any, error) {
				return sc.CallMap(line)
			})
			wg.Add(1)
			go func() {
				defer func() {
					d.sem.Release(1)
					wg.Done()
				}()
				d.forward(fut, results)
			}()
		}
	}()

	for r := range results {
		if r.Err != nil {
			d.cancel(r.Err)
			continue
		}
		if d.ctx.Err() != nil {
			continue
		}
		for _, pr := range r.Value.([]script.Pair) {
			sh.add(pr)
		}
	}
}

// runReduceStage walks the shuffle in key first-appearance order, reducing
// each group under the same in-flight bound. Streaming mode emits results
// as they complete; buffered mode collects them all and lets the script's
// sort decide the final order.
func (d *driver) runReduceStage(sh *shuffle, buffered bool, em *emitter) {
	keys := sh.len()
	results := make(chan pool.Result, d.inflight)

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(results)
		}()

		for group := sh.groups.Oldest(); group != nil; {
			key, values := group.Key, group.Value
			next := group.Next()

			if d.sem.Acquire(d.ctx, 1) != nil {
				return
			}
			fut := d.pool.Submit(func(sc *script.Context) (any, error) {
				v, err := sc.CallReduce(key, values)
				if err != nil {
					return nil, err
				}
				return script.Pair{Key: key, Value: v}, nil
			})
			wg.Add(1)
			go func() {
				defer func() {
					d.sem.Release(1)
					wg.Done()
				}()
				d.forward(fut, results)
			}()

			sh.drop(key)
			group = next
		}
	}()

	if !buffered {
		for r := range results {
			if r.Err != nil {
				d.cancel(r.Err)
				continue
			}
			if d.ctx.Err() != nil {
				continue
			}
			if err := em.emit(r.Value.(script.Pair)); err != nil {
				d.cancel(err)
			}
		}
		return
	}

	reductions := make([]script.Pair, 0, keys)
	for r := range results {
		if r.Err != nil {
			d.cancel(r.Err)
			continue
		}
		reductions = append(reductions, r.Value.(script.Pair))
	}
	if d.ctx.Err() != nil {
		return
	}

	fut := d.pool.Submit(func(sc *script.Context) (any, error) {
		return sc.CallSort(reductions)
	})
	select {
	case <-d.ctx.Done():
	case r := <-fut:
		if r.Err != nil {
			d.cancel(r.Err)
			return
		}
		for _, red := range r.Value.([]script.Pair) {
			if err := em.emit(red); err != nil {
				d.cancel(err)
				return
			}
		}
	}
}

// forward relays one task result unless the run is already cancelled.
func (d *driver) forward(fut <-chan pool.Result, results chan<- pool.Result) {
	select {
	case <-d.ctx.Done():
	case r := <-fut:
		select {
		case <-d.ctx.Done():
		case results <- r:
		}
	}
}
