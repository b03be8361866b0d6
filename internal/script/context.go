package script

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dop251/goja"
)

var errNeverSettled = errors.New("asynchronous result never settled")

// Context is one isolated instance of the scripting engine with the user
// source evaluated and the entry points resolved. A Context is not safe for
// concurrent use: it is created, used and dropped on a single worker
// goroutine.
type Context struct {
	rt       *goja.Runtime
	mapFn    goja.Callable
	reduceFn goja.Callable
	sortFn   goja.Callable
	testFn   goja.Callable
}

// NewContext compiles and evaluates source on a fresh runtime. The script
// must define top-level map and reduce functions; sort and test are
// optional.
func NewContext(source string) (*Context, error) {
	prog, err := goja.Compile("script.js", source, false)
	if err != nil {
		return nil, &LoadError{Err: err}
	}

	rt := goja.New()
	if _, err := rt.RunProgram(prog); err != nil {
		return nil, &LoadError{Err: err}
	}

	c := &Context{rt: rt}
	if c.mapFn, err = c.require("map"); err != nil {
		return nil, err
	}
	if c.reduceFn, err = c.require("reduce"); err != nil {
		return nil, err
	}
	c.sortFn, _ = c.lookup("sort")
	c.testFn, _ = c.lookup("test")
	return c, nil
}

// lookup resolves a top-level binding by name. Lexical declarations (let,
// const) don't land on the global object, so fall back to evaluating the
// bare name.
func (c *Context) lookup(name string) (goja.Callable, bool) {
	v := c.rt.Get(name)
	if v == nil || goja.IsUndefined(v) {
		evaluated, err := c.rt.RunString(name)
		if err != nil {
			return nil, false
		}
		v = evaluated
	}
	return goja.AssertFunction(v)
}

func (c *Context) require(name string) (goja.Callable, error) {
	fn, ok := c.lookup(name)
	if !ok {
		return nil, &LoadError{Err: fmt.Errorf("script does not define %q", name)}
	}
	return fn, nil
}

// HasSort reports whether the script defines a sort entry point.
func (c *Context) HasSort() bool {
	return c.sortFn != nil
}

// HasTest reports whether the script defines a test entry point.
func (c *Context) HasTest() bool {
	return c.testFn != nil
}

// CallMap invokes map on one line and decodes the emitted pairs.
func (c *Context) CallMap(line string) ([]Pair, error) {
	v, err := c.call("map", c.mapFn, c.rt.ToValue(line))
	if err != nil {
		return nil, err
	}
	return c.pairList("map", v)
}

// CallReduce invokes reduce on one key's collected values.
func (c *Context) CallReduce(key string, values []Value) (Value, error) {
	items := make([]any, len(values))
	for i, val := range values {
		items[i] = c.toJS(val)
	}
	v, err := c.call("reduce", c.reduceFn, c.rt.ToValue(key), c.rt.NewArray(items...))
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(v) {
		return nil, &ShapeError{Fn: "reduce", Reason: "no value"}
	}
	return bridge(v)
}

// CallSort hands the complete reduction set to the script's sort; its
// return value is the authoritative output order.
func (c *Context) CallSort(reductions []Pair) ([]Pair, error) {
	items := make([]any, len(reductions))
	for i, r := range reductions {
		items[i] = c.rt.NewArray(c.rt.ToValue(r.Key), c.toJS(r.Value))
	}
	v, err := c.call("sort", c.sortFn, c.rt.NewArray(items...))
	if err != nil {
		return nil, err
	}
	return c.pairList("sort", v)
}

// CallTest invokes the test entry point, nil if the script defines none.
func (c *Context) CallTest() error {
	if c.testFn == nil {
		return nil
	}
	_, err := c.call("test", c.testFn)
	return err
}

// call invokes fn and awaits a promise-shaped result.
func (c *Context) call(name string, fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	v, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, &RuntimeError{Fn: name, Err: err}
	}
	return c.await(name, v)
}

// await resolves a returned promise. The engine has already drained its job
// queue by the time the call returns, so a still-pending promise can never
// settle; report it instead of hanging the worker.
func (c *Context) await(name string, v goja.Value) (goja.Value, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v, nil
	}
	p, ok := obj.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, &RuntimeError{Fn: name, Err: errors.New(p.Result().String())}
	default:
		return nil, &RuntimeError{Fn: name, Err: errNeverSettled}
	}
}

// pairList decodes an array of [key, value] arrays.
func (c *Context) pairList(fn string, v goja.Value) ([]Pair, error) {
	arr, ok := asArray(v)
	if !ok {
		return nil, &ShapeError{Fn: fn, Reason: "a non-array"}
	}
	pairs := make([]Pair, 0, len(arr))
	for _, el := range arr {
		kv, ok := asArray(el)
		if !ok || len(kv) != 2 {
			return nil, &ShapeError{Fn: fn, Reason: "an element that is not a [key, value] pair"}
		}
		key, ok := pairKey(kv[0])
		if !ok {
			return nil, &ShapeError{Fn: fn, Reason: "a pair with a non-primitive key"}
		}
		val, err := bridge(kv[1])
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Key: key, Value: val})
	}
	return pairs, nil
}

func asArray(v goja.Value) ([]goja.Value, bool) {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return nil, false
	}
	n := obj.Get("length").ToInteger()
	out := make([]goja.Value, n)
	for i := range out {
		out[i] = obj.Get(strconv.Itoa(i))
	}
	return out, true
}
