package script

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Value is a script value bridged to the host: nil, bool, int64, float64,
// string, []Value, or *Object. Anything else never leaves the bridge.
type Value = any

// Object is the host shape of a script object: an insertion-ordered
// string-keyed mapping.
type Object = orderedmap.OrderedMap[string, Value]

// NewObject returns an empty Object.
func NewObject() *Object {
	return orderedmap.New[string, Value]()
}

// Pair is a (key, value) record: one map emission, or one reduction.
type Pair struct {
	Key   string
	Value Value
}

// bridge converts an engine value into the host Value domain. Functions,
// symbols, non-plain objects and cyclic structures are rejected.
func bridge(v goja.Value) (Value, error) {
	return bridgeValue(v, nil)
}

func bridgeValue(v goja.Value, seen []*goja.Object) (Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		switch ex := v.Export().(type) {
		case bool, int64, float64, string:
			return ex, nil
		}
		return nil, &UnsupportedValueError{Reason: v.String()}
	}

	if _, ok := goja.AssertFunction(obj); ok {
		return nil, &UnsupportedValueError{Reason: "function"}
	}
	for _, s := range seen {
		if s == obj {
			return nil, &UnsupportedValueError{Reason: "cyclic value"}
		}
	}
	seen = append(seen, obj)

	switch obj.ClassName() {
	case "Array":
		n := obj.Get("length").ToInteger()
		arr := make([]Value, 0, n)
		for i := int64(0); i < n; i++ {
			el, err := bridgeValue(obj.Get(strconv.FormatInt(i, 10)), seen)
			if err != nil {
				return nil, err
			}
			arr = append(arr, el)
		}
		return arr, nil
	case "Object":
		m := NewObject()
		for _, k := range obj.Keys() {
			el, err := bridgeValue(obj.Get(k), seen)
			if err != nil {
				return nil, err
			}
			m.Set(k, el)
		}
		return m, nil
	}
	return nil, &UnsupportedValueError{Reason: obj.ClassName() + " object"}
}

// toJS converts a host Value back into an engine value on c's runtime,
// rebuilding objects in key order.
func (c *Context) toJS(v Value) goja.Value {
	switch t := v.(type) {
	case nil:
		return goja.Null()
	case []Value:
		items := make([]any, len(t))
		for i, e := range t {
			items[i] = c.toJS(e)
		}
		return c.rt.NewArray(items...)
	case *Object:
		obj := c.rt.NewObject()
		for p := t.Oldest(); p != nil; p = p.Next() {
			obj.Set(p.Key, c.toJS(p.Value))
		}
		return obj
	default:
		return c.rt.ToValue(t)
	}
}

// Stringify renders v the way the engine coerces values to strings, falling
// back to compact JSON for arrays and objects.
func Stringify(v Value) (string, error) {
	switch t := v.(type) {
	case nil:
		return "null", nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return NumberString(t), nil
	case string:
		return t, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// NumberString formats f like the engine's number-to-string coercion.
func NumberString(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if i := strings.IndexByte(s, 'e'); i >= 0 {
		mant, exp := s[:i], s[i+1:]
		var sign string
		if exp != "" && (exp[0] == '+' || exp[0] == '-') {
			sign, exp = string(exp[0]), exp[1:]
		}
		exp = strings.TrimLeft(exp, "0")
		if exp == "" {
			exp = "0"
		}
		s = mant + "e" + sign + exp
	}
	return s
}

// pairKey coerces a primitive pair key to its string form. Composite keys
// are rejected.
func pairKey(v goja.Value) (string, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", false
	}
	switch ex := v.Export().(type) {
	case string:
		return ex, true
	case int64:
		return strconv.FormatInt(ex, 10), true
	case float64:
		return NumberString(ex), true
	case bool:
		if ex {
			return "true", true
		}
		return "false", true
	}
	return "", false
}
