package mapred

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/linemr/linemr/internal/script"
)

// Format selects the output encoding.
type Format string

const (
	// FormatPlain writes one "KEY: VALUE" line per reduction, coercing
	// primitive values to a string the way the script engine would and
	// rendering arrays and objects as compact JSON.
	FormatPlain Format = "plain"
	// FormatJSON writes newline-delimited JSON, one {"KEY": VALUE} object
	// per reduction.
	FormatJSON Format = "json"
)

// Valid reports whether f names a known encoding.
func (f Format) Valid() bool {
	return f == FormatPlain || f == FormatJSON
}

// encodeRecord renders one reduction as a complete output line. A value the
// encoder cannot serialize is a shape violation of the reduce contract.
func encodeRecord(f Format, r script.Pair) ([]byte, error) {
	switch f {
	case FormatJSON:
		key, err := json.Marshal(r.Key)
		if err != nil {
			return nil, &script.ShapeError{Fn: "reduce", Reason: "an unserializable key"}
		}
		val, err := json.Marshal(r.Value)
		if err != nil {
			return nil, &script.ShapeError{Fn: "reduce", Reason: "an unserializable value"}
		}
		return []byte(fmt.Sprintf("{%s:%s}\n", key, val)), nil
	default:
		v, err := script.Stringify(r.Value)
		if err != nil {
			return nil, &script.ShapeError{Fn: "reduce", Reason: "an unserializable value"}
		}
		return []byte(r.Key + ": " + v + "\n"), nil
	}
}

// emitter writes records to the output sink, one whole record per write so
// an aborted run never leaves a partial line behind.
type emitter struct {
	w io.Writer
	f Format
}

func newEmitter(w io.Writer, f Format) *emitter {
	return &emitter{w: w, f: f}
}

func (e *emitter) emit(r script.Pair) error {
	rec, err := encodeRecord(e.f, r)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(rec); err != nil {
		return &OutputIOError{Err: err}
	}
	return nil
}
