package mapred

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/linemr/linemr/internal/script"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func runJob(t *testing.T, cfg Config) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cfg.Output = &out
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	err := Run(context.Background(), cfg)
	return out.String(), err
}

func outputSet(s string) []string {
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	sort.Strings(lines)
	return lines
}

func TestRunDefaultScript(t *testing.T) {
	out, err := runJob(t, Config{
		Script: script.DefaultSource,
		Input:  strings.NewReader("hello world hello\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello: 2", "world: 1"}, outputSet(out))
}

func TestRunMultiLine(t *testing.T) {
	out, err := runJob(t, Config{
		Script: script.DefaultSource,
		Input:  strings.NewReader("The quick brown fox jumps over the lazy dog\nthe end\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"brown: 1", "dog: 1", "end: 1", "fox: 1", "jumps: 1",
		"lazy: 1", "over: 1", "quick: 1", "the: 3",
	}, outputSet(out))
}

func TestRunIdentityMap(t *testing.T) {
	out, err := runJob(t, Config{
		Script: `
			var map = (l) => [[l, parseInt(l) * 2]];
			var reduce = (k, vs) => vs[0];
		`,
		Input: strings.NewReader("0\n1\n2\n3\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"0: 0", "1: 2", "2: 4", "3: 6"}, outputSet(out))
}

func TestRunSorted(t *testing.T) {
	cfg := Config{
		Script: `
			function map(l) { return [[l, 0]]; }
			function reduce(k, vs) { return 0; }
			function sort(rs) {
				rs.sort(function(a, b) { return a[0] < b[0] ? 1 : -1; });
				return rs;
			}
		`,
		Input:  strings.NewReader("0\n1\n2\n3\n"),
		Sorted: true,
	}
	out, err := runJob(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, "3: 0\n2: 0\n1: 0\n0: 0\n", out)

	// pure total order on keys means byte-identical reruns
	cfg.Input = strings.NewReader("0\n1\n2\n3\n")
	again, err := runJob(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestRunSortWithoutFlag(t *testing.T) {
	// a defined sort forces buffered mode even without Sorted
	out, err := runJob(t, Config{
		Script: `
			function map(l) { return [[l, 1]]; }
			function reduce(k, vs) { return vs.length; }
			function sort(rs) {
				rs.sort(function(a, b) { return a[0] < b[0] ? -1 : 1; });
				return rs;
			}
		`,
		Input: strings.NewReader("b\na\nc\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "a: 1\nb: 1\nc: 1\n", out)
}

func TestRunSortedWithoutSortFunction(t *testing.T) {
	_, err := runJob(t, Config{
		Script: script.DefaultSource,
		Input:  strings.NewReader("hello\n"),
		Sorted: true,
	})
	assert.ErrorIs(t, err, ErrSortUndefined)
}

func TestRunJSONOutput(t *testing.T) {
	out, err := runJob(t, Config{
		Script: script.DefaultSource,
		Input:  strings.NewReader("hello world hello\n"),
		Format: FormatJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"hello":2}`, `{"world":1}`}, outputSet(out))
}

func TestRunBlankLines(t *testing.T) {
	out, err := runJob(t, Config{
		Script: script.DefaultSource,
		Input:  strings.NewReader("\n\nhello\n\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello: 1"}, outputSet(out))
}

func TestRunEmptyInput(t *testing.T) {
	out, err := runJob(t, Config{
		Script: script.DefaultSource,
		Input:  strings.NewReader(""),
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunPerLineOrderPreserved(t *testing.T) {
	// pair order within one line survives into the group's value list
	out, err := runJob(t, Config{
		Script: `
			function map(l) {
				var out = [];
				var words = l.split(" ");
				for (var i = 0; i < words.length; i++) {
					out.push([words[i], i]);
				}
				return out;
			}
			function reduce(k, vs) { return vs.join("-"); }
		`,
		Input: strings.NewReader("a b a b\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a: 0-2", "b: 1-3"}, outputSet(out))
}

func TestRunStreamingBufferedEquivalence(t *testing.T) {
	const body = `
		function map(l) { return [[l, 1]]; }
		function reduce(k, vs) { return vs.length; }
	`
	input := "c\na\nb\na\nc\nc\n"

	streaming, err := runJob(t, Config{Script: body, Input: strings.NewReader(input)})
	require.NoError(t, err)

	buffered, err := runJob(t, Config{
		Script: body + "\nfunction sort(rs) { return rs; }",
		Input:  strings.NewReader(input),
		Sorted: true,
	})
	require.NoError(t, err)

	assert.Equal(t, outputSet(streaming), outputSet(buffered))
}

func TestRunManyLines(t *testing.T) {
	var in strings.Builder
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&in, "word%d common\n", i%10)
	}
	out, err := runJob(t, Config{
		Script:  script.DefaultSource,
		Input:   strings.NewReader(in.String()),
		Workers: 3,
	})
	require.NoError(t, err)

	set := outputSet(out)
	assert.Len(t, set, 11)
	assert.Contains(t, set, "common: 500")
	assert.Contains(t, set, "word0: 50")
}

func TestRunLoadError(t *testing.T) {
	_, err := runJob(t, Config{
		Script: "function map( {",
		Input:  strings.NewReader("x\n"),
	})
	var loadErr *script.LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestRunMapThrow(t *testing.T) {
	out, err := runJob(t, Config{
		Script: `
			function map(l) { throw new Error("map blew up"); }
			function reduce(k, vs) { return 0; }
		`,
		Input: strings.NewReader("a\nb\nc\n"),
	})
	var rtErr *script.RuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.Contains(t, err.Error(), "map blew up")
	assert.Empty(t, out)
}

func TestRunReduceThrow(t *testing.T) {
	out, err := runJob(t, Config{
		Script: `
			function map(l) { return [["only", 1]]; }
			function reduce(k, vs) { throw new Error("reduce blew up"); }
		`,
		Input: strings.NewReader("a\nb\n"),
	})
	var rtErr *script.RuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.Contains(t, err.Error(), "reduce blew up")
	assert.Empty(t, out)
}

func TestRunMapShapeError(t *testing.T) {
	_, err := runJob(t, Config{
		Script: `
			function map(l) { return "not a list"; }
			function reduce(k, vs) { return 0; }
		`,
		Input: strings.NewReader("x\n"),
	})
	var shapeErr *script.ShapeError
	assert.ErrorAs(t, err, &shapeErr)
}

func TestRunUnsupportedValue(t *testing.T) {
	_, err := runJob(t, Config{
		Script: `
			function map(l) { return [["k", function() {}]]; }
			function reduce(k, vs) { return 0; }
		`,
		Input: strings.NewReader("x\n"),
	})
	var unsupported *script.UnsupportedValueError
	assert.ErrorAs(t, err, &unsupported)
}

func TestRunInputError(t *testing.T) {
	_, err := runJob(t, Config{
		Script: script.DefaultSource,
		Input:  failingReader{err: errors.New("stream torn")},
	})
	var ioErr *InputIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Contains(t, err.Error(), "stream torn")
}

type failingWriter struct {
	err error
}

func (w failingWriter) Write(p []byte) (int, error) {
	return 0, w.err
}

func TestRunOutputError(t *testing.T) {
	err := Run(context.Background(), Config{
		Script:  script.DefaultSource,
		Input:   strings.NewReader("hello\n"),
		Output:  failingWriter{err: errors.New("pipe closed")},
		Workers: 2,
	})
	var ioErr *OutputIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Contains(t, err.Error(), "pipe closed")
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := Run(ctx, Config{
		Script:  script.DefaultSource,
		Input:   strings.NewReader("hello world\nhello\n"),
		Output:  &out,
		Workers: 2,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunKeysUnique(t *testing.T) {
	out, err := runJob(t, Config{
		Script: script.DefaultSource,
		Input:  strings.NewReader("a b a\nb a b\na\n"),
	})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, line := range outputSet(out) {
		key := strings.SplitN(line, ":", 2)[0]
		assert.False(t, seen[key], "key %q emitted twice", key)
		seen[key] = true
	}
	assert.Len(t, seen, 2)
}

func TestTestMode(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		expectOut string
		expectErr string
	}{
		{
			name:      "undefined test passes silently",
			source:    script.DefaultSource,
			expectOut: "",
		},
		{
			name: "passing test prints OK",
			source: script.DefaultSource + `
				function test() {
					var pairs = map("a b a");
					if (pairs.length !== 3) { throw new Error("bad map"); }
					if (reduce("a", [1, 1]) !== 2) { throw new Error("bad reduce"); }
				}
			`,
			expectOut: "OK\n",
		},
		{
			name: "failing test",
			source: script.DefaultSource + `
				function test() { throw new Error("broken invariant"); }
			`,
			expectErr: "broken invariant",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			err := Test(test.source, &out)
			if test.expectErr != "" {
				assert.ErrorContains(t, err, test.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expectOut, out.String())
		})
	}
}

func TestTestModeLoadError(t *testing.T) {
	err := Test("throw new Error('no dice')", &bytes.Buffer{})
	var loadErr *script.LoadError
	assert.ErrorAs(t, err, &loadErr)
}
