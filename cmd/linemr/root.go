package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/linemr/linemr/internal/mapred"
	"github.com/linemr/linemr/internal/script"
)

// version is set at build time via -ldflags.
var version = "0.4.0"

type options struct {
	file    string
	script  string
	sorted  bool
	output  string
	test    bool
	workers int
	verbose bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "linemr",
		Short: "run JavaScript map/reduce jobs over lines of input",
		Long: `linemr reads a byte stream line by line, hands every line to the map
function of a JavaScript program, groups the emitted pairs by key, reduces
each group, and writes one record per key to standard output. Without a
script it counts words.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "read input from `PATH` instead of standard input")
	f.StringVarP(&opts.script, "script", "s", "", "run the script at `PATH` instead of the built-in word count")
	f.BoolVar(&opts.sorted, "sort", false, "buffer all reductions and order them with the script's sort function")
	f.StringVar(&opts.output, "output", "plain", "output encoding, plain or json")
	f.BoolVar(&opts.test, "test", false, "run the script's test function and exit")
	f.IntVar(&opts.workers, "workers", 0, "number of workers, defaults to the number of CPUs")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log stage lifecycle events to stderr")
	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	logger := newLogger(opts.verbose)
	defer logger.Sync()

	format := mapred.Format(opts.output)
	if !format.Valid() {
		return &usageError{err: fmt.Errorf("unknown output format %q", opts.output)}
	}

	source := script.DefaultSource
	if opts.script != "" {
		b, err := os.ReadFile(opts.script)
		if err != nil {
			return &usageError{err: err}
		}
		source = string(b)
	}

	if opts.test {
		return mapred.Test(source, cmd.OutOrStdout())
	}

	input := cmd.InOrStdin()
	if opts.file != "" {
		f, err := os.Open(opts.file)
		if err != nil {
			return &usageError{err: err}
		}
		defer f.Close()
		input = f
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := mapred.Run(ctx, mapred.Config{
		Script:  source,
		Input:   input,
		Output:  cmd.OutOrStdout(),
		Format:  format,
		Sorted:  opts.sorted,
		Workers: opts.workers,
		Logger:  logger,
	})
	if errors.Is(err, mapred.ErrSortUndefined) {
		return &usageError{err: err}
	}
	return err
}

// usageError marks a bad invocation. Like every other failure it exits 1,
// the distinct prefix only aids diagnosis.
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return "usage: " + e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
