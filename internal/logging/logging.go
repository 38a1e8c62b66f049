// Package logging builds the process logger: human-readable text on stderr
// fanned out with a JSON stream appended to the log file, so interactive
// runs stay readable while scheduled runs keep a machine-parseable record.
package logging

import (
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

const logFilePerm = 0o640

// Options select verbosity and the log file destination.
type Options struct {
	// Verbose lowers the stderr level to debug.
	Verbose bool
	// Quiet raises the stderr level to warn. Verbose wins when both are set.
	Quiet bool
	// File is the JSON log destination. Empty disables the file stream.
	File string
}

// Setup builds the logger. The returned close function flushes and closes
// the log file; call it once the run is finished.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo

	switch {
	case opts.Verbose:
		level = slog.LevelDebug
	case opts.Quiet:
		level = slog.LevelWarn
	}

	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	if opts.File == "" {
		return slog.New(stderrHandler), func() error { return nil }, nil
	}

	file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", opts.File, err)
	}

	// The file stream always records debug: it is the forensic record for
	// scheduled runs, independent of console verbosity.
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(slogmulti.Fanout(stderrHandler, fileHandler))

	return logger, file.Close, nil
}
