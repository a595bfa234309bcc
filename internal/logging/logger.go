// Package logging builds the structured logger shared by the command and the
// pipeline. It is configured from the environment:
//
//	CLASSMORPH_LOG_LEVEL    debug, info, warn, error (default: info)
//	CLASSMORPH_LOG_TO_FILE  when "1", log to a timestamped file instead of stderr
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and closes its file, if any.
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable.
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps a level name to a log level, defaulting to info.
func ParseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	}
	return log.InfoLevel
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "classmorph",
	})
	lg.SetLevel(ParseLevel(os.Getenv("CLASSMORPH_LOG_LEVEL")))

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		closer = c
	}
	return &LoggerCloser{Logger: lg, closer: closer}
}

// NewLogger creates a logger from the environment.
func NewLogger() *LoggerCloser {
	output := io.Writer(os.Stderr)
	if os.Getenv("CLASSMORPH_LOG_TO_FILE") == "1" {
		name := fmt.Sprintf("classmorph-%s.log", time.Now().Format("20060102-150405"))
		// Fall back to stderr when the file cannot be created.
		if f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644); err == nil {
			output = f
		}
	}
	return NewLoggerWithWriter(output)
}

// Discard returns a logger that drops everything, for tests and library
// callers that pass none.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
