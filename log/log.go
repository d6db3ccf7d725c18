package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Level represents a log severity threshold.
type Level string

const (
	// LevelError logs errors only.
	LevelError Level = "error"
	// LevelWarn logs warnings and errors.
	LevelWarn Level = "warn"
	// LevelInfo logs informational messages and above.
	LevelInfo Level = "info"
	// LevelDebug logs everything.
	LevelDebug Level = "debug"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs as JSON objects.
	FormatJSON Format = "json"
	// FormatLogfmt outputs logs in logfmt format.
	FormatLogfmt Format = "logfmt"
	// FormatText outputs logs in a human-readable text format.
	FormatText Format = "text"
)

var (
	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownLogLevel indicates an unrecognized log level string.
	ErrUnknownLogLevel = errors.New("unknown log level")
	// ErrUnknownLogFormat indicates an unrecognized log format string.
	ErrUnknownLogFormat = errors.New("unknown log format")
)

// Handler is the constructed [slog.Handler].
type Handler = slog.Handler

// NewHandler creates a [Handler] with the specified level and format.
func NewHandler(w io.Writer, level Level, format Format) Handler {
	opts := &slog.HandlerOptions{Level: level.Slog()}

	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, opts)

	case FormatLogfmt, FormatText:
		return slog.NewTextHandler(w, opts)
	}

	return nil
}

// NewHandlerFromStrings creates a [Handler] from level and format
// strings, as taken from flags or the environment.
func NewHandlerFromStrings(w io.Writer, level, format string) (Handler, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	fmt_, err := ParseFormat(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return NewHandler(w, lvl, fmt_), nil
}

// ParseLevel parses a log level string.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}

	return "", ErrUnknownLogLevel
}

// ParseFormat parses a log format string.
func ParseFormat(format string) (Format, error) {
	switch strings.ToLower(format) {
	case "json":
		return FormatJSON, nil
	case "logfmt":
		return FormatLogfmt, nil
	case "text":
		return FormatText, nil
	}

	return "", ErrUnknownLogFormat
}

// Slog returns the [slog.Level] for this Level. Unknown levels map to
// [slog.LevelInfo].
func (l Level) Slog() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	}

	return slog.LevelInfo
}

// GetAllLevelStrings returns all valid level strings.
func GetAllLevelStrings() []string {
	return []string{
		string(LevelError), string(LevelWarn),
		string(LevelInfo), string(LevelDebug),
	}
}

// GetAllFormatStrings returns all valid format strings.
func GetAllFormatStrings() []string {
	return []string{
		string(FormatJSON), string(FormatLogfmt), string(FormatText),
	}
}
