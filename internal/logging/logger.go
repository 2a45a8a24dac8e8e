package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Console styles understood by Writer.
const (
	StylePretty = "pretty"
	StyleJSON   = "json"
	StyleAuto   = "auto"
)

// Logger wraps zerolog to provide subsystem-scoped child loggers.
type Logger struct {
	zl zerolog.Logger
}

// New creates a root logger writing to w at the given level. A nil w
// picks a stderr writer with Writer(StyleAuto).
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = Writer(StyleAuto)
	}
	zl := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Options describe a process logger.
type Options struct {
	Level string
	Style string
	// File, when set, also receives every event as a JSON line.
	File string
}

// Open builds the process logger for opts. The returned close function
// releases the log file, if any.
func Open(opts Options) (*Logger, func() error, error) {
	w := Writer(opts.Style)
	if opts.File == "" {
		return New(w, opts.Level), func() error { return nil }, nil
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return New(zerolog.MultiLevelWriter(w, f), opts.Level), f.Close, nil
}

// Writer returns the stderr writer for a console style. "auto" renders
// human-readable output on a terminal and JSON lines everywhere else.
func Writer(style string) io.Writer {
	pretty := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	switch style {
	case StyleJSON:
		return os.Stderr
	case StylePretty:
		return pretty
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return pretty
	}
	return os.Stderr
}

// Sub returns a child logger tagged with a subsystem name.
func (l *Logger) Sub(subsystem string) *Logger {
	return l.With("subsystem", subsystem)
}

// With returns a child logger carrying an extra string field on every event.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// parseLevel maps a config level name to zerolog. Unknown names fall back
// to info.
func parseLevel(s string) zerolog.Level {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "silent", "off":
		return zerolog.Disabled
	case "warning":
		return zerolog.WarnLevel
	case "":
		return zerolog.InfoLevel
	}
	lv, err := zerolog.ParseLevel(s)
	if err != nil || lv == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lv
}
