package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

type contextKey string

const loggerKey contextKey = "logger"

// ParseLevel maps a configured level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a JSON logger with timestamps and caller information writing to w.
func New(level string, w io.Writer) zerolog.Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Setup creates the process logger. When file is set, output is written to
// both stderr and the file; the returned closer releases the file.
func Setup(level, file string) (zerolog.Logger, io.Closer, error) {
	if file == "" {
		return New(level, os.Stderr), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return zerolog.Nop(), nil, errors.Wrap(err, "create log directory")
	}

	fh, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, errors.Wrap(err, "open log file")
	}

	return New(level, zerolog.MultiLevelWriter(os.Stderr, fh)), fh, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// AddToContext stores l in the returned context.
func AddToContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, &l)
}

// FromContext extracts the logger from the context, falling back to a stderr
// logger when none was stored.
func FromContext(ctx context.Context) *zerolog.Logger {
	l, ok := ctx.Value(loggerKey).(*zerolog.Logger)
	if !ok {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		return &fallback
	}
	return l
}
