package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	zl zerolog.Logger
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		output = file
	}

	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: cfg.TimeFormat}
	}

	zl := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(3).
		Logger()

	return &Logger{zl: zl}, nil
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger carrying the given fields on every entry.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = f.addToContext(ctx)
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Info(msg string, fields ...Field)  { emit(l.zl.Info(), msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { emit(l.zl.Error(), msg, fields) }
func (l *Logger) Debug(msg string, fields ...Field) { emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { emit(l.zl.Warn(), msg, fields) }

func emit(event *zerolog.Event, msg string, fields []Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		f.AddTo(event)
	}
	event.Msg(msg)
}

// Field is a typed key/value attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
	kind  fieldKind
}

type fieldKind uint8

const (
	kindAny fieldKind = iota
	kindString
	kindInt64
	kindFloat
	kindBool
	kindError
	kindTime
	kindDuration
)

func (f Field) AddTo(event *zerolog.Event) {
	switch f.kind {
	case kindString:
		event.Str(f.Key, f.Value.(string))
	case kindInt64:
		event.Int64(f.Key, f.Value.(int64))
	case kindFloat:
		event.Float64(f.Key, f.Value.(float64))
	case kindBool:
		event.Bool(f.Key, f.Value.(bool))
	case kindError:
		if err, ok := f.Value.(error); ok && err != nil {
			event.Err(err)
		}
	case kindTime:
		event.Time(f.Key, f.Value.(time.Time))
	case kindDuration:
		event.Dur(f.Key, f.Value.(time.Duration))
	default:
		event.Interface(f.Key, f.Value)
	}
}

func (f Field) addToContext(ctx zerolog.Context) zerolog.Context {
	switch f.kind {
	case kindString:
		return ctx.Str(f.Key, f.Value.(string))
	case kindInt64:
		return ctx.Int64(f.Key, f.Value.(int64))
	default:
		return ctx.Interface(f.Key, f.Value)
	}
}

// --- Field constructors ---

func String(key, value string) Field  { return Field{Key: key, Value: value, kind: kindString} }
func Int(key string, value int) Field { return Field{Key: key, Value: int64(value), kind: kindInt64} }
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value, kind: kindInt64}
}
func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: int64(value), kind: kindInt64}
}
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value, kind: kindFloat}
}
func Bool(key string, value bool) Field       { return Field{Key: key, Value: value, kind: kindBool} }
func Error(err error) Field                   { return Field{Key: "error", Value: err, kind: kindError} }
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value, kind: kindTime}
}
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value, kind: kindDuration}
}
func Strings(key string, value []string) Field { return String(key, strings.Join(value, ", ")) }
