// Package logging builds the zap loggers used across the store.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

type Format string

const (
	DebugLevel Level = "DEBUG"
	InfoLevel  Level = "INFO"
	WarnLevel  Level = "WARN"
	ErrorLevel Level = "ERROR"

	FormatConsole Format = "CONSOLE"
	FormatJSON    Format = "JSON"
)

// Component names, used as logger names.
const (
	ComponentCoordinator = "coordinator"
	ComponentContext     = "context"
	ComponentEngine      = "engine"
	ComponentCLI         = "storectl"
)

type Config struct {
	Level  Level  `yaml:"level"`
	Format Format `yaml:"format"`
}

// DefaultConfig is INFO in console format, overridden by LOGGING_LEVEL and
// LOGGING_FORMAT.
func DefaultConfig() Config {
	return Config{Level: InfoLevel, Format: FormatConsole}.WithEnv()
}

func (c Config) WithEnv() Config {
	if level, ok := os.LookupEnv("LOGGING_LEVEL"); ok && level != "" {
		c.Level = Level(strings.ToUpper(level))
	}
	if format, ok := os.LookupEnv("LOGGING_FORMAT"); ok && format != "" {
		c.Format = Format(strings.ToUpper(format))
	}
	return c
}

func zapLevel(level Level) zapcore.Level {
	switch Level(strings.ToUpper(string(level))) {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New returns a logger writing to stderr.
func New(cfg Config) *zap.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

func NewWithWriter(cfg Config, w io.Writer) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if Format(strings.ToUpper(string(cfg.Format))) == FormatJSON {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zap.NewAtomicLevelAt(zapLevel(cfg.Level)))
	return zap.New(core, zap.AddCaller())
}

// For names logger after component, a nil logger gives a no-op one.
func For(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(component)
}
