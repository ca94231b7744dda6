// Package logging builds the zap loggers used across tpbench.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	Level      string
	File       string
	Timestamps bool
	// Console receives human-readable output. Defaults to stderr.
	Console io.Writer
}

// Logger wraps a zap logger together with the file it may write to.
type Logger struct {
	*zap.Logger
	file *os.File
}

// New builds a logger writing console-encoded entries to opts.Console and,
// when opts.File is set, JSON entries to that file. A file that cannot be
// opened is reported through the console logger and otherwise ignored.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      zapcore.OmitKey,
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	consoleConfig := encoderConfig
	if !opts.Timestamps {
		consoleConfig.TimeKey = zapcore.OmitKey
	}
	consoleConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.Lock(zapcore.AddSync(console)), level),
	}

	var file *os.File
	var fileErr error
	if path := strings.TrimSpace(opts.File); path != "" {
		file, fileErr = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if fileErr == nil {
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(file), level))
		}
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
	if fileErr != nil {
		logger.Warn("log file unavailable, logging to console only", zap.String("path", opts.File), zap.Error(fileErr))
	}
	return &Logger{Logger: logger, file: file}, nil
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	// Sync on a terminal returns EINVAL on some platforms.
	_ = l.Logger.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (use debug, info, warn or error)", name)
	}
}
