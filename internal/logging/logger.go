package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/filehub/filehub/internal/config"
)

var jsonFormatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}

// InitLogger returns a JSON logger at cfg.LogLevel writing to stdout or to a
// rotated cfg.LogFilePath. An unusable log file downgrades to stdout with a
// logger_fallback warning; only a bad level is an error. The package-level
// logrus logger is configured the same way.
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}

	out, fallbackErr := openSink(cfg)

	logger := &logrus.Logger{
		Out:       out,
		Formatter: jsonFormatter,
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
		ExitFunc:  os.Exit,
	}
	std := logrus.StandardLogger()
	std.SetOutput(out)
	std.SetFormatter(jsonFormatter)
	std.SetLevel(level)

	if fallbackErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", fallbackErr)
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(fallbackErr.Error())
	}
	return logger, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// openSink picks the log destination. A file sink is probed once so that
// permission problems surface at startup rather than on the first write.
func openSink(cfg config.GlobalConfig) (io.Writer, error) {
	path := cfg.LogFilePath
	if path == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("create log directory: %w", err)
	}
	probe, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout, fmt.Errorf("open log file: %w", err)
	}
	probe.Close()

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}
