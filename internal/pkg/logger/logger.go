package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields map[string]interface{}

type Config struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger wraps logrus with variadic key-value logging and helpers for
// service and agent instrumentation.
type Logger struct {
	base *logrus.Logger
}

func New(cfg Config) *Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		base.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	return &Logger{base: base}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{base: base}
}

func (logger *Logger) WithFields(fields Fields) *logrus.Entry {
	return logger.base.WithFields(logrus.Fields(fields))
}

func (logger *Logger) WithError(err error) *logrus.Entry {
	return logger.base.WithError(err)
}

func (logger *Logger) Info(msg string, keysAndValues ...interface{}) {
	logger.base.WithFields(kvToFields(keysAndValues)).Info(msg)
}

func (logger *Logger) Warn(msg string, keysAndValues ...interface{}) {
	logger.base.WithFields(kvToFields(keysAndValues)).Warn(msg)
}

func (logger *Logger) Error(msg string, keysAndValues ...interface{}) {
	logger.base.WithFields(kvToFields(keysAndValues)).Error(msg)
}

func (logger *Logger) Debug(msg string, keysAndValues ...interface{}) {
	logger.base.WithFields(kvToFields(keysAndValues)).Debug(msg)
}

func (logger *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	logger.base.WithFields(kvToFields(keysAndValues)).Fatal(msg)
}

// LogService records one service operation with its duration and outcome.
func (logger *Logger) LogService(service, operation string, duration time.Duration, fields map[string]interface{}, err error) {
	entry := logger.base.WithFields(logrus.Fields{
		"service":     service,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if fields != nil {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	if err != nil {
		entry.WithError(err).Error("Service Operation Failed")
		return
	}
	entry.Debug("Service Operation Completed")
}

// LogAgent records one pipeline agent run event.
func (logger *Logger) LogAgent(agent, runID, event string, duration time.Duration, err error) {
	entry := logger.base.WithFields(logrus.Fields{
		"agent":       agent,
		"run_id":      runID,
		"event":       event,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("Agent Run Event")
		return
	}
	entry.Info("Agent Run Event")
}

func kvToFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
