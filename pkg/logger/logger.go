// Package logger wraps logrus with the scripting subsystem's conventions:
// one *Logger per component, text format by default, JSON for production.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a named wrapper around logrus.Logger.
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls logger construction.
type Config struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// New builds a logger for the given component from cfg.
func New(component string, cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "scriptlayer"
		}
		logDir := "logs"
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			l.Errorf("create log directory: %v", err)
		} else {
			path := filepath.Join(logDir, prefix+".log")
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				l.Errorf("open log file: %v", err)
			} else {
				l.SetOutput(io.MultiWriter(os.Stdout, file))
			}
		}
	default:
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l, component: component}
}

// NewDefault builds a component logger with sane defaults (info, text, stdout).
func NewDefault(component string) *Logger {
	return New(component, Config{Level: "info", Format: "text", Output: "stdout"})
}

// Named returns a child logger for a sub-component, sharing the underlying
// logrus.Logger so level/output configuration stays consistent.
func (l *Logger) Named(sub string) *Logger {
	if l == nil {
		return NewDefault(sub)
	}
	name := sub
	if l.component != "" {
		name = l.component + "." + sub
	}
	return &Logger{Logger: l.Logger, component: name}
}

// WithField returns a log entry tagged with this logger's component plus key.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField("component", l.component).WithField(key, value)
}

// WithFields returns a log entry tagged with this logger's component plus fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields).WithField("component", l.component)
}
