// internal/infra/logger/logger.go
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// SeverityField marks entries that operators must act on. logrus has no
// level between Error and Fatal, so critical entries are Error entries
// carrying SeverityField=SeverityCritical.
const (
	SeverityField    = "severity"
	SeverityCritical = "critical"
)

// Log is the global logger instance
var Log = logrus.New()

// Init configures the global logger for the given level and environment.
func Init(level, environment string) {
	Configure(Log, os.Stdout, level, environment)

	Log.Info("Logger initialized successfully.")
	Log.Debugf("Log level set to: %s", Log.GetLevel().String())
	Log.Debugf("Log format set for environment: %s", environment)
}

// Configure applies level and formatter to l.
func Configure(l *logrus.Logger, out io.Writer, level, environment string) {
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		l.Warnf("Invalid log level '%s', defaulting to 'info'. Error: %v", level, err)
		l.SetLevel(logrus.InfoLevel)
	} else {
		l.SetLevel(lvl)
	}

	env := strings.ToLower(environment)
	if env == "production" || env == "staging" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00", // ISO8601
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
}

// Get returns the configured global logger.
func Get() *logrus.Logger {
	return Log
}

// Critical returns e marked as critical. Log it at Error level.
func Critical(e *logrus.Entry) *logrus.Entry {
	return e.WithField(SeverityField, SeverityCritical)
}

// IsCritical reports whether e was marked with Critical.
func IsCritical(e *logrus.Entry) bool {
	v, ok := e.Data[SeverityField]
	return ok && v == SeverityCritical
}
