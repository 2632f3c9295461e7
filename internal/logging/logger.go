package logging

import (
	"io"
	"os"

	"github.com/thiran-symposium/gateway-api/internal/config"

	"github.com/sirupsen/logrus"
)

const serviceName = "gateway-api"

// New creates a new structured logger
func New(cfg *config.Config) *logrus.Logger {
	return NewWithOutput(cfg, os.Stdout)
}

// NewWithOutput creates a structured logger writing to out
func NewWithOutput(cfg *config.Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	// Set log level
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warn("Invalid log level, defaulting to info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Set output format
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "ts",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "msg",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	logger.AddHook(&defaultFieldsHook{fields: logrus.Fields{
		"service":     serviceName,
		"version":     Version(),
		"environment": cfg.Server.Environment,
	}})

	return logger
}

// Version returns the application version
func Version() string {
	if version := os.Getenv("APP_VERSION"); version != "" {
		return version
	}
	return "dev"
}

// WithSession adds the registration session ID to logger context
func WithSession(logger logrus.FieldLogger, sessionID string) logrus.FieldLogger {
	return logger.WithField("session_id", sessionID)
}

// WithRequest adds request context to logger
func WithRequest(logger logrus.FieldLogger, method, path string, statusCode int, latencyMs float64) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"http": map[string]interface{}{
			"method": method,
			"route":  path,
			"status": statusCode,
		},
		"latency_ms": latencyMs,
	})
}

// defaultFieldsHook stamps every entry with the service fields.
type defaultFieldsHook struct {
	fields logrus.Fields
}

func (h *defaultFieldsHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *defaultFieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, exists := entry.Data[k]; !exists {
			entry.Data[k] = v
		}
	}
	return nil
}
