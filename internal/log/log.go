// Package log configures the process-wide logrus logger.
package log

import (
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SetLogger sets the standard logger's level and format. Unknown levels fall
// back to info; format "json" selects the JSON formatter, anything else the
// text formatter.
func SetLogger(level, format string) {
	logrus.SetLevel(ParseLevel(level))
	logrus.SetFormatter(newFormatter(format))
}

// New returns a dedicated logger writing to out, configured like SetLogger.
func New(out io.Writer, level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(ParseLevel(level))
	logger.SetFormatter(newFormatter(format))
	return logger
}

// ParseLevel maps a level name to a logrus level, falling back to info for
// names logrus does not know.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339}
	}
	return &logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	}
}

// ConnFields returns the fields attached to every log line of a connection.
func ConnFields(connID uuid.UUID, remoteAddr string) logrus.Fields {
	return logrus.Fields{
		"conn_id":     connID.String(),
		"remote_addr": remoteAddr,
	}
}
