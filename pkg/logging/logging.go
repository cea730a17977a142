// Package logging configures the logrus standard logger for commands.
package logging

import (
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Init sets the level and formatter of the standard logger. format is
// "json" or "text"; anything else falls back to text.
func Init(w io.Writer, level, format string) {
	log.SetOutput(w)
	log.SetLevel(ParseLevel(level))
	log.SetReportCaller(false)
	log.SetFormatter(NewFormatter(format))
}

// NewFormatter returns the formatter for format.
func NewFormatter(format string) log.Formatter {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return &log.JSONFormatter{}
	}
	return &log.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	}
}

// ParseLevel converts a string log level to a logrus level.
// Defaults to InfoLevel for unrecognized strings.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
