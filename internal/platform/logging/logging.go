// Package logging configures the structured logger shared by the dm service.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logrus logger configured from LOG_LEVEL and LOG_FORMAT.
//
// LOG_LEVEL defaults to "info". LOG_FORMAT selects "json" for machine
// ingestion; anything else keeps the human-readable text formatter.
func New() *logrus.Logger {
	return newWithOutput(os.Stdout)
}

func newWithOutput(out io.Writer) *logrus.Logger {
	logger := logrus.New()

	levelName, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		levelName = "info"
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logger.SetOutput(out)
	return logger
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
