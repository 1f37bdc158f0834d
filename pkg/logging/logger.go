package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
// LOG_FORMAT=color selects ColoredJSONFormatter, anything else JSON.
func NewLogger() *logrus.Logger {
	log := logrus.New()

	if os.Getenv("LOG_FORMAT") == "color" {
		log.SetFormatter(NewColoredJSONFormatter())
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.WithFields(logrus.Fields{
			"attempted_level": logLevel,
			"default_level":   "INFO",
		}).Warn("Invalid log level specified, defaulting to INFO")
	}

	return log
}
