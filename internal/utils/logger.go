// internal/utils/logger.go
package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// InitLogger configures the global logrus logger: JSON in production, text
// elsewhere. An unknown level falls back to info.
func InitLogger(environment, level string) {
	if environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
