package obs

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

// InitLogger configures the shared logger. Safe to call more than once; only
// the first call wins, later calls adjust nothing.
func InitLogger(level, format string) {
	l := L()
	switch level {
	case "trace":
		l.SetLevel(logrus.TraceLevel)
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warning", "warn":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
}

// L returns the shared structured logger used across the service.
func L() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
	})
	return logger
}
