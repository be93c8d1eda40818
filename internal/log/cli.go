package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// CLI is a logrus logger for operator-facing output. Unlike the slog-based
// daemon logger, output always goes to stderr in a human-readable form.
// cmd/ and internal/command do not call it: cmd/ prints with fmt and
// internal/command logs requests through slog.
var CLI = newCLILogger()

func newCLILogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetCLILevel adjusts the CLI logger's verbosity, e.g. from a --verbose flag.
func SetCLILevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	CLI.SetLevel(parsed)
}
