// Package logging builds the shared logrus logger from configuration.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options configures the logger.
type Options struct {
	Level string
	// Format is "text" or "json".
	Format string
	// OutputFile appends to a file in addition to stderr when set.
	OutputFile string
}

// New builds a configured logger. Unknown levels fall back to info
// rather than failing startup.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if opts.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.OutputFile), 0o755); err == nil {
			if f, err := os.OpenFile(opts.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				logger.SetOutput(io.MultiWriter(os.Stderr, f))
			}
		}
	}

	return logger
}
