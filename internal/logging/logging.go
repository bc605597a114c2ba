// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where logs go and how much is written.
type Options struct {
	Level string
	// File, when set, receives logs instead of stderr and is rotated.
	File       string
	MaxSizeMB  int
	MaxBackups int
	JSON       bool
}

// Setup applies opts to the standard logger. The returned closer flushes
// and closes the log file, if any.
func Setup(opts Options) (io.Closer, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = log.ParseLevel(opts.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}
	log.SetLevel(level)

	if opts.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if opts.File == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	log.SetOutput(lj)
	return lj, nil
}
