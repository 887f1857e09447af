// Package logging builds the engine's logrus logger, mirroring the
// teacher's own buildLogger helper (cmd/bblfshd/main.go): one place that
// turns the engine's level/file/console config into a ready-to-use
// *logrus.Logger. One formatter serves every output: JSON whenever a log
// file is configured (console output included), text otherwise.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options mirror the LOG_LEVEL/LOG_FILE/LOG_CONSOLE variables of §6.4.
type Options struct {
	Level   string
	File    string
	Console bool
}

// New builds a *logrus.Logger per opts. A malformed level falls back to
// Info rather than failing engine startup over a logging misconfiguration.
func New(opts Options) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	var writers []io.Writer
	if opts.Console || opts.File == "" {
		writers = append(writers, os.Stderr)
	}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			writers = append(writers, f)
		}
	}

	switch len(writers) {
	case 0:
		log.SetOutput(io.Discard)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}

	if opts.File != "" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}

// ForComponent returns a child entry tagged with component=name, the
// pattern the teacher uses throughout daemon/ and cmd/bblfshd to scope log
// lines to their origin.
func ForComponent(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
