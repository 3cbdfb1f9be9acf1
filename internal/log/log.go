// Package log is the process-wide structured logger.
package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger output.
type Options struct {
	Level      string
	Format     string // "text" or "json"
	File       string // rotated log file, empty for stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var std = logrus.New()

// Init applies opts to the shared logger.
func Init(opts Options) error {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	std.SetLevel(level)

	if opts.Format == "json" {
		std.SetFormatter(&logrus.JSONFormatter{})
	} else {
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stdout
	if opts.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		})
	}
	std.SetOutput(out)
	return nil
}

// Logger returns the underlying logrus logger.
func Logger() *logrus.Logger { return std }

func WithField(key string, value interface{}) *logrus.Entry {
	return std.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return std.WithFields(fields)
}

func Debugf(format string, args ...interface{}) { std.Debugf(format, args...) }
func Infof(format string, args ...interface{}) { std.Infof(format, args...) }
func Warnf(format string, args ...interface{}) { std.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { std.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { std.Fatalf(format, args...) }

func Info(args ...interface{}) { std.Info(args...) }
func Error(args ...interface{}) { std.Error(args...) }
