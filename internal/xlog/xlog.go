// Package xlog provides a small leveled wrapper around the standard
// library logger, selected by the XENON_LOG environment variable.
package xlog

import (
	"log"
	"os"
	"strings"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a leveled logger backed by log.Logger.
type Logger struct {
	level Level
	std   *log.Logger
}

// New creates a Logger reading its level from the XENON_LOG environment
// variable (default "info").
func New() *Logger {
	return &Logger{
		level: parseLevel(os.Getenv("XENON_LOG")),
		std:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) log(level Level, prefix, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.std.Printf(prefix+format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, "DEBUG ", format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, "INFO ", format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, "WARN ", format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, "ERROR ", format, args...) }

// Default is a package-level logger shared by components that don't carry
// their own injected Logger (mirrors the teacher's use of the top-level
// "log" package for incidental operational lines).
var Default = New()
