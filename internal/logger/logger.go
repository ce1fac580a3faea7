// Package logger tags log lines with a component prefix and filters debug
// output by LOG_LEVEL.
package logger

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

var (
	level  atomic.Int32
	prefix atomic.Value
)

func init() {
	level.Store(int32(LevelInfo))
	prefix.Store("")
}

func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return LevelDebug
	case "error":
		return LevelError
	}
	return LevelInfo
}

func SetLevel(l Level) {
	level.Store(int32(l))
}

// SetPrefix sets the tag for all following lines (e.g. "dashboard").
func SetPrefix(p string) {
	prefix.Store(p)
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func enabled(l Level) bool {
	return Level(level.Load()) <= l
}

func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		log.Print(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
	}
}

func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		log.Print(tag() + fmt.Sprintf(format, v...))
	}
}

func Errorf(format string, v ...any) {
	if enabled(LevelError) {
		log.Print(tag() + "ERROR: " + fmt.Sprintf(format, v...))
	}
}
