package volgeom

import (
	golog "github.com/cybergarage/go-logger/log"
)

// Logger is a per-session logging sink. This replaces the process-wide
// callback the C reference installs with vol_geom_set_log_callback: a
// session's Logger is supplied once at Open* time and touched only by
// that session, never shared global state.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// defaultLogger forwards to the package-level functions of go-logger's
// log package. The adapter holds no state of its own, but every session
// that uses it writes through that one shared package logger.
type defaultLogger struct{}

func (defaultLogger) Infof(format string, args ...interface{})  { golog.Infof(format, args...) }
func (defaultLogger) Warnf(format string, args ...interface{})  { golog.Warnf(format, args...) }
func (defaultLogger) Errorf(format string, args ...interface{}) { golog.Errorf(format, args...) }

// noopLogger discards everything; used only if a caller explicitly opts
// out with WithLogger(nil) semantics handled in WithLogger.
type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
