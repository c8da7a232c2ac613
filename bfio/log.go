package bfio

import (
	"fmt"
	"strings"
	"time"
)

// ModeFlag is a logging severity.  Messages below the current mode are dropped.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var modeNames = [...]string{"debug", "info", "warning", "error", "critical", "silent"}

func (m ModeFlag) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint(m))
}

// ParseLogMode returns the mode named by s, e.g., "warning".
func ParseLogMode(s string) (ModeFlag, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return ModeFlag(i), nil
		}
	}
	return SilentMode, fmt.Errorf("unknown log mode %q", s)
}

var mode = InfoMode

// Logger receives the reader and writer messages that pass the mode threshold.
// Formats follow fmt.Printf.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	// Shutdown flushes and closes any log file.
	Shutdown()
}

// SetLogMode drops messages below the given severity, so WarningMode keeps
// warnings and anything worse.  SilentMode drops everything.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

// LogMode returns the current threshold.
func LogMode() ModeFlag {
	return mode
}

// emit sends a message of the given severity to l if it passes the threshold.
func emit(l Logger, sev ModeFlag, format string, args []interface{}) {
	if sev < mode {
		return
	}
	switch sev {
	case DebugMode:
		l.Debugf(format, args...)
	case InfoMode:
		l.Infof(format, args...)
	case WarningMode:
		l.Warningf(format, args...)
	case ErrorMode:
		l.Errorf(format, args...)
	case CriticalMode:
		l.Criticalf(format, args...)
	}
}

func Debugf(format string, args ...interface{})    { emit(logger, DebugMode, format, args) }
func Infof(format string, args ...interface{})     { emit(logger, InfoMode, format, args) }
func Warningf(format string, args ...interface{})  { emit(logger, WarningMode, format, args) }
func Errorf(format string, args ...interface{})    { emit(logger, ErrorMode, format, args) }
func Criticalf(format string, args ...interface{}) { emit(logger, CriticalMode, format, args) }

// TimeLog stamps messages with the time since it was made, for timing reads and
// writes:
//
//	timedLog := NewTimeLog()
//	...
//	timedLog.Debugf("read %v from %s", shape, path) // "...: 12.3ms"
type TimeLog struct {
	logger Logger
	start  time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{logger, time.Now()}
}

// Elapsed returns the time since NewTimeLog.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t TimeLog) emit(sev ModeFlag, format string, args []interface{}) {
	emit(t.logger, sev, format+": %s\n", append(args, t.Elapsed()))
}

func (t TimeLog) Debugf(format string, args ...interface{})   { t.emit(DebugMode, format, args) }
func (t TimeLog) Infof(format string, args ...interface{})    { t.emit(InfoMode, format, args) }
func (t TimeLog) Warningf(format string, args ...interface{}) { t.emit(WarningMode, format, args) }
func (t TimeLog) Errorf(format string, args ...interface{})   { t.emit(ErrorMode, format, args) }
