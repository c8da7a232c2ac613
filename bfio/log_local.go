package bfio

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

// fileLogger prefixes each message with its severity and writes it through the log
// package.  A nil Logger means stderr.
type fileLogger struct {
	*lumberjack.Logger
}

var logger Logger = fileLogger{}

// LogConfig is the [logging] table of the configuration file.
type LogConfig struct {
	Logfile string
	Level   string // minimum severity, e.g., "warning"
	MaxSize int `toml:"max_log_size"` // megabytes before rotation
	MaxAge  int `toml:"max_log_age"`  // days a rotated file is kept
}

// SetLogger directs messages into the configured file, rotating it by size.  With no
// file configured, messages stay on stderr.  A configured level replaces the current
// log mode.
func (c *LogConfig) SetLogger() {
	if c != nil && c.Level != "" {
		if m, err := ParseLogMode(c.Level); err == nil {
			SetLogMode(m)
		} else {
			Warningf("Ignoring log level: %v\n", err)
		}
	}
	if c == nil || c.Logfile == "" {
		Debugf("No log file configured, logging to stderr\n")
		return
	}
	fmt.Printf("Logging to %s\n", c.Logfile)
	out := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(out)
	logger = fileLogger{out}
}

// SetCustomLogger installs l as the destination of all messages.  A nil l restores
// the stderr logger.
func SetCustomLogger(l Logger) {
	if l == nil {
		l = fileLogger{}
	}
	logger = l
}

// ShutdownLogger closes the log file, if any.
func ShutdownLogger() {
	logger.Shutdown()
}

func (f fileLogger) Debugf(format string, args ...interface{}) {
	log.Printf("[debug] "+format, args...)
}

func (f fileLogger) Infof(format string, args ...interface{}) {
	log.Printf("[info] "+format, args...)
}

func (f fileLogger) Warningf(format string, args ...interface{}) {
	log.Printf("[warning] "+format, args...)
}

func (f fileLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[error] "+format, args...)
}

func (f fileLogger) Criticalf(format string, args ...interface{}) {
	log.Printf("[critical] "+format, args...)
}

func (f fileLogger) Shutdown() {
	if f.Logger == nil {
		return
	}
	log.Printf("[info] closing log file %s\n", f.Filename)
	f.Close()
}
