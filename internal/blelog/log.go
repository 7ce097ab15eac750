// Package blelog sets up the forwarder's logging backend: syslog when the
// platform has one, a colorized stderr backend otherwise, with the level
// overridable by BLE_FORWARDER_LOG_LEVEL. It is a thin wrapper around
// github.com/op/go-logging, the same library and layout the rest of this
// codebase's ancestry uses for every daemon entry point.
package blelog

import (
	"log/syslog"
	stdlog "log"
	"os"

	"github.com/fatih/color"
	"github.com/op/go-logging"
)

// EnvLogLevel is the environment variable that overrides the default log
// level for every component logger.
const EnvLogLevel = "BLE_FORWARDER_LOG_LEVEL"

var syslogFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} %{module} ▶ %{message}`,
)

var stderrFormat = logging.MustStringFormatter(
	`%{color}ble-forwarder ▶ %{message}%{color:reset}`,
)

var configured bool

// New returns a logger for component, configuring the shared backend on its
// first call and reusing it afterward. component becomes the go-logging
// module name. BLE_FORWARDER_LOG_LEVEL sets one level for every module; it
// is not parsed per component.
func New(component string) *logging.Logger {
	if !configured {
		configureBackend()
		configured = true
	}
	return logging.MustGetLogger(component)
}

func configureBackend() {
	backend := trySyslogBackend()
	if backend == nil {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
		logging.SetFormatter(stderrFormat)
	}

	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(levelFromEnv(), "")
	logging.SetBackend(leveled)
}

func trySyslogBackend() logging.Backend {
	backend, err := logging.NewSyslogBackendPriority("ble-forwarder", syslog.LOG_NOTICE)
	if err != nil {
		return nil
	}
	logging.SetFormatter(syslogFormat)
	if syslogBackend, ok := backend.(*logging.SyslogBackend); ok {
		stdlog.SetOutput(syslogBackend.Writer)
	}
	return backend
}

func levelFromEnv() logging.Level {
	switch os.Getenv(EnvLogLevel) {
	case "CRITICAL":
		return logging.CRITICAL
	case "ERROR":
		return logging.ERROR
	case "WARNING":
		return logging.WARNING
	case "NOTICE":
		return logging.NOTICE
	case "DEBUG":
		return logging.DEBUG
	case "INFO":
		return logging.INFO
	default:
		return logging.INFO
	}
}

// Yellow, Red, and Green match the teacher's util.go color helpers, used by
// the forwarder loop to highlight connect/disconnect lines on an
// interactive stderr without pulling color.New into every caller.
func Yellow(s string) string { return colorize(color.FgHiYellow, s) }
func Red(s string) string    { return colorize(color.FgHiRed, s) }
func Green(s string) string  { return colorize(color.FgHiGreen, s) }

func colorize(attr color.Attribute, s string) string {
	c := color.New(attr)
	c.EnableColor()
	return c.SprintFunc()(s)
}
