// Package logger provides the leveled, package-level logging surface used by
// the example binaries. It is a thin veneer over logrus: callers keep the
// same Debug/Info/Warn/Error/Fatal/Success call shape, but formatting,
// level filtering, and output are delegated to logrus.
package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var std = logrus.New()

func init() {
	std.SetOutput(os.Stdout)
	std.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	std.SetLevel(logrus.InfoLevel)
}

// SetLevel sets the minimum log level, using logrus's level names
// ("debug", "info", "warn", "error"). An unrecognized name is ignored.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	std.SetLevel(lvl)
}

// ShowTime enables or disables timestamps in log output.
func ShowTime(show bool) {
	std.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    show,
		DisableTimestamp: !show,
		TimestampFormat:  "15:04:05",
	})
}

// Debug logs at debug level.
func Debug(format string, args ...interface{}) {
	std.Debugf(format, args...)
}

// Info logs at info level.
func Info(format string, args ...interface{}) {
	std.Infof(format, args...)
}

// Warn logs at warn level.
func Warn(format string, args ...interface{}) {
	std.Warnf(format, args...)
}

// Error logs at error level.
func Error(format string, args ...interface{}) {
	std.Errorf(format, args...)
}

// Success logs at info level with a "success" field, since logrus has no
// dedicated success level.
func Success(format string, args ...interface{}) {
	std.WithField("result", "success").Infof(format, args...)
}

// Fatal logs at fatal level and exits the process with status 1.
func Fatal(format string, args ...interface{}) {
	std.Fatalf(format, args...)
}

// InfoCyan logs at info level, tagged for highlighted display by
// formatters that support it.
func InfoCyan(format string, args ...interface{}) {
	std.WithField("highlight", true).Infof(format, args...)
}

// Section prints a section header to stdout. It is a display helper for
// the example binaries, not a structured log line.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n╔%s╗\n", border)
	fmt.Printf("║ %-57s ║\n", title)
	fmt.Printf("╚%s╝\n\n", border)
}

// Banner prints the application banner to stdout.
func Banner(title, version string) {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║    ██████╗██████╗ ██╗   ██╗██╗  ██╗                      ║
║   ██╔════╝██╔══██╗██║   ██║╚██╗██╔╝                      ║
║   ██║     ██████╔╝██║   ██║ ╚███╔╝                       ║
║   ██║     ██╔══██╗██║   ██║ ██╔██╗                       ║
║   ╚██████╗██║  ██║╚██████╔╝██╔╝ ██╗                      ║
║    ╚═════╝╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═╝                      ║
║                                                           ║
║              %-37s║
║                    Version %-7s                      ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, title, version)
}
