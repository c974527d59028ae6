// Package common provides the shared logging infrastructure for the KAOS
// collector fleet. It exposes a single process-wide logrus logger whose
// output is split by severity: error-level lines go to stderr while info,
// debug and warning lines go to stdout, so container platforms and shell
// supervisors can treat the two streams differently.
//
// The logger is initialized on import and only configured once more at
// startup (level selection); afterwards it is read-only and safe for
// concurrent use from every collector goroutine. Logrus serializes writes
// internally, so individual log lines are never interleaved.
package common

import (
	"bytes"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stderr or stdout based on
// their level marker. It operates on the final formatted output, so it works
// with both the text and JSON formatters.
type OutputSplitter struct{}

// Write implements io.Writer. Lines containing "level=error" go to stderr,
// everything else to stdout.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance shared by all packages.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
	Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	Logger.SetLevel(logrus.InfoLevel)
}

// SetLevel configures the global log level from its textual form
// (debug, info, warn, error). Unknown values fall back to info.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		Logger.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		Logger.SetLevel(logrus.WarnLevel)
	case "error":
		Logger.SetLevel(logrus.ErrorLevel)
	default:
		Logger.SetLevel(logrus.InfoLevel)
	}
}
