// Package common provides centralized logging and content-hashing
// infrastructure for the Dust execution engine. The logging side implements
// intelligent log output routing that automatically directs error messages to
// stderr while sending other log levels to stdout, enabling proper stream
// separation for containerized and scripted environments.
//
// The logging system is built on logrus for structured logging capabilities
// with custom output handling that supports both development workflows and
// production deployment patterns.
//
// Output Routing Strategy:
//
//	Error-level messages are directed to stderr (for immediate attention and
//	error handling) while info, debug, and warning messages go to stdout (for
//	general log processing).
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter implements log output routing based on log content analysis.
// The splitter examines each formatted log line and directs it to the
// appropriate output stream (stdout vs stderr) based on its severity level.
//
// Routing Logic:
//   - Error messages (containing "level=error") → stderr
//   - All other messages (info, debug, warn) → stdout
//
// It operates on the final formatted output and matches the text
// formatter's "level=error" field. The JSON formatter writes
// "level":"error" instead, so with it every line goes to stdout.
type OutputSplitter struct{}

// Write implements the io.Writer interface for the OutputSplitter.
// It searches for the literal string "level=error" which logrus produces
// when formatting error-level entries, and routes matching lines to stderr.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance for the engine. It is pre-configured
// with the OutputSplitter for stream separation and serves as the central
// logging facility for the CLI, the run engine, the store, and the API server.
//
// Structured usage:
//
//	common.Logger.WithFields(logrus.Fields{
//	    "run_id": runID,
//	    "block":  blockName,
//	}).Info("block executed")
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
