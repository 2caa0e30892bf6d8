// Package logging provides structured logging using uber/zap.
//
// Two output modes are supported:
//   - Production: JSON lines on stderr for machine parsing
//   - Development: Colored console output for human readability
//
// Logs go to stderr by default so that a backend launched with a stdio
// message transport never mixes log lines into protocol frames.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	moduleLog := logger.Component("module")
//	moduleLog.Info("backend launched", zap.String("module_id", id))
package logging
