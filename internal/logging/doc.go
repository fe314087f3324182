// Package logging provides a small leveled logger for the image analyzer.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//
// A Logger is a value constructed once at startup and handed to every
// component that logs. The level is read from the LOG_LEVEL or DEBUG
// environment variables by LevelFromEnv, or parsed from a flag by
// ParseLevel.
package logging
