// Package logging provides a minimal logging interface and adapters for pmcrew.
//
// The Logger interface defines the structured logging methods (Debug, Info,
// Warn, Error) used by the crew runtime, the Notion client and the web shell.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.New(&logging.Config{Level: logging.LogLevelDebug, Format: "text"})
//	client := notion.NewClient(store, func(o *notion.Options) { o.Logger = logger })
package logging
