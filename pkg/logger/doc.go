// Package logger provides a context-aware wrapper around Go's slog package
// adding functional options for configuration, helper attribute constructors,
// and transparent injection of values stored in context.Context.
//
// New creates a *slog.Logger configured by Option functions: output format
// (text or json), minimum level, default attributes, and ContextExtractor
// callbacks that pull request-scoped values (for example a request ID) into
// every record logged with that context.
//
// Helper constructors such as Error, UserID and EventID keep attribute naming
// consistent across the codebase.
package logger
