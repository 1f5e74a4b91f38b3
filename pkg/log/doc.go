// Package log provides structured logging via zerolog: a global logger
// initialized once at startup plus helpers for component-scoped child
// loggers. Console output is the default; JSON is a config switch.
package log
