// Package log provides structured logging for the station process using
// zerolog. It wraps a single global logger with component/station/object
// child-logger helpers and a five-level severity vocabulary (debug, info,
// warning, error, critical) shared with the object runtime's self-logger.
package log
