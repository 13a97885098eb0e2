/*
Package log provides structured logging via zerolog: a package-level
global Logger, Init(Config) to set level/format/output once at
startup, and context-logger helpers (WithComponent, WithReplica,
WithTaskID) for attaching stable fields to a chain of calls without
threading a logger through every signature.

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("engine starting")

	taskLog := log.WithTaskID(task.ID)
	taskLog.Info().Str("status", string(task.Status)).Msg("phase transition")

JSONOutput controls JSON vs. human-readable console output; Output
defaults to os.Stdout when nil.
*/
package log
