// Package logging provides structured logging for autobuild runs.
//
// Records are JSON lines written to {dir}/debug.log through a size-based
// [RotatingWriter]. Without a directory, records go to stderr: colored by
// tint on a terminal, JSON otherwise.
//
// Child loggers carry task, turn and phase context:
//
//	log := logger.WithTask("TASK-042").WithPhase("loop")
//	log.WithTurn(3).Info("coach decision", "decision", "feedback", "issues", 2)
//
// [ReadEntries] and [Filter] read a run's debug.log back for the
// `autobuild logs` command.
package logging
