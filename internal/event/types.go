package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier, e.g. "turn.completed".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeRunStarted        = "run.started"
	TypeRunFinished       = "run.finished"
	TypeTurnStarted       = "turn.started"
	TypeTurnCompleted     = "turn.completed"
	TypeCheckpointCreated = "checkpoint.created"
	TypeRolledBack        = "checkpoint.rollback"
	TypeStallDetected     = "loop.stalled"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
	TaskID    string
	RunID     string
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }
func (e baseEvent) taskRef() string      { return e.TaskID }

func newBaseEvent(eventType, runID, taskID string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
		TaskID:    taskID,
		RunID:     runID,
	}
}

// RunStartedEvent is emitted once the workspace is acquired and the turn
// budget is fixed.
type RunStartedEvent struct {
	baseEvent
	Workspace string
	MaxTurns  int
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(runID, taskID, workspace string, maxTurns int) RunStartedEvent {
	return RunStartedEvent{
		baseEvent: newBaseEvent(TypeRunStarted, runID, taskID),
		Workspace: workspace,
		MaxTurns:  maxTurns,
	}
}

// TurnStartedEvent is emitted before the Player is invoked.
type TurnStartedEvent struct {
	baseEvent
	Turn int
}

// NewTurnStartedEvent creates a TurnStartedEvent.
func NewTurnStartedEvent(runID, taskID string, turn int) TurnStartedEvent {
	return TurnStartedEvent{
		baseEvent: newBaseEvent(TypeTurnStarted, runID, taskID),
		Turn:      turn,
	}
}

// TurnCompletedEvent is emitted when a turn is closed.
type TurnCompletedEvent struct {
	baseEvent
	Turn int
	// Status is the closed turn status: success, feedback or error.
	Status      string
	Decision    string
	CriteriaMet int
	Synthetic   bool
	Duration    time.Duration
}

// NewTurnCompletedEvent creates a TurnCompletedEvent.
func NewTurnCompletedEvent(runID, taskID string, turn int, status, decision string, criteriaMet int, synthetic bool, d time.Duration) TurnCompletedEvent {
	return TurnCompletedEvent{
		baseEvent:   newBaseEvent(TypeTurnCompleted, runID, taskID),
		Turn:        turn,
		Status:      status,
		Decision:    decision,
		CriteriaMet: criteriaMet,
		Synthetic:   synthetic,
		Duration:    d,
	}
}

// CheckpointCreatedEvent is emitted after a turn's workspace is committed.
type CheckpointCreatedEvent struct {
	baseEvent
	Turn        int
	Revision    string
	TestsPassed bool
}

// NewCheckpointCreatedEvent creates a CheckpointCreatedEvent.
func NewCheckpointCreatedEvent(runID, taskID string, turn int, revision string, testsPassed bool) CheckpointCreatedEvent {
	return CheckpointCreatedEvent{
		baseEvent:   newBaseEvent(TypeCheckpointCreated, runID, taskID),
		Turn:        turn,
		Revision:    revision,
		TestsPassed: testsPassed,
	}
}

// RolledBackEvent is emitted when the workspace is reset to an earlier
// passing checkpoint.
type RolledBackEvent struct {
	baseEvent
	// FromTurn is the turn that triggered the rollback, ToTurn the restored one.
	FromTurn int
	ToTurn   int
	Revision string
}

// NewRolledBackEvent creates a RolledBackEvent.
func NewRolledBackEvent(runID, taskID string, fromTurn, toTurn int, revision string) RolledBackEvent {
	return RolledBackEvent{
		baseEvent: newBaseEvent(TypeRolledBack, runID, taskID),
		FromTurn:  fromTurn,
		ToTurn:    toTurn,
		Revision:  revision,
	}
}

// Stall triggers.
const (
	StallNoPassingCheckpoint = "no_passing_checkpoint"
	StallRepeatedFeedback    = "repeated_feedback"
)

// StallDetectedEvent is emitted when the loop ends early as stalled.
type StallDetectedEvent struct {
	baseEvent
	Turn    int
	Trigger string
	Reason  string
}

// NewStallDetectedEvent creates a StallDetectedEvent.
func NewStallDetectedEvent(runID, taskID string, turn int, trigger, reason string) StallDetectedEvent {
	return StallDetectedEvent{
		baseEvent: newBaseEvent(TypeStallDetected, runID, taskID),
		Turn:      turn,
		Trigger:   trigger,
		Reason:    reason,
	}
}

// RunFinishedEvent is emitted after the result is finalized.
type RunFinishedEvent struct {
	baseEvent
	Success       bool
	FinalDecision string
	TotalTurns    int
	RollbackCount int
	Duration      time.Duration
}

// NewRunFinishedEvent creates a RunFinishedEvent.
func NewRunFinishedEvent(runID, taskID string, success bool, finalDecision string, totalTurns, rollbacks int, d time.Duration) RunFinishedEvent {
	return RunFinishedEvent{
		baseEvent:     newBaseEvent(TypeRunFinished, runID, taskID),
		Success:       success,
		FinalDecision: finalDecision,
		TotalTurns:    totalTurns,
		RollbackCount: rollbacks,
		Duration:      d,
	}
}
