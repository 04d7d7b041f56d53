// Package errors provides the error taxonomy shared by the autobuild engine,
// its checkpoint layer, the Coach validator and the artifact store.
//
// # Error Types
//
// Domain errors describe a failure in one subsystem and carry structured
// context instead of free-text detail:
//   - ActorInvocationError: a Player or Coach invocation failed or timed out
//   - ArtifactError: a turn report was missing or malformed
//   - QualityGateBlockedError: a pre-loop gate rejected the task
//   - CheckpointError: a checkpoint create/rollback operation failed
//   - EnvironmentError: the run cannot proceed (workspace, artifact dir)
//   - GitError: a git command failed
//
// Semantic errors describe common conditions:
//   - NotFoundError, ValidationError, TimeoutError
//
// # Propagation
//
// Per-turn failures (actor, artifact, checkpoint) are absorbed into the turn
// history by the engine. Only EnvironmentError escapes Orchestrate.
//
//	if errors.IsTurnRecoverable(err) { ... }
//
//	var artErr *errors.ArtifactError
//	if errors.As(err, &artErr) && artErr.Kind == errors.ArtifactMissing { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Actor-related sentinel errors
var (
	// ErrActorTimeout indicates that a Player or Coach invocation exceeded its timeout.
	ErrActorTimeout = New("actor invocation timed out")
	// ErrActorFailed indicates that the actor transport reported a failure.
	ErrActorFailed = New("actor invocation failed")
)

// Artifact-related sentinel errors
var (
	// ErrArtifactMissing indicates that an expected report file does not exist.
	ErrArtifactMissing = New("artifact not found")
	// ErrArtifactInvalid indicates that a report file exists but cannot be decoded.
	ErrArtifactInvalid = New("artifact is invalid")
)

// Loop-related sentinel errors
var (
	// ErrQualityGateBlocked indicates that a pre-loop gate rejected the task.
	ErrQualityGateBlocked = New("quality gate blocked")
	// ErrNoCheckpoints indicates that no checkpoint has been recorded yet.
	ErrNoCheckpoints = New("no checkpoints recorded")
	// ErrWorkspaceUnavailable indicates that an isolated workspace could not be acquired.
	ErrWorkspaceUnavailable = New("workspace unavailable")
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrWorktreeNotFound indicates that a worktree could not be found.
	ErrWorktreeNotFound = New("worktree not found")
	// ErrWorktreeExists indicates that a worktree already exists.
	ErrWorktreeExists = New("worktree already exists")
	// ErrBranchNotFound indicates that a branch could not be found.
	ErrBranchNotFound = New("branch not found")
	// ErrTaskLocked indicates that another process is running the task.
	ErrTaskLocked = New("task is locked by another process")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// AutobuildError is the base interface for all errors defined in this package.
type AutobuildError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the message is safe to display to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// ActorInvocationError reports a failed or timed-out Player/Coach invocation.
// The engine never retries it; the turn is recorded as an error instead.
//
// Example:
//
//	err := errors.NewActorInvocationError("player", 2, ctx.Err()).WithTimedOut(true)
//	fmt.Println(err) // "actor error [role=player, turn=2, timed_out]: invocation failed: context deadline exceeded"
type ActorInvocationError struct {
	baseError
	Role     string
	Turn     int
	TimedOut bool
}

// NewActorInvocationError creates a new ActorInvocationError.
func NewActorInvocationError(role string, turn int, cause error) *ActorInvocationError {
	return &ActorInvocationError{
		baseError: baseError{
			message:    "invocation failed",
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Role: role,
		Turn: turn,
	}
}

// WithTimedOut marks the invocation as having exceeded its deadline.
func (e *ActorInvocationError) WithTimedOut(timedOut bool) *ActorInvocationError {
	e.TimedOut = timedOut
	return e
}

// WithMessage replaces the default message.
func (e *ActorInvocationError) WithMessage(msg string) *ActorInvocationError {
	e.message = msg
	return e
}

// Error returns the formatted error message.
func (e *ActorInvocationError) Error() string {
	var parts []string
	if e.Role != "" {
		parts = append(parts, fmt.Sprintf("role=%s", e.Role))
	}
	if e.Turn > 0 {
		parts = append(parts, fmt.Sprintf("turn=%d", e.Turn))
	}
	if e.TimedOut {
		parts = append(parts, "timed_out")
	}
	return e.format("actor error", parts)
}

// Is checks if this error matches the target.
func (e *ActorInvocationError) Is(target error) bool {
	if _, ok := target.(*ActorInvocationError); ok {
		return true
	}
	if e.TimedOut && (target == ErrActorTimeout || target == ErrTimeout) {
		return true
	}
	if target == ErrActorFailed {
		return true
	}
	return e.baseError.Is(target)
}

// ArtifactKind distinguishes a missing report from a malformed one.
type ArtifactKind string

const (
	ArtifactMissing ArtifactKind = "missing"
	ArtifactInvalid ArtifactKind = "invalid"
)

// ArtifactError reports a failed artifact read. Missing artifacts are
// recovered by synthetic reconstruction; invalid ones become turn errors.
type ArtifactError struct {
	baseError
	Kind   ArtifactKind
	Path   string
	TaskID string
	Turn   int
}

// NewArtifactError creates a new ArtifactError.
func NewArtifactError(kind ArtifactKind, path string, cause error) *ArtifactError {
	msg := "artifact not found"
	if kind == ArtifactInvalid {
		msg = "artifact could not be decoded"
	}
	return &ArtifactError{
		baseError: baseError{
			message:    msg,
			cause:      cause,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Kind: kind,
		Path: path,
	}
}

// WithTask adds the task id and turn to the error context.
func (e *ArtifactError) WithTask(taskID string, turn int) *ArtifactError {
	e.TaskID = taskID
	e.Turn = turn
	return e
}

// Error returns the formatted error message.
func (e *ArtifactError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Turn > 0 {
		parts = append(parts, fmt.Sprintf("turn=%d", e.Turn))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("artifact error", parts)
}

// Is checks if this error matches the target.
func (e *ArtifactError) Is(target error) bool {
	if _, ok := target.(*ArtifactError); ok {
		return true
	}
	switch target {
	case ErrArtifactMissing:
		return e.Kind == ArtifactMissing
	case ErrArtifactInvalid:
		return e.Kind == ArtifactInvalid
	}
	return e.baseError.Is(target)
}

// QualityGateBlockedError reports a pre-loop rejection. It is fatal to the
// run and surfaces as the pre_loop_blocked terminal decision.
type QualityGateBlockedError struct {
	baseError
	Gate   string
	Score  int
	TaskID string
}

// NewQualityGateBlockedError creates a new QualityGateBlockedError.
func NewQualityGateBlockedError(gate, message string) *QualityGateBlockedError {
	return &QualityGateBlockedError{
		baseError: baseError{
			message:    message,
			severity:   SeverityError,
			userFacing: true,
		},
		Gate:  gate,
		Score: -1,
	}
}

// WithScore adds the gate score that caused the rejection.
func (e *QualityGateBlockedError) WithScore(score int) *QualityGateBlockedError {
	e.Score = score
	return e
}

// WithTaskID adds a task ID to the error context.
func (e *QualityGateBlockedError) WithTaskID(id string) *QualityGateBlockedError {
	e.TaskID = id
	return e
}

// WithCause adds a cause to the error.
func (e *QualityGateBlockedError) WithCause(cause error) *QualityGateBlockedError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *QualityGateBlockedError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Gate != "" {
		parts = append(parts, fmt.Sprintf("gate=%s", e.Gate))
	}
	if e.Score >= 0 {
		parts = append(parts, fmt.Sprintf("score=%d", e.Score))
	}
	return e.format("quality gate blocked", parts)
}

// Is checks if this error matches the target.
func (e *QualityGateBlockedError) Is(target error) bool {
	if _, ok := target.(*QualityGateBlockedError); ok {
		return true
	}
	if target == ErrQualityGateBlocked {
		return true
	}
	return e.baseError.Is(target)
}

// CheckpointError reports a failed checkpoint operation. The engine logs it
// and skips checkpointing for the turn.
type CheckpointError struct {
	baseError
	Operation string
	Turn      int
	Revision  string
}

// NewCheckpointError creates a new CheckpointError.
func NewCheckpointError(operation string, cause error) *CheckpointError {
	return &CheckpointError{
		baseError: baseError{
			message:   operation + " failed",
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
	}
}

// WithTurn adds the turn number to the error context.
func (e *CheckpointError) WithTurn(turn int) *CheckpointError {
	e.Turn = turn
	return e
}

// WithRevision adds the target revision to the error context.
func (e *CheckpointError) WithRevision(rev string) *CheckpointError {
	e.Revision = rev
	return e
}

// Error returns the formatted error message.
func (e *CheckpointError) Error() string {
	var parts []string
	if e.Turn > 0 {
		parts = append(parts, fmt.Sprintf("turn=%d", e.Turn))
	}
	if e.Revision != "" {
		parts = append(parts, fmt.Sprintf("rev=%s", shortRev(e.Revision)))
	}
	return e.format("checkpoint error", parts)
}

// Is checks if this error matches the target.
func (e *CheckpointError) Is(target error) bool {
	if _, ok := target.(*CheckpointError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// EnvironmentError reports a failure that prevents the run from proceeding
// at all. It is the only error Orchestrate returns to its caller.
type EnvironmentError struct {
	baseError
	Resource string
	Path     string
}

// NewEnvironmentError creates a new EnvironmentError.
func NewEnvironmentError(resource string, cause error) *EnvironmentError {
	return &EnvironmentError{
		baseError: baseError{
			message:    fmt.Sprintf("cannot prepare %s", resource),
			cause:      cause,
			severity:   SeverityCritical,
			userFacing: true,
		},
		Resource: resource,
	}
}

// WithPath adds a filesystem path to the error context.
func (e *EnvironmentError) WithPath(path string) *EnvironmentError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *EnvironmentError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("environment error", parts)
}

// Is checks if this error matches the target.
func (e *EnvironmentError) Is(target error) bool {
	if _, ok := target.(*EnvironmentError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GitError represents errors related to git operations.
//
// Example:
//
//	err := errors.NewGitError("failed to create worktree", errors.ErrWorktreeExists)
//	err = err.WithBranch("autobuild/TASK-1").WithWorktree("/path/to/worktree")
type GitError struct {
	baseError
	Branch     string
	Worktree   string
	Repository string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithGitOutput adds git command output to the error context.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = output
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}

	prefix := "git error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("git error [%s]", strings.Join(parts, ", "))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}

	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("task id cannot be empty").WithField("id")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("independent test run", 5*time.Minute)
//	fmt.Println(err) // "timeout error: independent test run (timeout: 5m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var abErr AutobuildError
	if As(err, &abErr) {
		return abErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var abErr AutobuildError
	if As(err, &abErr) {
		return abErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement AutobuildError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var abErr AutobuildError
	if As(err, &abErr) {
		return abErr.Severity()
	}

	return SeverityError
}

// IsEnvironmentFailure reports whether err must abort the run rather than
// being recorded against a single turn.
func IsEnvironmentFailure(err error) bool {
	if err == nil {
		return false
	}
	var envErr *EnvironmentError
	return As(err, &envErr)
}

// IsTurnRecoverable reports whether err belongs to the per-turn failure class
// that the engine absorbs into the turn history.
func IsTurnRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var actorErr *ActorInvocationError
	var artErr *ArtifactError
	var cpErr *CheckpointError
	var timeoutErr *TimeoutError
	return As(err, &actorErr) || As(err, &artErr) || As(err, &cpErr) || As(err, &timeoutErr)
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
