package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// ActorInvocationError Tests
// -----------------------------------------------------------------------------

func TestActorInvocationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ActorInvocationError
		want string
	}{
		{
			name: "role and turn",
			err:  NewActorInvocationError("player", 2, nil),
			want: "actor error [role=player, turn=2]: invocation failed",
		},
		{
			name: "timed out with cause",
			err:  NewActorInvocationError("coach", 1, context.DeadlineExceeded).WithTimedOut(true),
			want: "actor error [role=coach, turn=1, timed_out]: invocation failed: context deadline exceeded",
		},
		{
			name: "custom message",
			err:  NewActorInvocationError("player", 3, nil).WithMessage("exit status 1"),
			want: "actor error [role=player, turn=3]: exit status 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActorInvocationError_Is(t *testing.T) {
	timedOut := NewActorInvocationError("player", 1, context.DeadlineExceeded).WithTimedOut(true)
	failed := NewActorInvocationError("player", 1, nil)

	if !Is(timedOut, ErrActorTimeout) {
		t.Error("timed out error should match ErrActorTimeout")
	}
	if !Is(timedOut, ErrTimeout) {
		t.Error("timed out error should match ErrTimeout")
	}
	if !Is(timedOut, context.DeadlineExceeded) {
		t.Error("timed out error should match its cause")
	}
	if Is(failed, ErrActorTimeout) {
		t.Error("non-timeout error should not match ErrActorTimeout")
	}
	if !Is(failed, ErrActorFailed) {
		t.Error("actor error should match ErrActorFailed")
	}
	if !Is(fmt.Errorf("wrapped: %w", failed), &ActorInvocationError{}) {
		t.Error("wrapped error should match ActorInvocationError type")
	}
}

// -----------------------------------------------------------------------------
// ArtifactError Tests
// -----------------------------------------------------------------------------

func TestArtifactError(t *testing.T) {
	missing := NewArtifactError(ArtifactMissing, "/ws/.autobuild/T-1/player_turn_1.json", nil).WithTask("T-1", 1)
	invalid := NewArtifactError(ArtifactInvalid, "/ws/report.json", errors.New("unexpected EOF"))

	wantMissing := "artifact error [task=T-1, turn=1, path=/ws/.autobuild/T-1/player_turn_1.json]: artifact not found"
	if got := missing.Error(); got != wantMissing {
		t.Errorf("Error() = %q, want %q", got, wantMissing)
	}
	wantInvalid := "artifact error [path=/ws/report.json]: artifact could not be decoded: unexpected EOF"
	if got := invalid.Error(); got != wantInvalid {
		t.Errorf("Error() = %q, want %q", got, wantInvalid)
	}

	if !Is(missing, ErrArtifactMissing) || Is(missing, ErrArtifactInvalid) {
		t.Error("missing artifact should only match ErrArtifactMissing")
	}
	if !Is(invalid, ErrArtifactInvalid) || Is(invalid, ErrArtifactMissing) {
		t.Error("invalid artifact should only match ErrArtifactInvalid")
	}
	if missing.Severity() != SeverityWarning {
		t.Errorf("Severity() = %v, want %v", missing.Severity(), SeverityWarning)
	}
}

// -----------------------------------------------------------------------------
// QualityGateBlockedError Tests
// -----------------------------------------------------------------------------

func TestQualityGateBlockedError(t *testing.T) {
	err := NewQualityGateBlockedError("architecture", "score below threshold").
		WithScore(42).
		WithTaskID("TASK-7")

	want := "quality gate blocked [task=TASK-7, gate=architecture, score=42]: score below threshold"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrQualityGateBlocked) {
		t.Error("should match ErrQualityGateBlocked")
	}

	noScore := NewQualityGateBlockedError("checkpoint", "design rejected")
	if got := noScore.Error(); got != "quality gate blocked [gate=checkpoint]: design rejected" {
		t.Errorf("Error() = %q", got)
	}
}

// -----------------------------------------------------------------------------
// CheckpointError Tests
// -----------------------------------------------------------------------------

func TestCheckpointError(t *testing.T) {
	cause := NewGitError("git reset failed", nil)
	err := NewCheckpointError("rollback", cause).
		WithTurn(4).
		WithRevision("0123456789abcdef")

	want := "checkpoint error [turn=4, rev=01234567]: rollback failed: git error: git reset failed"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !err.IsRetryable() {
		t.Error("checkpoint errors should be retryable")
	}
	if !Is(err, &GitError{}) {
		t.Error("should match the wrapped GitError")
	}
}

// -----------------------------------------------------------------------------
// EnvironmentError Tests
// -----------------------------------------------------------------------------

func TestEnvironmentError(t *testing.T) {
	err := NewEnvironmentError("workspace", ErrWorkspaceUnavailable).WithPath("/tmp/wt")

	want := "environment error [path=/tmp/wt]: cannot prepare workspace: workspace unavailable"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityCritical)
	}
	if !Is(err, ErrWorkspaceUnavailable) {
		t.Error("should match cause")
	}
}

// -----------------------------------------------------------------------------
// GitError Tests
// -----------------------------------------------------------------------------

func TestGitError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *GitError
		want string
	}{
		{
			name: "basic error",
			err:  NewGitError("commit failed", nil),
			want: "git error: commit failed",
		},
		{
			name: "with branch and repo",
			err:  NewGitError("checkout failed", ErrBranchNotFound).WithBranch("autobuild/T-1").WithRepository("/repo"),
			want: "git error [branch=autobuild/T-1, repo=/repo]: checkout failed: branch not found",
		},
		{
			name: "with git output",
			err:  NewGitError("commit failed", nil).WithGitOutput("fatal: bad object"),
			want: "git error: commit failed\ngit output: fatal: bad object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("checkpoint", "turn-3")
	if got := err.Error(); got != "checkpoint 'turn-3' not found" {
		t.Errorf("Error() = %q", got)
	}
	if !Is(err, &NotFoundError{}) {
		t.Error("should match NotFoundError type")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("task id cannot be empty").WithField("id").WithValue("")
	if got := err.Error(); got != "validation error [field=id, value=]: task id cannot be empty" {
		t.Errorf("Error() = %q", got)
	}
	if !Is(err, ErrInvalidInput) {
		t.Error("should match ErrInvalidInput")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("independent test run", 5*time.Minute)
	if got := err.Error(); got != "timeout error: independent test run (timeout: 5m0s)" {
		t.Errorf("Error() = %q", got)
	}
	if !Is(err, ErrTimeout) {
		t.Error("should match ErrTimeout")
	}
	if !IsRetryable(err) {
		t.Error("timeouts should be retryable")
	}
}

// -----------------------------------------------------------------------------
// Classification Helper Tests
// -----------------------------------------------------------------------------

func TestClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		retryable     bool
		userFacing    bool
		environment   bool
		turnRecovered bool
		severity      Severity
	}{
		{
			name:     "nil",
			err:      nil,
			severity: SeverityDebug,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			severity: SeverityError,
		},
		{
			name:          "actor error",
			err:           NewActorInvocationError("player", 1, nil),
			userFacing:    true,
			turnRecovered: true,
			severity:      SeverityError,
		},
		{
			name:          "wrapped artifact error",
			err:           Wrap(NewArtifactError(ArtifactInvalid, "x.json", nil), "reading report"),
			userFacing:    true,
			turnRecovered: true,
			severity:      SeverityWarning,
		},
		{
			name:          "checkpoint error",
			err:           NewCheckpointError("create", nil),
			retryable:     true,
			turnRecovered: true,
			severity:      SeverityWarning,
		},
		{
			name:        "environment error",
			err:         Wrapf(NewEnvironmentError("artifact directory", nil), "task %s", "T-1"),
			userFacing:  true,
			environment: true,
			severity:    SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := IsUserFacing(tt.err); got != tt.userFacing {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.userFacing)
			}
			if got := IsEnvironmentFailure(tt.err); got != tt.environment {
				t.Errorf("IsEnvironmentFailure() = %v, want %v", got, tt.environment)
			}
			if got := IsTurnRecoverable(tt.err); got != tt.turnRecovered {
				t.Errorf("IsTurnRecoverable() = %v, want %v", got, tt.turnRecovered)
			}
			if got := GetSeverity(tt.err); got != tt.severity {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.severity)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
	err := Wrapf(ErrNoCheckpoints, "turn %d", 3)
	if got := err.Error(); got != "turn 3: no checkpoints recorded" {
		t.Errorf("Wrapf() = %q", got)
	}
	if !Is(err, ErrNoCheckpoints) {
		t.Error("wrapped error should match sentinel")
	}
}
