package wave

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/autobuild/internal/engine"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/task"
)

type fakeOrchestrator struct {
	mu      sync.Mutex
	active  int
	peak    int
	calls   atomic.Int32
	delay   func(id string) time.Duration
	outcome func(id string) (*engine.Result, error)
}

func (f *fakeOrchestrator) Orchestrate(ctx context.Context, t *task.Task) (*engine.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(t.ID)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.outcome != nil {
		return f.outcome(t.ID)
	}
	return &engine.Result{TaskID: t.ID, Success: true, FinalDecision: engine.TerminalApproved}, nil
}

func tasks(ids ...string) []*task.Task {
	out := make([]*task.Task, len(ids))
	for i, id := range ids {
		out[i] = &task.Task{ID: id, Title: id}
	}
	return out
}

func TestRun_OrderAndParallelism(t *testing.T) {
	f := &fakeOrchestrator{
		// Earlier tasks finish last so completion order differs from input order.
		delay: func(id string) time.Duration {
			return map[string]time.Duration{"A": 60 * time.Millisecond, "B": 40 * time.Millisecond, "C": 20 * time.Millisecond, "D": 0}[id]
		},
	}
	outcomes, err := New(f, 2, nil).Run(context.Background(), tasks("A", "B", "C", "D"))
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	for i, want := range []string{"A", "B", "C", "D"} {
		if outcomes[i].Task.ID != want || outcomes[i].Result.TaskID != want {
			t.Errorf("outcome %d = %s, want %s", i, outcomes[i].Task.ID, want)
		}
		if !outcomes[i].Succeeded() {
			t.Errorf("outcome %d not succeeded", i)
		}
	}
	if f.peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", f.peak)
	}
}

func TestRun_FailureIsolated(t *testing.T) {
	f := &fakeOrchestrator{
		outcome: func(id string) (*engine.Result, error) {
			switch id {
			case "B":
				return nil, errors.NewEnvironmentError("workspace", fmt.Errorf("disk full"))
			case "C":
				panic("boom")
			}
			return &engine.Result{TaskID: id, Success: true}, nil
		},
	}
	outcomes, err := New(f, 1, nil).Run(context.Background(), tasks("A", "B", "C", "D"))
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{true, false, false, true}
	for i, o := range outcomes {
		if o.Succeeded() != want[i] {
			t.Errorf("outcome %s succeeded = %v, want %v (err %v)", o.Task.ID, o.Succeeded(), want[i], o.Err)
		}
	}
	if !errors.IsEnvironmentFailure(outcomes[1].Err) {
		t.Errorf("B error = %v", outcomes[1].Err)
	}
	if outcomes[2].Err == nil {
		t.Error("panicking task should report an error")
	}
	if f.calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", f.calls.Load())
	}
}

func TestRun_DuplicateIDs(t *testing.T) {
	f := &fakeOrchestrator{}
	_, err := New(f, 2, nil).Run(context.Background(), tasks("A", "A"))
	var verr *errors.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Run() = %v, want ValidationError", err)
	}
	if f.calls.Load() != 0 {
		t.Error("no task should run when the wave is invalid")
	}
}

func TestRun_Canceled(t *testing.T) {
	f := &fakeOrchestrator{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := New(f, 2, nil).Run(ctx, tasks("A", "B"))
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range outcomes {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("outcome %s err = %v, want context.Canceled", o.Task.ID, o.Err)
		}
	}
	if f.calls.Load() != 0 {
		t.Errorf("calls = %d after cancellation", f.calls.Load())
	}
}

func TestNew_DefaultParallelism(t *testing.T) {
	if r := New(&fakeOrchestrator{}, 0, nil); r.parallelism != DefaultParallelism {
		t.Errorf("parallelism = %d", r.parallelism)
	}
}
