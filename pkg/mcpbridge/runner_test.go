package mcpbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestResultSlotFirstResolveWins(t *testing.T) {
	t.Parallel()

	slot := newResultSlot()
	slot.resolve(connectOutcome{err: errors.New("first")})
	slot.resolve(connectOutcome{err: errors.New("second")})

	out, err := slot.await(context.Background(), nil)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if out.err == nil || out.err.Error() != "first" {
		t.Fatalf("expected first resolve to win, got %v", out.err)
	}
}

func TestResultSlotAwaitHonorsContext(t *testing.T) {
	t.Parallel()

	slot := newResultSlot()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := slot.await(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResultSlotAwaitUnblocksOnStop(t *testing.T) {
	t.Parallel()

	slot := newResultSlot()
	stopped := make(chan struct{})
	close(stopped)

	_, err := slot.await(context.Background(), stopped)
	if !errors.Is(err, errRunnerStopped) {
		t.Fatalf("expected runner-stopped error, got %v", err)
	}
}

func TestResultSlotResolvedBeatsStop(t *testing.T) {
	t.Parallel()

	slot := newResultSlot()
	slot.resolve(connectOutcome{})
	stopped := make(chan struct{})
	close(stopped)

	if _, err := slot.await(context.Background(), stopped); err != nil {
		t.Fatalf("resolved slot should win over stop signal, got %v", err)
	}
}

// recordingRunner wires a stackRunner to fakes that log the order of
// acquisitions and releases.
type recordingRunner struct {
	runner *stackRunner

	mu       sync.Mutex
	acquired []string
	released []string
	failFor  map[string]error
}

func newRecordingRunner(t *testing.T) *recordingRunner {
	t.Helper()
	rec := &recordingRunner{failFor: make(map[string]error)}
	rec.runner = newStackRunner(8,
		func(desc ServerDescriptor) (*sessionHandle, []ToolDescriptor, error) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			if err := rec.failFor[desc.Name]; err != nil {
				return nil, nil, err
			}
			rec.acquired = append(rec.acquired, desc.Name)
			return &sessionHandle{server: desc.Name}, nil, nil
		},
		func(handle *sessionHandle) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.released = append(rec.released, handle.server)
		},
		zap.NewNop())
	return rec
}

func (rec *recordingRunner) connect(t *testing.T, name string) (connectOutcome, error) {
	t.Helper()
	slot := newResultSlot()
	if err := rec.runner.enqueue(context.Background(), connectAction{
		desc: ServerDescriptor{Name: name, Command: "unused"},
		slot: slot,
	}); err != nil {
		t.Fatalf("enqueue connect %s: %v", name, err)
	}
	return slot.await(context.Background(), rec.runner.done)
}

func (rec *recordingRunner) shutdown(t *testing.T) {
	t.Helper()
	if err := rec.runner.enqueue(context.Background(), shutdownAction{}); err != nil {
		t.Fatalf("enqueue shutdown: %v", err)
	}
	select {
	case <-rec.runner.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("runner did not exit")
	}
}

func TestRunnerReleasesInReverseAcquisitionOrder(t *testing.T) {
	t.Parallel()

	rec := newRecordingRunner(t)
	go rec.runner.run()
	<-rec.runner.ready

	for _, name := range []string{"first", "second", "third"} {
		if out, err := rec.connect(t, name); err != nil || out.err != nil {
			t.Fatalf("connect %s: await=%v outcome=%v", name, err, out.err)
		}
	}
	rec.shutdown(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	wantAcquired := []string{"first", "second", "third"}
	wantReleased := []string{"third", "second", "first"}
	for i, name := range wantAcquired {
		if rec.acquired[i] != name {
			t.Fatalf("acquired = %v, expected %v", rec.acquired, wantAcquired)
		}
	}
	if len(rec.released) != len(wantReleased) {
		t.Fatalf("released = %v, expected %v", rec.released, wantReleased)
	}
	for i, name := range wantReleased {
		if rec.released[i] != name {
			t.Fatalf("released = %v, expected %v", rec.released, wantReleased)
		}
	}
}

func TestRunnerFailedConnectIsNotStacked(t *testing.T) {
	t.Parallel()

	rec := newRecordingRunner(t)
	rec.failFor["broken"] = errors.New("spawn failed")
	go rec.runner.run()
	<-rec.runner.ready

	if out, err := rec.connect(t, "ok"); err != nil || out.err != nil {
		t.Fatalf("connect ok: await=%v outcome=%v", err, out.err)
	}
	out, err := rec.connect(t, "broken")
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if out.err == nil {
		t.Fatalf("expected failed outcome for broken")
	}
	rec.shutdown(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.released) != 1 || rec.released[0] != "ok" {
		t.Fatalf("released = %v, expected only ok", rec.released)
	}
}

func TestRunnerEnqueueAfterStop(t *testing.T) {
	t.Parallel()

	rec := newRecordingRunner(t)
	go rec.runner.run()
	<-rec.runner.ready
	rec.shutdown(t)

	err := rec.runner.enqueue(context.Background(), connectAction{
		desc: ServerDescriptor{Name: "late", Command: "unused"},
		slot: newResultSlot(),
	})
	if !errors.Is(err, errRunnerStopped) {
		t.Fatalf("expected runner-stopped error, got %v", err)
	}
}

func TestRunnerStateTransitions(t *testing.T) {
	t.Parallel()

	rec := newRecordingRunner(t)
	if got := rec.runner.currentState(); got != runnerNotStarted {
		t.Fatalf("state before run = %v", got)
	}
	go rec.runner.run()
	<-rec.runner.ready
	if got := rec.runner.currentState(); got != runnerRunning {
		t.Fatalf("state after ready = %v", got)
	}
	rec.shutdown(t)
	if got := rec.runner.currentState(); got != runnerStopped {
		t.Fatalf("state after done = %v", got)
	}
}

func TestRunnerDrainSurvivesReleasePanic(t *testing.T) {
	t.Parallel()

	var released []string
	var mu sync.Mutex
	runner := newStackRunner(4,
		func(desc ServerDescriptor) (*sessionHandle, []ToolDescriptor, error) {
			return &sessionHandle{server: desc.Name}, nil, nil
		},
		func(handle *sessionHandle) {
			mu.Lock()
			released = append(released, handle.server)
			mu.Unlock()
			if handle.server == "volatile" {
				panic("release blew up")
			}
		},
		zap.NewNop())
	go runner.run()
	<-runner.ready

	for _, name := range []string{"steady", "volatile"} {
		slot := newResultSlot()
		if err := runner.enqueue(context.Background(), connectAction{
			desc: ServerDescriptor{Name: name}, slot: slot,
		}); err != nil {
			t.Fatalf("enqueue %s: %v", name, err)
		}
		if _, err := slot.await(context.Background(), runner.done); err != nil {
			t.Fatalf("await %s: %v", name, err)
		}
	}
	if err := runner.enqueue(context.Background(), shutdownAction{}); err != nil {
		t.Fatalf("enqueue shutdown: %v", err)
	}
	select {
	case <-runner.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("runner did not exit after panic during drain")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(released) != 2 || released[0] != "volatile" || released[1] != "steady" {
		t.Fatalf("released = %v, expected volatile then steady", released)
	}
}
