package mcpbridge

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// runnerState tracks the stack runner lifecycle.
type runnerState int32

const (
	runnerNotStarted runnerState = iota
	runnerRunning
	runnerDraining
	runnerStopped
)

// runnerAction is one queued unit of lifecycle work.
type runnerAction interface{ isRunnerAction() }

// connectAction asks the runner to establish one session and deliver the
// outcome through the attached result slot.
type connectAction struct {
	desc ServerDescriptor
	slot *resultSlot
}

// shutdownAction asks the runner to unwind its release stack and exit.
type shutdownAction struct{}

func (connectAction) isRunnerAction()  {}
func (shutdownAction) isRunnerAction() {}

// connectOutcome is the result of one connect action.
type connectOutcome struct {
	handle *sessionHandle
	tools  []ToolDescriptor
	err    error
}

// resultSlot is a single-assignment future: exactly one resolve, at most one
// await. Extra resolves are dropped.
type resultSlot struct {
	ch chan connectOutcome
}

func newResultSlot() *resultSlot {
	return &resultSlot{ch: make(chan connectOutcome, 1)}
}

func (s *resultSlot) resolve(out connectOutcome) {
	select {
	case s.ch <- out:
	default:
	}
}

// await blocks until the slot is resolved, the context ends, or the runner
// exits. The stopped channel keeps a caller from hanging on an action the
// runner dequeued never: a shutdown racing ahead of a queued connect.
func (s *resultSlot) await(ctx context.Context, stopped <-chan struct{}) (connectOutcome, error) {
	select {
	case out := <-s.ch:
		return out, nil
	default:
	}
	select {
	case out := <-s.ch:
		return out, nil
	case <-ctx.Done():
		return connectOutcome{}, ctx.Err()
	case <-stopped:
		// The resolve may have raced the shutdown; prefer it if present.
		select {
		case out := <-s.ch:
			return out, nil
		default:
			return connectOutcome{}, errRunnerStopped
		}
	}
}

// stackRunner is the dedicated goroutine that owns session acquisition and
// release. Every spawn and every teardown happens here, so the ordered
// release stack is never touched from the goroutine that merely requested the
// work. Actions execute strictly in enqueue order; connects never run
// concurrently with each other.
type stackRunner struct {
	actions chan runnerAction
	ready   chan struct{} // closed once the loop accepts actions
	drained chan struct{} // closed after the release stack is unwound
	done    chan struct{} // closed when the loop has exited

	acquire func(ServerDescriptor) (*sessionHandle, []ToolDescriptor, error)
	release func(*sessionHandle)

	state  atomic.Int32
	stack  []*sessionHandle
	logger *zap.Logger
}

func newStackRunner(
	queueSize int,
	acquire func(ServerDescriptor) (*sessionHandle, []ToolDescriptor, error),
	release func(*sessionHandle),
	logger *zap.Logger,
) *stackRunner {
	return &stackRunner{
		actions: make(chan runnerAction, queueSize),
		ready:   make(chan struct{}),
		drained: make(chan struct{}),
		done:    make(chan struct{}),
		acquire: acquire,
		release: release,
		logger:  logger,
	}
}

func (r *stackRunner) currentState() runnerState {
	return runnerState(r.state.Load())
}

// run processes actions one at a time until a shutdown action is dequeued,
// then drains. The drained signal is closed in a deferred block so waiting
// cleanup callers never hang, whatever happens during teardown.
func (r *stackRunner) run() {
	defer close(r.done)
	defer func() {
		r.drain()
		r.state.Store(int32(runnerStopped))
	}()
	r.state.Store(int32(runnerRunning))
	close(r.ready)

	for action := range r.actions {
		switch act := action.(type) {
		case connectAction:
			handle, tools, err := r.acquire(act.desc)
			if err == nil {
				r.stack = append(r.stack, handle)
			}
			act.slot.resolve(connectOutcome{handle: handle, tools: tools, err: err})
		case shutdownAction:
			r.state.Store(int32(runnerDraining))
			return
		}
	}
}

// drain releases every acquired session in reverse acquisition order. Errors
// and panics are logged and swallowed.
func (r *stackRunner) drain() {
	defer close(r.drained)
	for i := len(r.stack) - 1; i >= 0; i-- {
		handle := r.stack[i]
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Warn("panic during session release",
						zap.String("server", handle.server), zap.Any("panic", rec))
				}
			}()
			r.release(handle)
		}()
	}
	r.stack = nil
}

// enqueue submits an action, failing instead of blocking forever when the
// runner has already exited.
func (r *stackRunner) enqueue(ctx context.Context, action runnerAction) error {
	select {
	case r.actions <- action:
		return nil
	case <-r.done:
		return errRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
