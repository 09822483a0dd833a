// Package holdrepeat turns a held button into a timed repeat of a single
// step action.
//
// A Repeater owns no domain state. Each feature supplies a StepApplier that
// knows how to apply one step in a direction and report whether a boundary
// was hit. The Repeater handles cadence, cancellation and the IDLE/HOLDING
// state machine:
//
//	IDLE --Hold(dir)--> HOLDING --Release / exceeded / MaxLoops--> IDLE
//
// Click performs exactly one step and never starts the timer.
//
// Release policy: a step already in flight when Release is called is allowed
// to complete; no new step starts afterwards. Release blocks until the repeat
// goroutine has exited, so no step is applied after Release returns.
//
// A panic inside an applier is recovered, logged at error level and ends the
// gesture with StopPanicked.
package holdrepeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"mediaremote/internal/stepper"
)

const (
	// DefaultDelay is the pause between repeated steps while holding.
	DefaultDelay = 500 * time.Millisecond

	// DefaultMaxLoops bounds a single hold gesture. It protects against a
	// release event that never arrives.
	DefaultMaxLoops = 50
)

var (
	errReleased = errors.New("hold released")

	// ErrPanicked wraps a panic recovered from a StepApplier or Refresher.
	ErrPanicked = errors.New("step panicked")
)

// StepApplier applies one step of a feature (volume, brightness, ...) and
// reports whether the underlying stepper hit a boundary.
type StepApplier interface {
	ApplyStep(ctx context.Context, dir stepper.Direction) (exceeded bool, err error)
}

// StepApplierFunc adapts a function to StepApplier.
type StepApplierFunc func(ctx context.Context, dir stepper.Direction) (bool, error)

func (f StepApplierFunc) ApplyStep(ctx context.Context, dir stepper.Direction) (bool, error) {
	return f(ctx, dir)
}

// Refresher is implemented by appliers that cache device state. Refresh is
// called once at the start of every Hold and Click; failures are logged and
// the cached value is kept.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Observer receives repeater lifecycle notifications (metrics hooks).
type Observer interface {
	HoldStarted(dir stepper.Direction)
	StepApplied(dir stepper.Direction, exceeded bool, err error)
	HoldStopped(reason StopReason)
}

// State is the hold-loop activity state.
type State int

const (
	Idle State = iota
	Holding
)

func (s State) String() string {
	if s == Holding {
		return "holding"
	}
	return "idle"
}

// StopReason explains why a hold gesture ended.
type StopReason string

const (
	StopReleased StopReason = "released"
	StopExceeded StopReason = "exceeded"
	StopMaxLoops StopReason = "max_loops"
	StopCanceled StopReason = "canceled"
	StopPanicked StopReason = "panicked"
)

// Config holds the repeat cadence. Zero values select the defaults; a
// negative MaxLoops disables the loop bound.
type Config struct {
	Delay    time.Duration
	MaxLoops int
}

// Repeater drives a StepApplier while a control is held.
type Repeater struct {
	applier  StepApplier
	delay    time.Duration
	maxLoops int
	logger   *slog.Logger
	observer Observer

	// gate serializes Hold, Release and Click.
	gate sync.Mutex

	// mu guards the fields below; the repeat goroutine only ever takes mu.
	mu     sync.Mutex
	state  State
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New creates a Repeater. logger must not be nil; observer may be.
func New(applier StepApplier, cfg Config, logger *slog.Logger, observer Observer) *Repeater {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.MaxLoops == 0 {
		cfg.MaxLoops = DefaultMaxLoops
	}
	return &Repeater{
		applier:  applier,
		delay:    cfg.Delay,
		maxLoops: cfg.MaxLoops,
		logger:   logger,
		observer: observer,
	}
}

// State returns the current activity state.
func (r *Repeater) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Delay returns the configured repeat delay.
func (r *Repeater) Delay() time.Duration { return r.delay }

// Hold starts repeating steps in direction dir. The first step is applied
// before Hold returns; subsequent steps run on a background goroutine every
// Delay until Release, a boundary, MaxLoops, or cancellation of ctx.
//
// Hold is a no-op while already holding.
func (r *Repeater) Hold(ctx context.Context, dir stepper.Direction) {
	r.gate.Lock()
	defer r.gate.Unlock()

	r.mu.Lock()
	if r.state == Holding {
		r.mu.Unlock()
		r.logger.Debug("hold ignored; already holding", "direction", dir)
		return
	}
	r.state = Holding
	r.mu.Unlock()

	r.notifyHoldStarted(dir)
	r.refresh(ctx)

	if stop := r.step(ctx, dir); stop != "" {
		r.finish(nil, stop)
		return
	}
	if r.maxLoops == 1 {
		r.finish(nil, StopMaxLoops)
		return
	}

	loopCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.loop(loopCtx, ctx, dir, done)
}

// Release stops an active hold. It waits for the repeat goroutine to exit.
// Releasing while idle is a no-op.
func (r *Repeater) Release() {
	r.gate.Lock()
	defer r.gate.Unlock()
	r.release()
}

// Click applies exactly one step without starting the timer. An active hold
// is released first.
func (r *Repeater) Click(ctx context.Context, dir stepper.Direction) (exceeded bool) {
	r.gate.Lock()
	defer r.gate.Unlock()

	r.release()
	r.refresh(ctx)
	return r.step(ctx, dir) == StopExceeded
}

// Close releases any active hold.
func (r *Repeater) Close() error {
	r.Release()
	return nil
}

func (r *Repeater) release() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel(errReleased)
	<-done
	r.logger.Debug("hold released")
}

// loop runs the delayed repeats for one hold gesture. ctx is canceled on
// release; steps run under stepCtx so a release never aborts an in-flight
// device call.
func (r *Repeater) loop(ctx, stepCtx context.Context, dir stepper.Direction, done chan struct{}) {
	reason := StopCanceled
	defer func() {
		r.finish(done, reason)
		close(done)
	}()

	timer := time.NewTimer(r.delay)
	defer timer.Stop()

	// The synchronous first step in Hold counts as loop 1.
	for applied := 1; ; {
		select {
		case <-ctx.Done():
			reason = r.canceledReason(ctx)
			return
		case <-timer.C:
		}

		// The timer and a release can become ready together; a release
		// observed here must win.
		if ctx.Err() != nil {
			reason = r.canceledReason(ctx)
			return
		}

		stop := r.step(stepCtx, dir)
		applied++
		if stop != "" {
			reason = stop
			return
		}
		if r.maxLoops > 0 && applied >= r.maxLoops {
			reason = StopMaxLoops
			return
		}

		timer.Reset(r.delay)
	}
}

// canceledReason tells an explicit Release apart from the caller's context
// going away.
func (r *Repeater) canceledReason(ctx context.Context) StopReason {
	if errors.Is(context.Cause(ctx), errReleased) {
		return StopReleased
	}
	return StopCanceled
}

// finish returns the repeater to Idle. done identifies the loop that is
// finishing (nil for a hold that ended inside Hold).
func (r *Repeater) finish(done chan struct{}, reason StopReason) {
	r.mu.Lock()
	if done == nil || r.done == done {
		r.state = Idle
		if r.cancel != nil {
			r.cancel(nil)
		}
		r.cancel = nil
		r.done = nil
	}
	r.mu.Unlock()

	r.logger.Debug("hold stopped", "reason", reason)
	if r.observer != nil {
		r.observer.HoldStopped(reason)
	}
}

func (r *Repeater) refresh(ctx context.Context) {
	rf, ok := r.applier.(Refresher)
	if !ok {
		return
	}
	if err := r.guard("refresh", func() error { return rf.Refresh(ctx) }); err != nil {
		r.logger.Warn("refresh failed; keeping last known value", "error", err)
	}
}

// step applies a single step and reports why the gesture must stop, or ""
// to keep going. A failed step is logged and treated as skipped. A panicking
// applier ends the gesture.
func (r *Repeater) step(ctx context.Context, dir stepper.Direction) StopReason {
	var exceeded bool
	err := r.guard("step", func() error {
		var err error
		exceeded, err = r.applier.ApplyStep(ctx, dir)
		return err
	})
	if r.observer != nil {
		r.observer.StepApplied(dir, exceeded, err)
	}
	switch {
	case errors.Is(err, ErrPanicked):
		return StopPanicked
	case err != nil:
		r.logger.Warn("step skipped", "direction", dir, "error", err)
		return ""
	case exceeded:
		return StopExceeded
	}
	return ""
}

// guard runs fn and turns a panic into an ErrPanicked error. The repeat
// goroutine has no caller that could recover for it.
func (r *Repeater) guard(what string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error(what+" panicked", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanicked, p)
		}
	}()
	return fn()
}

func (r *Repeater) notifyHoldStarted(dir stepper.Direction) {
	r.logger.Debug("hold started", "direction", dir, "delay", r.delay, "max_loops", r.maxLoops)
	if r.observer != nil {
		r.observer.HoldStarted(dir)
	}
}
