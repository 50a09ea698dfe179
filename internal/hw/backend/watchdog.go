package backend

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/DomeGo/internal/dome"
)

// budgeter is implemented by backends whose Step may block longer than one
// pulse delay, such as a chain waiting for queue room.
type budgeter interface {
	StepBudget(delay time.Duration) time.Duration
}

// Watchdog bounds every Step to its budget (the delay by default) plus
// margin. A Step still blocked in the inner backend keeps failing later
// calls with ErrStepTimeout until it returns, so two pulses never overlap.
type Watchdog struct {
	inner  Backend
	margin time.Duration
	busy   chan struct{}

	// late is the net direction of pulses that completed after their Step
	// had already been reported as timed out.
	late atomic.Int64
}

func NewWatchdog(inner Backend, margin time.Duration) *Watchdog {
	return &Watchdog{inner: inner, margin: margin, busy: make(chan struct{}, 1)}
}

func (w *Watchdog) Configure(pins Pins, pulseWidth time.Duration) error {
	return w.inner.Configure(pins, pulseWidth)
}

// stepCall is shared between a Step and its goroutine so that exactly one
// of them decides whether the pulse was on time.
type stepCall struct {
	mu        sync.Mutex
	finished  bool
	abandoned bool
}

func (w *Watchdog) Step(dir dome.Direction, delay time.Duration) error {
	select {
	case w.busy <- struct{}{}:
	default:
		return fmt.Errorf("%w: previous step still blocked", ErrStepTimeout)
	}
	bound := delay
	if b, ok := w.inner.(budgeter); ok {
		bound = b.StepBudget(delay)
	}
	bound += w.margin

	call := &stepCall{}
	done := make(chan error, 1)
	go func() {
		err := w.inner.Step(dir, delay)
		call.mu.Lock()
		call.finished = true
		late := call.abandoned
		call.mu.Unlock()
		if late && err == nil {
			w.late.Add(int64(dir))
		}
		<-w.busy
		done <- err
	}()

	t := time.NewTimer(bound)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
	}
	call.mu.Lock()
	if call.finished {
		call.mu.Unlock()
		return <-done
	}
	call.abandoned = true
	call.mu.Unlock()
	return fmt.Errorf("%w after %v", ErrStepTimeout, bound)
}

// TakeLate returns and resets the net steps emitted by Steps that had
// already timed out.
func (w *Watchdog) TakeLate() int {
	return int(w.late.Swap(0))
}

func (w *Watchdog) Flush(ctx context.Context) error {
	return w.inner.Flush(ctx)
}

// Release forwards to the inner backend when it supports it. It waits, up
// to margin, for a blocked Step to return first.
func (w *Watchdog) Release() error {
	r, ok := w.inner.(Releaser)
	if !ok {
		return nil
	}
	t := time.NewTimer(w.margin)
	defer t.Stop()
	select {
	case w.busy <- struct{}{}:
	case <-t.C:
		return fmt.Errorf("%w: release while a step is still blocked", ErrStepTimeout)
	}
	defer func() { <-w.busy }()
	return r.Release()
}

func (w *Watchdog) Shutdown() error {
	return w.inner.Shutdown()
}
