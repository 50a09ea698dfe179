package backend

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
)

// Call is one recorded backend call.
type Call struct {
	Op    string // configure, step, flush, release, shutdown
	Dir   dome.Direction
	Delay time.Duration
	At    time.Time
}

// Mock records every call. With Pace set it honours step delays in real
// time, which the development setup relies on.
type Mock struct {
	Pace bool
	// FailAfter > 0 makes every Step after the first FailAfter ones return
	// FailErr (ErrHardware when nil).
	FailAfter int
	FailErr   error
	// Block, when non-nil, is received from inside Step before it returns.
	Block chan struct{}

	mu    sync.Mutex
	calls []Call
	steps int
	net   int
	pacer Pacer
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) record(c Call) {
	c.At = time.Now()
	m.calls = append(m.calls, c)
}

func (m *Mock) Configure(pins Pins, pulseWidth time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "configure"})
	debug.Verbose("Mock backend: step=%d dir=%d pulse=%v", pins.Step, pins.Dir, pulseWidth)
	return nil
}

func (m *Mock) Step(dir dome.Direction, delay time.Duration) error {
	if m.Block != nil {
		<-m.Block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAfter > 0 && m.steps >= m.FailAfter {
		if m.FailErr != nil {
			return m.FailErr
		}
		return ErrHardware
	}
	if m.Pace {
		m.pacer.Wait(delay)
		m.pacer.Mark(time.Now())
	}
	m.record(Call{Op: "step", Dir: dir, Delay: delay})
	m.steps++
	m.net += int(dir)
	debug.Pulse(dir.String(), delay.Microseconds())
	return nil
}

func (m *Mock) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "flush"})
	return nil
}

func (m *Mock) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pacer.Reset()
	m.record(Call{Op: "release"})
	return nil
}

func (m *Mock) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "shutdown"})
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Steps returns the number of accepted pulses.
func (m *Mock) Steps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps
}

// Net returns the signed pulse count, clockwise positive.
func (m *Mock) Net() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net
}
