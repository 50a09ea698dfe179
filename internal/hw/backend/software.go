package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/cjeanneret/DomeGo/internal/hw/gpio"
	"github.com/cjeanneret/DomeGo/internal/hw/stepper"
)

// Software bit-bangs STEP/DIR from the calling goroutine. Timing accuracy
// depends on the OS scheduler; Step returns after the pulse width.
type Software struct {
	drv   gpio.Driver
	st    *stepper.Stepper
	pacer Pacer
}

func NewSoftware(drv gpio.Driver, spin time.Duration) *Software {
	return &Software{drv: drv, pacer: Pacer{Spin: spin}}
}

func (s *Software) Configure(pins Pins, pulseWidth time.Duration) error {
	st, err := stepper.NewStepper(s.drv, stepper.Config{
		StepPin:          pins.Step,
		DirPin:           pins.Dir,
		EnablePin:        pins.Enable,
		StepActiveLow:    pins.StepActiveLow,
		DirInverted:      pins.DirInverted,
		EnableActiveHigh: pins.EnableActiveHigh,
		PulseWidth:       pulseWidth,
	})
	if err != nil {
		return fmt.Errorf("%w: configure pins: %w", ErrHardware, err)
	}
	s.st = st
	debug.Verbose("Software backend: step=%d dir=%d enable=%d pulse=%v", pins.Step, pins.Dir, pins.Enable, pulseWidth)
	return nil
}

func (s *Software) Step(dir dome.Direction, delay time.Duration) error {
	if s.st == nil {
		return ErrNotConfigured
	}
	if err := s.st.SetDirection(dir); err != nil {
		return fmt.Errorf("%w: set direction: %w", ErrHardware, err)
	}
	s.pacer.Wait(delay)
	rise, err := s.st.Pulse()
	if err != nil {
		return fmt.Errorf("%w: pulse: %w", ErrHardware, err)
	}
	s.pacer.Mark(rise)
	debug.Pulse(dir.String(), delay.Microseconds())
	return nil
}

// Flush returns at once: Step is synchronous.
func (s *Software) Flush(context.Context) error {
	return nil
}

// Release drops holding torque. The next Step re-enables the driver.
func (s *Software) Release() error {
	if s.st == nil {
		return nil
	}
	s.pacer.Reset()
	if err := s.st.Release(); err != nil {
		return fmt.Errorf("%w: release: %w", ErrHardware, err)
	}
	return nil
}

func (s *Software) Shutdown() error {
	if s.st != nil {
		_ = s.st.Release()
	}
	return s.drv.Close()
}
