// Package backend emits step pulses. One Backend is chosen per process at
// startup; the motion loop never knows which variant it drives.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/DomeGo/internal/config"
	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/cjeanneret/DomeGo/internal/hw/gpio"
)

var (
	// ErrHardware wraps every loss of pulse output. The motion process turns
	// it into a FAULT phase.
	ErrHardware = errors.New("hardware fault")
	// ErrStepTimeout is a Step that blocked past its watchdog bound.
	ErrStepTimeout = fmt.Errorf("%w: step timed out", ErrHardware)
	// ErrUnderrun means the pulse chain ran dry while a move was in progress.
	ErrUnderrun = fmt.Errorf("%w: chain underrun", ErrHardware)
	// ErrNotConfigured is returned by Step before Configure.
	ErrNotConfigured = errors.New("backend not configured")
)

// Backend is the pulse output capability.
type Backend interface {
	// Configure sets pins and polarity. Called once before the first Step.
	Configure(pins Pins, pulseWidth time.Duration) error
	// Step emits one pulse in dir, with its rising edge no earlier than delay
	// after the previous one.
	Step(dir dome.Direction, delay time.Duration) error
	// Flush waits until every accepted pulse has been played.
	Flush(ctx context.Context) error
	Shutdown() error
}

// Releaser is implemented by backends that can drop holding torque.
type Releaser interface {
	Release() error
}

// LateReporter is implemented by backends that can report pulses emitted
// by a Step that had already failed with ErrStepTimeout.
type LateReporter interface {
	TakeLate() int
}

// Pins is the driver wiring, BCM numbering. Enable 0 means unused.
type Pins struct {
	Step   int
	Dir    int
	Enable int

	StepActiveLow    bool
	DirInverted      bool
	EnableActiveHigh bool
}

// PinsFromConfig maps the motor section of the configuration.
func PinsFromConfig(m config.MotorConfig) Pins {
	return Pins{
		Step:             m.StepPin,
		Dir:              m.DirPin,
		Enable:           m.EnablePin,
		StepActiveLow:    m.StepActiveLow,
		DirInverted:      m.DirInverted,
		EnableActiveHigh: m.EnableActiveHigh,
	}
}

// New builds, wraps in a Watchdog and configures the backend named by
// cfg.Backend.Type.
func New(cfg *config.Config) (Backend, error) {
	var b Backend
	switch cfg.Backend.Type {
	case "software":
		drv, err := gpio.NewDriver(cfg.Backend.PinDriver, cfg.Backend.Chip)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHardware, err)
		}
		b = NewSoftware(drv, cfg.Spin())
	case "dma":
		player, err := OpenSerialPlayer(cfg.Backend.Chain.Port, cfg.Backend.Chain.Baud, cfg.AckTimeout())
		if err != nil {
			return nil, err
		}
		b = NewChain(player, cfg.Backend.Chain.ChunkSize, cfg.StepTimeout())
	case "mock":
		m := NewMock()
		m.Pace = true
		b = m
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
	debug.Info("Pulse backend: %s", cfg.Backend.Type)

	wd := NewWatchdog(b, cfg.StepTimeout())
	if err := wd.Configure(PinsFromConfig(cfg.Motor), cfg.PulseWidth()); err != nil {
		_ = wd.Shutdown()
		return nil, err
	}
	return wd, nil
}
