package stepper

import (
	"fmt"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/cjeanneret/DomeGo/internal/hw/gpio"
)

// Config holds the driver wiring (BCM numbering) and polarity.
type Config struct {
	StepPin   int
	DirPin    int
	EnablePin int // 0 = not used

	StepActiveLow    bool
	DirInverted      bool // HIGH = counter-clockwise
	EnableActiveHigh bool // A4988/DRV8825 ENABLE is active LOW

	PulseWidth time.Duration // STEP active time; 0 defaults to 5µs
}

// Stepper is the pin-level side of a step/dir driver: it sets DIR, emits
// single STEP pulses and gates ENABLE. Timing between pulses belongs to the
// caller.
type Stepper struct {
	gpio    gpio.Driver
	cfg     Config
	dir     dome.Direction
	dirSet  bool
	enabled bool
}

// NewStepper configures the pins as outputs and leaves STEP inactive and the
// driver disabled.
func NewStepper(g gpio.Driver, cfg Config) (*Stepper, error) {
	if cfg.PulseWidth <= 0 {
		cfg.PulseWidth = 5 * time.Microsecond
	}
	pins := []int{cfg.StepPin, cfg.DirPin}
	if cfg.EnablePin > 0 {
		pins = append(pins, cfg.EnablePin)
	}
	for _, p := range pins {
		if err := g.SetupPin(p, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup pin %d: %w", p, err)
		}
	}

	s := &Stepper{gpio: g, cfg: cfg}
	if err := g.WritePin(cfg.StepPin, s.stepLevel(false)); err != nil {
		return nil, err
	}
	if err := s.Disable(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stepper) stepLevel(active bool) gpio.Level {
	return gpio.Level(active != s.cfg.StepActiveLow)
}

func (s *Stepper) dirLevel(d dome.Direction) gpio.Level {
	return gpio.Level((d == dome.Clockwise) != s.cfg.DirInverted)
}

// SetDirection writes DIR when it differs from the last written value and
// waits one pulse width so the driver latches it before the next edge.
func (s *Stepper) SetDirection(d dome.Direction) error {
	if s.dirSet && s.dir == d {
		return nil
	}
	if err := s.gpio.WritePin(s.cfg.DirPin, s.dirLevel(d)); err != nil {
		return err
	}
	s.dir, s.dirSet = d, true
	debug.Trace("Stepper: direction %s", d)
	hold(s.cfg.PulseWidth)
	return nil
}

// Pulse emits one STEP pulse and returns a time no earlier than its rising
// edge. The driver is enabled first if needed.
func (s *Stepper) Pulse() (time.Time, error) {
	if !s.enabled {
		if err := s.Enable(); err != nil {
			return time.Time{}, err
		}
	}
	if err := s.gpio.WritePin(s.cfg.StepPin, s.stepLevel(true)); err != nil {
		return time.Time{}, err
	}
	rise := time.Now()
	hold(s.cfg.PulseWidth)
	return rise, s.gpio.WritePin(s.cfg.StepPin, s.stepLevel(false))
}

// Enable energizes the coils. Motors hold position.
func (s *Stepper) Enable() error {
	s.enabled = true
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Level(s.cfg.EnableActiveHigh))
}

// Disable releases the coils. The dome freewheels, no holding torque.
func (s *Stepper) Disable() error {
	s.enabled = false
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Level(!s.cfg.EnableActiveHigh))
}

// Enabled reports whether the coils are energized.
func (s *Stepper) Enabled() bool { return s.enabled }

// Release drives STEP inactive and disables the driver.
func (s *Stepper) Release() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, s.stepLevel(false)); err != nil {
		return err
	}
	return s.Disable()
}

// hold busy-waits; time.Sleep cannot resolve microsecond pulse widths.
func hold(d time.Duration) {
	end := time.Now().Add(d)
	for time.Now().Before(end) {
	}
}
