package stepper

import (
	"testing"
	"time"

	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/cjeanneret/DomeGo/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls []gpioCall
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) writeCallsForPin(pin int) []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" && c.pin == pin {
			result = append(result, c)
		}
	}
	return result
}

func defaultConfig() Config {
	return Config{
		StepPin:    17,
		DirPin:     27,
		EnablePin:  5,
		PulseWidth: time.Microsecond,
	}
}

func newTestStepper(t *testing.T, cfg Config) (*Stepper, *recordingDriver) {
	t.Helper()
	drv := &recordingDriver{}
	s, err := NewStepper(drv, cfg)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}
	drv.calls = nil // reset after init
	return s, drv
}

func TestNewStepper_SafeInitialState(t *testing.T) {
	drv := &recordingDriver{}
	if _, err := NewStepper(drv, defaultConfig()); err != nil {
		t.Fatal(err)
	}
	step := drv.writeCallsForPin(17)
	if len(step) != 1 || step[0].level != gpio.Low {
		t.Errorf("STEP should start inactive (LOW), got %v", step)
	}
	enable := drv.writeCallsForPin(5)
	if len(enable) != 1 || enable[0].level != gpio.High {
		t.Errorf("driver should start disabled (ENABLE HIGH), got %v", enable)
	}
}

func TestStepper_PulsePattern(t *testing.T) {
	s, drv := newTestStepper(t, defaultConfig())

	if _, err := s.Pulse(); err != nil {
		t.Fatal(err)
	}
	stepCalls := drv.writeCallsForPin(17)
	if len(stepCalls) != 2 {
		t.Fatalf("single pulse should produce 2 writes on step pin, got %d", len(stepCalls))
	}
	if stepCalls[0].level != gpio.High || stepCalls[1].level != gpio.Low {
		t.Errorf("pulse should be HIGH then LOW, got %v", stepCalls)
	}
	// First pulse enables the driver.
	if en := drv.writeCallsForPin(5); len(en) != 1 || en[0].level != gpio.Low {
		t.Errorf("first pulse should enable the driver, got %v", en)
	}
	if !s.Enabled() {
		t.Error("Enabled() should be true after a pulse")
	}
}

func TestStepper_ActiveLowStep(t *testing.T) {
	cfg := defaultConfig()
	cfg.StepActiveLow = true
	s, drv := newTestStepper(t, cfg)

	_, _ = s.Pulse()
	stepCalls := drv.writeCallsForPin(17)
	if len(stepCalls) != 2 || stepCalls[0].level != gpio.Low || stepCalls[1].level != gpio.High {
		t.Errorf("active-low pulse should be LOW then HIGH, got %v", stepCalls)
	}
}

func TestStepper_DirectionWrittenOnChangeOnly(t *testing.T) {
	s, drv := newTestStepper(t, defaultConfig())

	_ = s.SetDirection(dome.Clockwise)
	_ = s.SetDirection(dome.Clockwise)
	_ = s.SetDirection(dome.CounterClockwise)

	dir := drv.writeCallsForPin(27)
	if len(dir) != 2 {
		t.Fatalf("expected 2 DIR writes, got %d", len(dir))
	}
	if dir[0].level != gpio.High || dir[1].level != gpio.Low {
		t.Errorf("cw should be HIGH and ccw LOW, got %v", dir)
	}
}

func TestStepper_DirInverted(t *testing.T) {
	cfg := defaultConfig()
	cfg.DirInverted = true
	s, drv := newTestStepper(t, cfg)

	_ = s.SetDirection(dome.Clockwise)
	if dir := drv.writeCallsForPin(27); len(dir) != 1 || dir[0].level != gpio.Low {
		t.Errorf("inverted cw should be LOW, got %v", dir)
	}
}

func TestStepper_EnableDisable(t *testing.T) {
	s, drv := newTestStepper(t, defaultConfig())

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	enableCalls := drv.writeCallsForPin(5)
	if len(enableCalls) != 1 || enableCalls[0].level != gpio.Low {
		t.Errorf("Enable should write LOW to enable pin, got %v", enableCalls)
	}

	drv.calls = nil
	if err := s.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	disableCalls := drv.writeCallsForPin(5)
	if len(disableCalls) != 1 || disableCalls[0].level != gpio.High {
		t.Errorf("Disable should write HIGH to enable pin, got %v", disableCalls)
	}
}

func TestStepper_EnableDisable_NoEnablePin(t *testing.T) {
	cfg := defaultConfig()
	cfg.EnablePin = 0
	s, drv := newTestStepper(t, cfg)

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := s.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if len(drv.calls) != 0 {
		t.Errorf("with EnablePin=0, Enable/Disable should produce no GPIO calls, got %d", len(drv.calls))
	}
}

func TestStepper_Release(t *testing.T) {
	s, drv := newTestStepper(t, defaultConfig())
	_, _ = s.Pulse()
	drv.calls = nil

	if err := s.Release(); err != nil {
		t.Fatal(err)
	}
	if step := drv.writeCallsForPin(17); len(step) != 1 || step[0].level != gpio.Low {
		t.Errorf("Release should leave STEP inactive, got %v", step)
	}
	if s.Enabled() {
		t.Error("Release should disable the driver")
	}
}

func TestStepper_DefaultPulseWidth(t *testing.T) {
	cfg := defaultConfig()
	cfg.PulseWidth = 0
	s, _ := newTestStepper(t, cfg)
	if s.cfg.PulseWidth != 5*time.Microsecond {
		t.Errorf("default pulse width = %v, want 5µs", s.cfg.PulseWidth)
	}
}
