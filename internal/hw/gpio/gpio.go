package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/DomeGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver defines the abstract interface for controlling GPIOs.
// Pin numbers are BCM line offsets on every implementation.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver creates a GPIO driver by kind: "rpio" maps /dev/gpiomem,
// "cdev" uses the character device named by chip, "mock" logs only.
func NewDriver(kind, chip string) (Driver, error) {
	switch kind {
	case "mock":
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case "rpio", "":
		return NewRPiRealDriver()
	case "cdev":
		return NewCdevDriver(chip)
	}
	return nil, fmt.Errorf("unknown gpio driver %q", kind)
}

// MockDriver keeps the last written level of every pin so tests and the
// mock backend can inspect it.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	writes int
	// FailWrite, when set, is returned by WritePin for that pin.
	FailWrite map[int]error
}

func NewMockDriver() *MockDriver {
	return &MockDriver{levels: make(map[int]Level), FailWrite: make(map[int]error)}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailWrite[pin]; err != nil {
		return err
	}
	m.levels[pin] = level
	m.writes++
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

// Writes returns how many successful writes were made.
func (m *MockDriver) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
