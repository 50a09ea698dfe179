package gpio

import (
	"fmt"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver drives pins through the memory-mapped registers (go-rpio).
// It is the fastest option and the one the software backend prefers.
type RPiDriver struct {
	pins map[int]rpio.Pin
}

// NewRPiRealDriver maps /dev/gpiomem. Requires a Raspberry Pi.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{pins: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = p
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	p, ok := r.pins[pin]
	if !ok {
		return fmt.Errorf("pin %d not set up", pin)
	}
	debug.GPIO("WritePin", pin, level)
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	p, ok := r.pins[pin]
	if !ok {
		return Low, fmt.Errorf("pin %d not set up", pin)
	}
	return p.Read() == rpio.High, nil
}

// Close drives every output low and releases them as inputs.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (rpio)")
	for pin, p := range r.pins {
		debug.Verbose("Releasing pin %d", pin)
		p.Low()
		p.Input()
	}
	return rpio.Close()
}
