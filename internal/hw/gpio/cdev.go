package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "domego"

// CdevDriver drives pins through the GPIO character device. It works on
// kernels where /dev/gpiomem is unavailable (Pi 5, non-Pi boards).
type CdevDriver struct {
	chip  string
	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

// NewCdevDriver opens lines on chip (e.g. "gpiochip0") lazily on SetupPin.
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	debug.Info("Initializing GPIO driver (gpiocdev on %s)", chip)
	return &CdevDriver{chip: chip, lines: make(map[int]*gpiocdev.Line)}, nil
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.lines[pin]; ok {
		_ = l.Close()
		delete(c.lines, pin)
	}

	var opt gpiocdev.LineReqOption
	switch mode {
	case Input:
		opt = gpiocdev.AsInput
	case Output:
		opt = gpiocdev.AsOutput(0)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	l, err := gpiocdev.RequestLine(c.chip, pin, opt, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return fmt.Errorf("request line %d on %s: %w", pin, c.chip, err)
	}
	c.lines[pin] = l
	return nil
}

func (c *CdevDriver) line(pin int) (*gpiocdev.Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d not set up", pin)
	}
	return l, nil
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	l, err := c.line(pin)
	if err != nil {
		return err
	}
	debug.GPIO("WritePin", pin, level)
	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	l, err := c.line(pin)
	if err != nil {
		return Low, err
	}
	v, err := l.Value()
	if err != nil {
		return Low, err
	}
	return v == 1, nil
}

// Close drives outputs low and releases every requested line.
func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (cdev)")
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for pin, l := range c.lines {
		_ = l.SetValue(0)
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", pin, err))
		}
		delete(c.lines, pin)
	}
	return errors.Join(errs...)
}
