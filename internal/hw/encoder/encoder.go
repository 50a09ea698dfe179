// Package encoder samples the dome's absolute position encoder, independent
// of the step count, and publishes it at a fixed rate.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cjeanneret/DomeGo/internal/config"
)

var (
	// ErrNoReading means the source has nothing newer than its last value.
	ErrNoReading = errors.New("no new encoder reading")
	// ErrReaderOpen is returned when a second Reader is opened in a process.
	ErrReaderOpen = errors.New("encoder reader already open")
)

// Source yields the dome azimuth in degrees, [0, 360).
type Source interface {
	Read(ctx context.Context) (float64, error)
	Close() error
}

// NewSource builds the source named by cfg.Encoder.Source. status is only
// used by the simulator.
func NewSource(cfg *config.Config, status StatusFunc) (Source, error) {
	switch strings.ToLower(cfg.Encoder.Source) {
	case "modbus":
		return NewModbusSource(cfg.Encoder.Modbus), nil
	case "serial":
		return NewLineSource(cfg.Encoder.Serial), nil
	case "sim":
		if status == nil {
			return nil, errors.New("simulated encoder needs a status feed")
		}
		return NewSimSource(cfg.Encoder.Sim, status), nil
	}
	return nil, fmt.Errorf("unknown encoder source %q", cfg.Encoder.Source)
}
