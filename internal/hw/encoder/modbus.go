package encoder

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/cjeanneret/DomeGo/internal/config"
	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/goburrow/modbus"
)

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// ModbusSource reads a 32-bit position count from two holding registers
// (high word first). The address is a serial device for RTU, or
// tcp://host:port for Modbus/TCP. A failed read closes the connection; the
// next Read reconnects.
type ModbusSource struct {
	cfg       config.ModbusEncoderConfig
	handler   modbusHandler
	client    modbus.Client
	connected bool
}

func NewModbusSource(cfg config.ModbusEncoderConfig) *ModbusSource {
	var h modbusHandler
	if addr, ok := strings.CutPrefix(cfg.Address, "tcp://"); ok {
		th := modbus.NewTCPClientHandler(addr)
		th.Timeout = time.Second
		th.SlaveId = byte(cfg.SlaveID)
		h = th
	} else {
		rh := modbus.NewRTUClientHandler(cfg.Address)
		rh.BaudRate = cfg.Baud
		rh.DataBits = 8
		rh.Parity = "N"
		rh.StopBits = 1
		rh.Timeout = time.Second
		rh.SlaveId = byte(cfg.SlaveID)
		h = rh
	}
	return newModbusSource(cfg, h, modbus.NewClient(h))
}

func newModbusSource(cfg config.ModbusEncoderConfig, h modbusHandler, c modbus.Client) *ModbusSource {
	return &ModbusSource{cfg: cfg, handler: h, client: c}
}

func (m *ModbusSource) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !m.connected {
		if err := m.handler.Connect(); err != nil {
			return 0, fmt.Errorf("connect %s: %w", m.cfg.Address, err)
		}
		debug.Info("Encoder connected on %s", m.cfg.Address)
		m.connected = true
	}
	regs, err := m.client.ReadHoldingRegisters(uint16(m.cfg.Register), 2)
	if err != nil {
		m.handler.Close()
		m.connected = false
		return 0, fmt.Errorf("read registers %d-%d: %w", m.cfg.Register, m.cfg.Register+1, err)
	}
	if len(regs) != 4 {
		return 0, fmt.Errorf("expected 4 register bytes, got %d", len(regs))
	}
	return countsToAngle(binary.BigEndian.Uint32(regs), m.cfg.CountsPerRev, m.cfg.OffsetDeg, m.cfg.Reversed), nil
}

func (m *ModbusSource) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.handler.Close()
}

// countsToAngle maps an encoder count to a dome azimuth.
func countsToAngle(count uint32, countsPerRev int, offset float64, reversed bool) float64 {
	c := count % uint32(countsPerRev)
	deg := float64(c) * 360 / float64(countsPerRev)
	if reversed {
		deg = -deg
	}
	return dome.NormalizeAngle(deg + offset)
}
