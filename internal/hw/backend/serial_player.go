package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"go.bug.st/serial"
)

// Wire format, little endian:
//
//	frame: 0xA5 | kind | seq u16 | len u16 | payload | crc32(kind..payload)
//	reply: status | seq u16
//
// Play payload is len/5 segments of dir u8 (0 cw, 1 ccw) | delay_us u32.
const (
	frameSync byte = 0xA5

	frameSetup byte = 'S'
	framePlay  byte = 'P'
	frameDrain byte = 'D'

	replyAck      byte = 'A'
	replyFull     byte = 'F' // queue full, or still playing for a drain
	replyUnderrun byte = 'U'
	replyError    byte = 'E'

	headerLen  = 6
	replyLen   = 3
	segmentLen = 5
)

var errBadFrame = errors.New("malformed frame")

// serialLink is the subset of serial.Port the player needs.
type serialLink interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialPlayer streams pulse chains to a coprocessor over a serial link.
// The coprocessor owns the timing; the host only keeps its queue fed.
type SerialPlayer struct {
	link       serialLink
	ackTimeout time.Duration
	retry      time.Duration
	seq        uint16
}

// OpenSerialPlayer opens the coprocessor port.
func OpenSerialPlayer(port string, baud int, ackTimeout time.Duration) (*SerialPlayer, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("%w: open chain port %s: %w", ErrHardware, port, err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("%w: reset chain port: %w", ErrHardware, err)
	}
	debug.Info("Chain coprocessor on %s @ %d baud", port, baud)
	return newSerialPlayer(p, ackTimeout), nil
}

func newSerialPlayer(link serialLink, ackTimeout time.Duration) *SerialPlayer {
	if ackTimeout <= 0 {
		ackTimeout = time.Second
	}
	return &SerialPlayer{link: link, ackTimeout: ackTimeout, retry: 2 * time.Millisecond}
}

func (p *SerialPlayer) Setup(ctx context.Context, pins Pins, pulseWidth time.Duration) error {
	return p.exchange(ctx, frameSetup, encodeSetup(pins, pulseWidth))
}

func (p *SerialPlayer) Play(ctx context.Context, chunk []Segment) error {
	if len(chunk)*segmentLen > math.MaxUint16 {
		return fmt.Errorf("chunk of %d pulses does not fit a frame", len(chunk))
	}
	return p.exchange(ctx, framePlay, encodeSegments(chunk))
}

func (p *SerialPlayer) Drain(ctx context.Context) error {
	return p.exchange(ctx, frameDrain, nil)
}

func (p *SerialPlayer) Close() error {
	return p.link.Close()
}

// exchange sends one frame and waits for its reply, resending while the
// coprocessor answers "full".
func (p *SerialPlayer) exchange(ctx context.Context, kind byte, payload []byte) error {
	p.seq++
	frame := encodeFrame(kind, p.seq, payload)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.link.Write(frame); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		status, seq, err := p.readReply()
		if err != nil {
			return err
		}
		if seq != p.seq {
			return fmt.Errorf("reply for frame %d, expected %d", seq, p.seq)
		}
		switch status {
		case replyAck:
			return nil
		case replyFull:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retry):
			}
		case replyUnderrun:
			return ErrUnderrun
		case replyError:
			return fmt.Errorf("coprocessor rejected frame %c/%d", kind, p.seq)
		default:
			return fmt.Errorf("unknown reply status 0x%02x", status)
		}
	}
}

func (p *SerialPlayer) readReply() (byte, uint16, error) {
	deadline := time.Now().Add(p.ackTimeout)
	buf := make([]byte, replyLen)
	n := 0
	for n < replyLen {
		rem := time.Until(deadline)
		if rem <= 0 {
			return 0, 0, fmt.Errorf("no reply within %v", p.ackTimeout)
		}
		if err := p.link.SetReadTimeout(rem); err != nil {
			return 0, 0, fmt.Errorf("set read timeout: %w", err)
		}
		m, err := p.link.Read(buf[n:])
		if err != nil {
			return 0, 0, fmt.Errorf("read reply: %w", err)
		}
		n += m
	}
	return buf[0], binary.LittleEndian.Uint16(buf[1:]), nil
}

func encodeFrame(kind byte, seq uint16, payload []byte) []byte {
	buf := make([]byte, 0, headerLen+len(payload)+4)
	buf = append(buf, frameSync, kind)
	buf = binary.LittleEndian.AppendUint16(buf, seq)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf[1:]))
}

func decodeFrame(b []byte) (kind byte, seq uint16, payload []byte, err error) {
	if len(b) < headerLen+4 || b[0] != frameSync {
		return 0, 0, nil, errBadFrame
	}
	n := int(binary.LittleEndian.Uint16(b[4:]))
	if len(b) != headerLen+n+4 {
		return 0, 0, nil, errBadFrame
	}
	body := b[:headerLen+n]
	if crc32.ChecksumIEEE(body[1:]) != binary.LittleEndian.Uint32(b[headerLen+n:]) {
		return 0, 0, nil, fmt.Errorf("%w: crc mismatch", errBadFrame)
	}
	return b[1], binary.LittleEndian.Uint16(b[2:]), body[headerLen:], nil
}

// encodeSegments rounds delays up to whole microseconds so the played
// spacing is never shorter than requested.
func encodeSegments(chunk []Segment) []byte {
	out := make([]byte, 0, len(chunk)*segmentLen)
	for _, s := range chunk {
		var d byte
		if s.Dir == dome.CounterClockwise {
			d = 1
		}
		us := (s.Delay + time.Microsecond - 1) / time.Microsecond
		if us < 0 {
			us = 0
		}
		if us > math.MaxUint32 {
			us = math.MaxUint32
		}
		out = append(out, d)
		out = binary.LittleEndian.AppendUint32(out, uint32(us))
	}
	return out
}

func decodeSegments(b []byte) ([]Segment, error) {
	if len(b)%segmentLen != 0 {
		return nil, errBadFrame
	}
	segs := make([]Segment, 0, len(b)/segmentLen)
	for i := 0; i < len(b); i += segmentLen {
		dir := dome.Clockwise
		if b[i] == 1 {
			dir = dome.CounterClockwise
		}
		us := binary.LittleEndian.Uint32(b[i+1:])
		segs = append(segs, Segment{Dir: dir, Delay: time.Duration(us) * time.Microsecond})
	}
	return segs, nil
}

func encodeSetup(pins Pins, pulseWidth time.Duration) []byte {
	var flags byte
	if pins.StepActiveLow {
		flags |= 1
	}
	if pins.DirInverted {
		flags |= 2
	}
	if pins.EnableActiveHigh {
		flags |= 4
	}
	out := []byte{byte(pins.Step), byte(pins.Dir), byte(pins.Enable), flags}
	return binary.LittleEndian.AppendUint16(out, uint16((pulseWidth+time.Microsecond-1)/time.Microsecond))
}
