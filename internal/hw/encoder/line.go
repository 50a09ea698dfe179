package encoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/DomeGo/internal/config"
	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/tarm/serial"
)

// LineSource reads an encoder that streams ASCII lines such as "A123.456".
// A background scanner keeps only the latest value; Read returns it once.
type LineSource struct {
	cfg  config.SerialEncoderConfig
	open func() (io.ReadCloser, error)

	mu     sync.Mutex
	port   io.ReadCloser
	latest float64
	fresh  bool
	err    error
}

func NewLineSource(cfg config.SerialEncoderConfig) *LineSource {
	return &LineSource{
		cfg: cfg,
		open: func() (io.ReadCloser, error) {
			return serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: time.Second})
		},
	}
}

func (l *LineSource) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		p, err := l.open()
		if err != nil {
			return 0, fmt.Errorf("open %s: %w", l.cfg.Port, err)
		}
		debug.Info("Encoder line reader on %s @ %d baud", l.cfg.Port, l.cfg.Baud)
		l.port, l.err = p, nil
		go l.scan(p)
	}
	if l.err != nil {
		err := l.err
		l.port.Close()
		l.port, l.err = nil, nil
		return 0, err
	}
	if !l.fresh {
		return 0, ErrNoReading
	}
	l.fresh = false
	return l.latest, nil
}

func (l *LineSource) scan(p io.Reader) {
	sc := bufio.NewScanner(p)
	for sc.Scan() {
		a, err := parseLine(sc.Text())
		if err != nil {
			debug.Verbose("encoder: %v", err)
			continue
		}
		l.mu.Lock()
		l.latest, l.fresh = a, true
		l.mu.Unlock()
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	l.mu.Lock()
	if l.port != nil {
		l.err = fmt.Errorf("encoder stream ended: %w", err)
	}
	l.mu.Unlock()
}

func (l *LineSource) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	p := l.port
	l.port = nil
	return p.Close()
}

// parseLine accepts "A<degrees>" with optional surrounding whitespace.
func parseLine(line string) (float64, error) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "A") {
		return 0, fmt.Errorf("unexpected encoder line %q", line)
	}
	v, err := strconv.ParseFloat(s[1:], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("bad angle in %q", line)
	}
	return dome.NormalizeAngle(v), nil
}
