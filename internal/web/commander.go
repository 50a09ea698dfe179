package web

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/cjeanneret/DomeGo/internal/ipc"
)

// ErrInvalidCommand is returned for a request the motion process must
// never see.
var ErrInvalidCommand = errors.New("invalid command")

// CommandRequest is what the dashboard posts, by HTTP or WebSocket.
type CommandRequest struct {
	Type       string  `json:"type"`
	Target     float64 `json:"target"`
	Altitude   float64 `json:"altitude"`
	Continuous bool    `json:"continuous"`
}

// ValidateCommand checks a request and returns the command type it names.
func ValidateCommand(req CommandRequest) (dome.CommandType, error) {
	t := dome.CommandType(strings.ToUpper(strings.TrimSpace(req.Type)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, req.Type)
	}
	if !finite(req.Target) || !finite(req.Altitude) {
		return "", fmt.Errorf("%w: target and altitude must be finite", ErrInvalidCommand)
	}
	switch t {
	case dome.CommandGoto:
		if req.Target < 0 || req.Target >= 360 {
			return "", fmt.Errorf("%w: GOTO target must be in [0, 360), got %g", ErrInvalidCommand, req.Target)
		}
	case dome.CommandJog:
		if req.Target == 0 || math.Abs(req.Target) > 720 {
			return "", fmt.Errorf("%w: JOG must be non-zero and within ±720°, got %g", ErrInvalidCommand, req.Target)
		}
	case dome.CommandTrack:
		if req.Target < 0 || req.Target >= 360 {
			return "", fmt.Errorf("%w: TRACK azimuth must be in [0, 360), got %g", ErrInvalidCommand, req.Target)
		}
		if req.Altitude < -90 || req.Altitude > 90 {
			return "", fmt.Errorf("%w: altitude must be in [-90, 90], got %g", ErrInvalidCommand, req.Altitude)
		}
	}
	return t, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Commander owns command.json. Each accepted request becomes a new
// MotorCommand with a higher Seq; the latest one is republished at a fixed
// cadence so the motion process can judge its freshness.
type Commander struct {
	pub      *ipc.Publisher[dome.MotorCommand]
	interval time.Duration

	mu      sync.Mutex
	seq     uint64
	current dome.MotorCommand
	ready   chan struct{}
	once    sync.Once
}

func NewCommander(dir string, interval time.Duration) (*Commander, error) {
	pub, err := ipc.NewPublisher[dome.MotorCommand](dir, ipc.CommandFile)
	if err != nil {
		return nil, err
	}
	return &Commander{
		pub:      pub,
		interval: interval,
		seq:      uint64(time.Now().UnixNano()),
		ready:    make(chan struct{}),
	}, nil
}

// Submit validates, stamps and publishes a command.
func (c *Commander) Submit(req CommandRequest) (dome.MotorCommand, error) {
	t, err := ValidateCommand(req)
	if err != nil {
		return dome.MotorCommand{}, err
	}

	c.mu.Lock()
	c.seq++
	cmd := dome.MotorCommand{
		Seq:        c.seq,
		Type:       t,
		Target:     req.Target,
		Altitude:   req.Altitude,
		Continuous: req.Continuous,
		IssuedAt:   time.Now(),
	}
	c.current = cmd
	c.mu.Unlock()
	c.once.Do(func() { close(c.ready) })

	if err := c.pub.Publish(cmd); err != nil {
		return cmd, fmt.Errorf("publish command: %w", err)
	}
	debug.Live("Command #%d %s target=%.3f published", cmd.Seq, cmd.Type, cmd.Target)
	return cmd, nil
}

// Current returns the latest accepted command.
func (c *Commander) Current() (dome.MotorCommand, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current.Seq != 0
}

// Run republishes the current command until ctx is done. Nothing is written
// before the first Submit.
func (c *Commander) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-c.ready:
	}
	return c.pub.Run(ctx, c.interval, func() dome.MotorCommand {
		cmd, _ := c.Current()
		return cmd
	})
}
