// Package motion runs the motion process: it owns MotorState, consumes
// commands, drives the pulse backend through ramp plans and closes the loop
// against the encoder.
package motion

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/DomeGo/internal/config"
	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/cjeanneret/DomeGo/internal/hw/backend"
	"github.com/cjeanneret/DomeGo/internal/ipc"
	"github.com/cjeanneret/DomeGo/internal/logic/feedback"
	"github.com/cjeanneret/DomeGo/internal/logic/geometry"
	"github.com/cjeanneret/DomeGo/internal/logic/mode"
	"github.com/cjeanneret/DomeGo/internal/logic/ramp"
	"github.com/cjeanneret/DomeGo/internal/metrics"
)

// shutdownGrace bounds the deceleration and flush run when the process stops.
const shutdownGrace = 5 * time.Second

// Controller is single-threaded: pulse emission, input polling, feedback
// and mode transitions only interleave at step boundaries. It sits between
// the IPC snapshots and the pulse backend.
type Controller struct {
	cfg     *config.Config
	b       backend.Backend
	table   *geometry.Table
	calc    *geometry.StepsCalculator
	params  ramp.Params
	modes   *mode.Machine
	fb      *feedback.Controller
	metrics *metrics.MotionCollector

	commands *ipc.Poller[dome.MotorCommand]
	encoder  *ipc.Poller[dome.EncoderSample]
	status   *ipc.Publisher[dome.Status]

	now       func() time.Time
	startedAt time.Time

	state    dome.MotorState
	origin   float64 // dome angle at position 0
	position int     // signed steps since start
	seeded   bool

	plan   ramp.Plan
	idx    int // next step of plan
	kind   moveKind
	active bool
	next   *move // waits for the current stop tail

	target   *float64
	tracking bool
	altitude float64
	cmdStale bool

	encStale   bool
	encFreshAt time.Time // last poll that saw a new encoder snapshot

	lastCmd     uint64
	fault       dome.FaultKind
	faultDetail string

	lastPoll   time.Time
	lastStatus time.Time
}

// NewController takes a configured backend and a loaded table. m may be nil.
func NewController(cfg *config.Config, b backend.Backend, table *geometry.Table, m *metrics.MotionCollector) (*Controller, error) {
	status, err := ipc.NewPublisher[dome.Status](cfg.IPC.Dir, ipc.StatusFile)
	if err != nil {
		return nil, fmt.Errorf("status publisher: %w", err)
	}
	params := ramp.Params{
		CruiseRate:  cfg.Ramp.CruiseRate,
		MaxAccel:    cfg.Ramp.MaxAccel,
		WarmupSteps: cfg.Ramp.WarmupSteps,
		WarmupRate:  cfg.Ramp.WarmupRate,
		Profile:     ramp.Profile(cfg.Ramp.Profile),
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: ramp: %w", config.ErrInvalid, err)
	}

	now := time.Now()
	c := &Controller{
		cfg:       cfg,
		b:         b,
		table:     table,
		calc:      geometry.NewStepsCalculator(cfg),
		params:    params,
		modes:     mode.NewMachine(mode.FromConfig(cfg.Modes), now),
		fb:        feedback.NewController(cfg.StaleAfter()),
		metrics:   m,
		commands:  ipc.NewPoller[dome.MotorCommand](cfg.IPC.Dir, ipc.CommandFile),
		encoder:   ipc.NewPoller[dome.EncoderSample](cfg.IPC.Dir, ipc.EncoderFile),
		status:    status,
		now:       time.Now,
		startedAt: now,
	}
	c.state.Phase = dome.PhaseIdle
	c.state.ActiveMode = dome.ModeNormal
	return c, nil
}

// Run drives the loop until ctx is done, then decelerates any move in
// progress and publishes a last status.
func (c *Controller) Run(ctx context.Context) error {
	debug.Info("Motion loop running (poll %v, status %v, %.2f steps/°)",
		c.cfg.PollInterval(), c.cfg.StatusInterval(), c.calc.StepsPerDegree())
	for {
		if ctx.Err() != nil {
			c.halt()
			return nil
		}
		if c.cycle(ctx, c.now()) {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(c.cfg.PollInterval()):
		}
	}
}

// cycle runs one loop iteration and reports whether a pulse was emitted.
func (c *Controller) cycle(ctx context.Context, now time.Time) bool {
	if now.Sub(c.lastPoll) >= c.cfg.PollInterval() {
		c.lastPoll = now
		c.poll(ctx, now)
	}
	busy := false
	if c.active && c.state.Phase != dome.PhaseFault {
		c.stepOnce(ctx, now)
		busy = true
	}
	if c.tracking && c.state.Phase != dome.PhaseFault {
		c.evaluate(ctx, now)
	}
	if now.Sub(c.lastStatus) >= c.cfg.StatusInterval() {
		c.lastStatus = now
		c.publish(now)
	}
	return busy || c.active
}

func (c *Controller) poll(ctx context.Context, now time.Time) {
	enc := c.encoder.Poll()
	if enc.Valid {
		c.metrics.SetEncoderAge(now.Sub(enc.Value.Timestamp))
		c.seed(now, enc.Value)
	}
	c.checkEncoder(now, enc)

	cmd := c.commands.Poll()
	if cmd.Valid {
		c.metrics.SetCommandAge(cmd.Age(now))
		if cmd.Value.Seq > c.lastCmd {
			c.handle(ctx, now, cmd.Value)
		}
	}
	c.metrics.SetUnreadable(ipc.EncoderFile, c.encoder.Rejected())
	c.metrics.SetUnreadable(ipc.CommandFile, c.commands.Rejected())

	if !c.tracking {
		c.cmdStale = false
		return
	}
	c.modes.Update(now, c.altitude)

	stale := cmd.Stale(now, c.cfg.CommandMaxAge())
	if stale && !c.cmdStale {
		debug.Fault(string(dome.FaultStaleness), "command")
		debug.Verbose("Command snapshot age %v", cmd.Age(now))
		c.metrics.ObserveFault(dome.FaultStaleness)
	} else if !stale && c.cmdStale {
		debug.Info("Command snapshot fresh again")
	}
	c.cmdStale = stale
}

// checkEncoder tracks encoder staleness on every poll, moving or not. Once a
// sample has been seen, ground truth is stale when the sample is older than
// stale_after or no new snapshot arrived within it.
func (c *Controller) checkEncoder(now time.Time, enc ipc.Reading[dome.EncoderSample]) {
	if !enc.Valid {
		return
	}
	if enc.Updated {
		c.encFreshAt = now
	}
	stale := now.Sub(enc.Value.Timestamp) > c.cfg.StaleAfter() || now.Sub(c.encFreshAt) > c.cfg.StaleAfter()
	if stale && !c.encStale {
		debug.Fault(string(dome.FaultStaleness), "encoder")
		c.metrics.ObserveFault(dome.FaultStaleness)
	} else if !stale && c.encStale {
		debug.Info("Encoder data fresh again")
	}
	c.encStale = stale
}

// seed anchors the step-derived angle to the first fresh encoder sample.
func (c *Controller) seed(now time.Time, s dome.EncoderSample) {
	if c.seeded || c.active || now.Sub(s.Timestamp) > c.cfg.StaleAfter() {
		return
	}
	c.origin = dome.NormalizeAngle(s.Angle - c.calc.AngleFromSteps(c.position))
	c.seeded = true
	debug.Info("Origin synchronised to encoder at %.3f°", s.Angle)
}

// Angle returns the step-derived dome angle.
func (c *Controller) Angle() float64 {
	return dome.NormalizeAngle(c.origin + c.calc.AngleFromSteps(c.position))
}

// groundTruth is the encoder angle when fresh, else the step-derived angle.
func (c *Controller) groundTruth(now time.Time) float64 {
	r := c.encoder.Last()
	if r.Valid && !c.encStale && now.Sub(r.Value.Timestamp) <= c.cfg.StaleAfter() {
		return r.Value.Angle
	}
	return c.Angle()
}

// Status returns the read-only view of MotorState.
func (c *Controller) Status(now time.Time) dome.Status {
	c.state.CurrentAngle = c.Angle()
	c.state.ActiveMode = c.modes.Mode()
	s := dome.Status{
		Angle:       c.state.CurrentAngle,
		Rate:        c.state.CurrentRate,
		Phase:       c.state.Phase,
		Mode:        c.state.ActiveMode,
		LastCommand: c.lastCmd,
		UpdatedAt:   now,
	}
	if r := c.encoder.Last(); r.Valid {
		a := r.Value.Angle
		s.EncoderAngle = &a
	}
	if c.target != nil {
		t := *c.target
		s.Target = &t
	}
	s.Fault, s.FaultDetail = c.currentFault()
	return s
}

func (c *Controller) currentFault() (dome.FaultKind, string) {
	switch {
	case c.fault != dome.FaultNone:
		return c.fault, c.faultDetail
	case c.tracking && c.cmdStale:
		return dome.FaultStaleness, "command"
	case c.encStale || (c.tracking && c.fb.Suspended()):
		return dome.FaultStaleness, "encoder"
	}
	return dome.FaultNone, ""
}

func (c *Controller) publish(now time.Time) {
	s := c.Status(now)
	c.metrics.SetStatus(s)
	if err := c.status.Publish(s); err != nil {
		debug.Error(err)
	}
}

// halt brings a move to rest on shutdown.
func (c *Controller) halt() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if c.active && c.state.Phase != dome.PhaseFault {
		debug.Info("Shutting down mid-move, decelerating")
		c.stop(ctx)
		for c.active && c.state.Phase != dome.PhaseFault && ctx.Err() == nil {
			c.stepOnce(ctx, c.now())
		}
	}
	c.publish(c.now())
}
