package motion

import (
	"context"
	"errors"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/cjeanneret/DomeGo/internal/hw/backend"
	"github.com/cjeanneret/DomeGo/internal/logic/feedback"
	"github.com/cjeanneret/DomeGo/internal/logic/ramp"
)

type moveKind int

const (
	moveGoto moveKind = iota
	moveJog
	moveSlew
	moveCorrection
	moveStop
)

func (k moveKind) String() string {
	switch k {
	case moveJog:
		return "jog"
	case moveSlew:
		return "slew"
	case moveCorrection:
		return "correction"
	case moveStop:
		return "stop"
	}
	return "goto"
}

// move is a requested motion. Absolute kinds use target, relative ones degrees.
type move struct {
	kind    moveKind
	target  float64
	degrees float64
}

// request starts m, or queues it behind the deceleration tail of the plan in
// progress. Direction never flips mid-plan.
func (c *Controller) request(ctx context.Context, now time.Time, m move) {
	if c.active {
		if c.kind != moveStop {
			c.beginStop()
		}
		if c.active {
			c.next = &m
			return
		}
	}
	c.start(ctx, now, m)
}

func (c *Controller) start(ctx context.Context, now time.Time, m move) {
	var steps int
	switch m.kind {
	case moveJog, moveCorrection:
		steps = c.calc.StepsFromAngle(m.degrees)
	default:
		steps = c.calc.StepsForMove(c.Angle(), m.target)
	}
	switch m.kind {
	case moveGoto:
		t := m.target
		c.target = &t
	case moveJog:
		t := dome.NormalizeAngle(c.Angle() + c.calc.AngleFromSteps(steps))
		c.target = &t
	}

	p := c.params
	p.Steps = steps
	plan := ramp.Generate(p)
	if plan.Degraded {
		debug.Verbose("Move of %d steps too short for a full ramp: %d warm-up, %d up, %d down",
			steps, plan.Warmup, plan.Accel, plan.Decel)
	}
	debug.Move(steps, plan.Dir.String(), m.kind.String())
	if plan.Len() == 0 {
		c.kind = m.kind
		c.finish(ctx, now)
		return
	}
	c.plan, c.idx, c.kind, c.active = plan, 0, m.kind, true
	if debug.IsEnabled(debug.LevelVerbose) {
		debug.Verbose("Plan: %d pulses over %v (warm-up %d, accel %d, cruise %d, decel %d)",
			plan.Len(), plan.Duration(), plan.Warmup, plan.Accel, plan.Cruise, plan.Decel)
	}
}

// beginStop swaps the current plan for its deceleration tail from the last
// emitted step. An empty tail ends the plan at once.
func (c *Controller) beginStop() {
	if c.kind == moveCorrection {
		c.fb.Cancel()
		c.metrics.ObserveCorrection("cancelled")
	}
	var tail ramp.Plan
	if c.idx > 0 {
		tail = c.plan.StopTail(c.idx - 1)
	}
	if tail.Len() == 0 {
		c.active = false
		c.state.CurrentRate = 0
		return
	}
	debug.Live("Stopping after %d steps: %d-step deceleration", c.idx, tail.Len())
	c.plan, c.idx, c.kind = tail, 0, moveStop
}

// stepOnce emits the next pulse of the plan.
func (c *Controller) stepOnce(ctx context.Context, now time.Time) {
	s := c.plan.Steps[c.idx]
	if err := c.b.Step(s.Dir, s.Delay); err != nil {
		c.fail(err)
		return
	}
	c.idx++
	c.position += int(s.Dir)
	c.state.Phase = s.Phase
	c.state.CurrentRate = float64(s.Dir) / s.Delay.Seconds() / c.calc.StepsPerDegree()
	c.metrics.AddPulses(1)
	if c.idx >= c.plan.Len() {
		c.finish(ctx, now)
	}
}

// finish runs once the last pulse of a plan has been accepted.
func (c *Controller) finish(ctx context.Context, now time.Time) {
	c.active = false
	c.state.CurrentRate = 0
	if err := c.b.Flush(ctx); err != nil && ctx.Err() == nil {
		c.fail(err)
		return
	}

	switch c.kind {
	case moveStop:
		if c.next != nil {
			m := *c.next
			c.next = nil
			c.start(ctx, now, m)
			return
		}
		c.settle(ctx)
		return
	case moveCorrection:
		c.fb.Complete()
		c.metrics.ObserveCorrection("completed")
	case moveSlew:
		// The target may have moved on during the slew.
		if c.tracking && c.maybeSlew(ctx, now, c.Angle()) {
			return
		}
	}
	c.state.Phase = dome.PhaseHolding
}

// settle ends in IDLE and drops holding torque when configured.
func (c *Controller) settle(ctx context.Context) {
	if err := c.b.Flush(ctx); err != nil && ctx.Err() == nil {
		c.fail(err)
		return
	}
	c.state.Phase = dome.PhaseIdle
	c.state.CurrentRate = 0
	if !c.cfg.Motor.ReleaseOnIdle {
		return
	}
	if r, ok := c.b.(backend.Releaser); ok {
		if err := r.Release(); err != nil {
			debug.Error(err)
		}
	}
}

// fail enters FAULT at the last step-derived position. Only STOP or RESET
// leave it.
func (c *Controller) fail(err error) {
	c.active = false
	c.next = nil
	c.leaveTracking()
	c.target = nil
	c.fb.Cancel()
	c.state.Phase = dome.PhaseFault
	c.state.CurrentRate = 0
	c.fault, c.faultDetail = dome.FaultHardware, err.Error()
	if errors.Is(err, backend.ErrStepTimeout) {
		// A timed-out pulse may still be emitted; STOP or RESET reconcile it.
		c.faultDetail += " (position uncertain)"
	}
	debug.Fault(string(dome.FaultHardware), c.faultDetail)
	c.metrics.ObserveFault(dome.FaultHardware)
}

// evaluate runs a feedback tick when one is due and no other move owns
// the motor.
func (c *Controller) evaluate(ctx context.Context, now time.Time) {
	if c.target == nil || c.cmdStale {
		return
	}
	if c.active && c.kind != moveCorrection {
		return
	}
	profile := c.modes.Profile()
	if !c.fb.Due(now, profile.TickInterval) {
		return
	}
	r := c.encoder.Last()
	wasSuspended := c.fb.Suspended()
	res := c.fb.Tick(now, *c.target, r.Value, r.Valid && !c.encStale, profile)

	switch res.Action {
	case feedback.Suspend:
		if !wasSuspended {
			// poll already counted a stale encoder.
			if !c.encStale {
				c.metrics.ObserveFault(dome.FaultStaleness)
			}
			c.metrics.ObserveCorrection("suspended")
		}
	case feedback.Correct:
		c.metrics.SetTrackingError(res.Error)
		if corr, ok := c.fb.Take(); ok {
			c.metrics.ObserveCorrection("issued")
			c.start(ctx, now, move{kind: moveCorrection, degrees: corr.Degrees})
		}
	default:
		c.metrics.SetTrackingError(res.Error)
	}
}
