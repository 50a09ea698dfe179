package motion

import (
	"context"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/cjeanneret/DomeGo/internal/hw/backend"
)

// handle consumes one command. Every command is consumed once, by Seq.
func (c *Controller) handle(ctx context.Context, now time.Time, cmd dome.MotorCommand) {
	c.lastCmd = cmd.Seq
	if !cmd.Type.Valid() {
		debug.Verbose("Ignoring command #%d of unknown type %q", cmd.Seq, cmd.Type)
		return
	}
	// TRACK is a standing intent; anything else issued before we started is
	// history.
	if cmd.IssuedAt.Before(c.startedAt) && cmd.Type != dome.CommandTrack {
		debug.Info("Ignoring %s #%d issued before start", cmd.Type, cmd.Seq)
		return
	}
	c.metrics.ObserveCommand(cmd.Type)
	debug.Live("Command #%d %s target=%.3f", cmd.Seq, cmd.Type, cmd.Target)

	if c.state.Phase == dome.PhaseFault {
		switch cmd.Type {
		case dome.CommandGoto, dome.CommandJog, dome.CommandTrack:
			debug.Live("In FAULT, %s ignored until STOP or RESET", cmd.Type)
			return
		}
	}

	switch cmd.Type {
	case dome.CommandGoto:
		c.leaveTracking()
		c.request(ctx, now, move{kind: moveGoto, target: dome.NormalizeAngle(cmd.Target)})
	case dome.CommandJog:
		c.leaveTracking()
		c.request(ctx, now, move{kind: moveJog, degrees: cmd.Target})
	case dome.CommandTrack:
		c.track(ctx, now, cmd)
	case dome.CommandStop:
		c.stop(ctx)
	case dome.CommandReset:
		c.reset()
	case dome.CommandMode:
		c.modes.SetContinuous(now, cmd.Continuous)
	}
}

func (c *Controller) track(ctx context.Context, now time.Time, cmd dome.MotorCommand) {
	t := dome.NormalizeAngle(c.table.DomeAngle(cmd.Target))
	c.target = &t
	c.altitude = cmd.Altitude
	if !c.tracking {
		c.tracking = true
		debug.Info("Tracking telescope azimuth %.2f° (dome %.2f°)", cmd.Target, t)
	}
	// A slew in progress re-checks the target when it lands.
	if c.active && (c.kind == moveSlew || c.kind == moveStop) {
		return
	}
	c.maybeSlew(ctx, now, c.groundTruth(now))
}

// maybeSlew issues a full ramp when the target is beyond the slew
// threshold from ref.
func (c *Controller) maybeSlew(ctx context.Context, now time.Time, ref float64) bool {
	if c.target == nil {
		return false
	}
	e := dome.AngleError(*c.target, ref)
	if e < 0 {
		e = -e
	}
	if e <= c.cfg.Feedback.SlewThresholdDeg {
		return false
	}
	c.request(ctx, now, move{kind: moveSlew, target: *c.target})
	return true
}

func (c *Controller) leaveTracking() {
	if c.tracking {
		debug.Info("Tracking stopped")
	}
	c.tracking = false
	c.cmdStale = false
}

// stop decelerates along the current plan's tail and settles IDLE. It also
// clears a hardware fault.
func (c *Controller) stop(ctx context.Context) {
	c.leaveTracking()
	c.target = nil
	c.next = nil
	if c.state.Phase == dome.PhaseFault {
		c.clearFault("STOP")
	}
	if c.active && c.kind != moveStop {
		c.beginStop()
	}
	if !c.active {
		c.settle(ctx)
	}
}

// reset clears a hardware fault without moving.
func (c *Controller) reset() {
	if c.state.Phase != dome.PhaseFault {
		debug.Live("RESET with no fault, nothing to do")
		return
	}
	c.clearFault("RESET")
}

func (c *Controller) clearFault(by string) {
	debug.Info("Hardware fault cleared by %s", by)
	c.fault, c.faultDetail = dome.FaultNone, ""
	if r, ok := c.b.(backend.LateReporter); ok {
		if late := r.TakeLate(); late != 0 {
			c.position += late
			debug.Info("Position adjusted by %+d late step(s)", late)
		}
	}
	c.active = false
	c.state.Phase = dome.PhaseIdle
	c.state.CurrentRate = 0
}
