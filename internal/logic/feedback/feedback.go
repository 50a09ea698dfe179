// Package feedback closes the loop between the commanded dome angle and the
// encoder's ground truth.
package feedback

import (
	"math"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/cjeanneret/DomeGo/internal/logic/mode"
)

// Action is the outcome of one Tick.
type Action int

const (
	Hold    Action = iota // within the deadband
	Correct               // a correction is pending, call Take
	Busy                  // a correction is executing
	Suspend               // encoder data is stale
)

func (a Action) String() string {
	switch a {
	case Correct:
		return "correct"
	case Busy:
		return "busy"
	case Suspend:
		return "suspend"
	}
	return "hold"
}

// Correction is a relative move in degrees, signed clockwise positive.
type Correction struct {
	ID       uint64
	Degrees  float64
	Error    float64
	IssuedAt time.Time
}

// Result reports one Tick.
type Result struct {
	Action     Action
	Error      float64 // wrapped target - encoder angle, (-180, 180]
	Correction Correction
	Fault      dome.FaultKind
}

// Controller issues capped corrections with at most one outstanding: either
// pending (issued, not yet taken) or executing. A newer pending correction
// replaces an older one.
type Controller struct {
	staleAfter time.Duration

	lastSeq   uint64
	lastSeqAt time.Time
	seen      bool

	lastTick  time.Time
	nextID    uint64
	pending   *Correction
	executing *Correction
	suspended bool
}

func NewController(staleAfter time.Duration) *Controller {
	return &Controller{staleAfter: staleAfter}
}

// Due reports whether interval has elapsed since the last Tick.
func (c *Controller) Due(now time.Time, interval time.Duration) bool {
	return c.lastTick.IsZero() || now.Sub(c.lastTick) >= interval
}

// Tick evaluates the error once. haveSample is false when no encoder data
// was ever read.
func (c *Controller) Tick(now time.Time, target float64, sample dome.EncoderSample, haveSample bool, p mode.Profile) Result {
	c.lastTick = now

	if haveSample && (!c.seen || sample.Seq != c.lastSeq) {
		c.lastSeq, c.lastSeqAt, c.seen = sample.Seq, now, true
	}
	if !haveSample || c.Stale(now, sample) {
		if !c.suspended {
			debug.Fault(string(dome.FaultStaleness), "encoder")
		}
		c.suspended = true
		c.pending = nil
		return Result{Action: Suspend, Fault: dome.FaultStaleness}
	}
	if c.suspended {
		debug.Info("Encoder data fresh again, corrections resumed")
		c.suspended = false
	}

	e := dome.AngleError(target, sample.Angle)
	res := Result{Error: e}
	if c.executing != nil {
		res.Action = Busy
		return res
	}
	if math.Abs(e) <= p.Deadband {
		c.pending = nil
		res.Action = Hold
		return res
	}

	c.nextID++
	corr := Correction{
		ID:       c.nextID,
		Degrees:  math.Copysign(math.Min(math.Abs(e), p.MaxCorrection), e),
		Error:    e,
		IssuedAt: now,
	}
	c.pending = &corr
	debug.Live("Correction #%d: error %.3f° -> move %.3f°", corr.ID, e, corr.Degrees)
	res.Action = Correct
	res.Correction = corr
	return res
}

// Stale reports whether the sample's sequence has not advanced within the
// staleness window, or the sample itself is older than it.
func (c *Controller) Stale(now time.Time, sample dome.EncoderSample) bool {
	if now.Sub(sample.Timestamp) > c.staleAfter {
		return true
	}
	return c.seen && now.Sub(c.lastSeqAt) > c.staleAfter
}

// Take moves the pending correction to executing.
func (c *Controller) Take() (Correction, bool) {
	if c.pending == nil {
		return Correction{}, false
	}
	c.executing, c.pending = c.pending, nil
	return *c.executing, true
}

// Complete marks the executing correction done.
func (c *Controller) Complete() {
	c.executing = nil
}

// Cancel drops any pending or executing correction.
func (c *Controller) Cancel() {
	c.pending, c.executing = nil, nil
}

// Outstanding returns 0 or 1.
func (c *Controller) Outstanding() int {
	if c.pending != nil || c.executing != nil {
		return 1
	}
	return 0
}

// Suspended reports whether the last Tick found the encoder stale.
func (c *Controller) Suspended() bool { return c.suspended }
