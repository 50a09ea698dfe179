// Package ramp turns a signed step count into a timed pulse plan. It is pure:
// the same Params always give the same Plan.
package ramp

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/DomeGo/internal/dome"
)

// Profile is the acceleration curve shape.
type Profile string

const (
	Trapezoidal Profile = "trapezoidal" // constant acceleration
	SCurve      Profile = "scurve"      // smoothstep velocity, bounded jerk
)

// Params describe one move. Rates are in steps/s, acceleration in steps/s².
type Params struct {
	Steps       int // signed; the sign is the direction
	CruiseRate  float64
	MaxAccel    float64
	WarmupSteps int
	WarmupRate  float64
	Profile     Profile
}

// Validate reports parameters Generate cannot honour.
func (p Params) Validate() error {
	switch {
	case !(p.CruiseRate > 0) || math.IsInf(p.CruiseRate, 0):
		return fmt.Errorf("cruise rate must be positive and finite, got %g", p.CruiseRate)
	case !(p.WarmupRate > 0) || p.WarmupRate > p.CruiseRate:
		return fmt.Errorf("warm-up rate must be in (0, %g], got %g", p.CruiseRate, p.WarmupRate)
	case !(p.MaxAccel > 0) || math.IsInf(p.MaxAccel, 0):
		return fmt.Errorf("max acceleration must be positive and finite, got %g", p.MaxAccel)
	case p.WarmupSteps < 0:
		return errors.New("warm-up steps must not be negative")
	case p.Profile != Trapezoidal && p.Profile != SCurve && p.Profile != "":
		return fmt.Errorf("unknown profile %q", p.Profile)
	}
	return nil
}

// Step is one pulse: its direction and the minimum spacing from the previous
// rising edge.
type Step struct {
	Delay time.Duration
	Dir   dome.Direction
	Phase dome.Phase
}

// Plan is immutable once generated and consumed by index.
type Plan struct {
	Steps []Step
	Dir   dome.Direction

	Warmup, Accel, Cruise, Decel int
	// Degraded is set when the move is too short to reach cruise rate.
	Degraded bool

	accel []time.Duration // full acceleration table, for StopTail
}

// Len returns the number of pulses.
func (p Plan) Len() int { return len(p.Steps) }

// Duration returns the sum of the step delays.
func (p Plan) Duration() time.Duration {
	var d time.Duration
	for _, s := range p.Steps {
		d += s.Delay
	}
	return d
}

// Generate builds the plan: warm-up, acceleration, cruise, deceleration.
// Deceleration mirrors acceleration and ends at the warm-up delay. A move
// shorter than warm-up plus a full ramp up and down splits what is left
// after warm-up into a triangular profile and is flagged Degraded.
func Generate(p Params) Plan {
	n := p.Steps
	dir := dome.Clockwise
	if n < 0 {
		dir, n = dome.CounterClockwise, -n
	}
	plan := Plan{Dir: dir}
	if n == 0 {
		return plan
	}

	warmDelay := delayFor(p.WarmupRate)
	cruiseDelay := delayFor(p.CruiseRate)
	acc := accelTable(p, warmDelay, cruiseDelay)
	plan.accel = acc
	k := len(acc)

	warm := p.WarmupSteps
	if warm > n {
		warm = n
	}
	steps := make([]Step, 0, n)
	for i := 0; i < warm; i++ {
		steps = append(steps, Step{Delay: warmDelay, Dir: dir, Phase: dome.PhaseRampingUp})
	}
	plan.Warmup = warm

	rem := n - warm
	up, cruise, down := k, rem-2*k, k
	if rem < 2*k {
		plan.Degraded = true
		up = rem / 2
		down = rem - up
		cruise = 0
	}
	for i := 0; i < up; i++ {
		steps = append(steps, Step{Delay: acc[i], Dir: dir, Phase: dome.PhaseRampingUp})
	}
	for i := 0; i < cruise; i++ {
		steps = append(steps, Step{Delay: cruiseDelay, Dir: dir, Phase: dome.PhaseCruise})
	}
	for j := down - 1; j >= 0; j-- {
		steps = append(steps, Step{Delay: acc[j], Dir: dir, Phase: dome.PhaseRampingDown})
	}

	plan.Steps = steps
	plan.Accel, plan.Cruise, plan.Decel = up, cruise, down
	return plan
}

// StopTail returns the deceleration from the velocity reached at step i
// down to the warm-up rate, never longer than what is left of the plan.
// An index past the plan, or a step already at warm-up rate, gives an empty
// tail.
func (p Plan) StopTail(i int) Plan {
	tail := Plan{Dir: p.Dir, accel: p.accel}
	if i < 0 || i >= len(p.Steps) {
		return tail
	}
	cur := p.Steps[i].Delay
	j := 0
	for j < len(p.accel) && p.accel[j] > cur {
		j++
	}
	if left := len(p.Steps) - i - 1; j > left {
		j = left
	}
	tail.Steps = make([]Step, 0, j)
	for m := j - 1; m >= 0; m-- {
		tail.Steps = append(tail.Steps, Step{Delay: p.accel[m], Dir: p.Dir, Phase: dome.PhaseRampingDown})
	}
	tail.Decel = j
	return tail
}

// accelTable lists acceleration delays from the warm-up rate up to, but not
// including, the cruise rate. Delays are clamped to [cruiseDelay, warmDelay].
func accelTable(p Params, warmDelay, cruiseDelay time.Duration) []time.Duration {
	v0, r, a := p.WarmupRate, p.CruiseRate, p.MaxAccel
	if v0 >= r || a <= 0 {
		return nil
	}
	var vel []float64
	switch p.Profile {
	case SCurve:
		vel = scurveVelocities(v0, r, a)
	default:
		vel = trapezoidalVelocities(v0, r, a)
	}
	out := make([]time.Duration, len(vel))
	for i, v := range vel {
		d := delayFor(v)
		if d < cruiseDelay {
			d = cruiseDelay
		}
		if d > warmDelay {
			d = warmDelay
		}
		out[i] = d
	}
	return out
}

// trapezoidalVelocities: v(k) = sqrt(v0² + 2ak) for every step k whose
// velocity is still below r.
func trapezoidalVelocities(v0, r, a float64) []float64 {
	k := int(math.Ceil((r*r - v0*v0) / (2 * a)))
	vel := make([]float64, k)
	for i := range vel {
		vel[i] = math.Sqrt(v0*v0 + 2*a*float64(i))
	}
	return vel
}

// scurveVelocities uses v(t) = v0 + (r-v0)·s(t/T), s(x) = 3x²-2x³, whose peak
// acceleration 1.5(r-v0)/T equals a. Each step's time is solved from the
// position integral by bisection.
func scurveVelocities(v0, r, a float64) []float64 {
	dv := r - v0
	T := 1.5 * dv / a
	pos := func(t float64) float64 {
		x := t / T
		return v0*t + dv*T*(x*x*x-x*x*x*x/2)
	}
	dist := v0*T + dv*T/2
	k := int(math.Ceil(dist))
	vel := make([]float64, k)
	for i := range vel {
		lo, hi := 0.0, T
		for it := 0; it < 60; it++ {
			mid := (lo + hi) / 2
			if pos(mid) < float64(i) {
				lo = mid
			} else {
				hi = mid
			}
		}
		x := hi / T
		vel[i] = v0 + dv*(3*x*x-2*x*x*x)
	}
	return vel
}

// delayFor rounds up so a pulse is never faster than the requested rate.
func delayFor(rate float64) time.Duration {
	return time.Duration(math.Ceil(float64(time.Second) / rate))
}
