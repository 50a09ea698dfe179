// Package mode decides how aggressively the dome tracks.
package mode

import (
	"fmt"
	"time"

	"github.com/cjeanneret/DomeGo/internal/config"
	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
)

// Profile is immutable: TickInterval between feedback evaluations, Deadband
// below which no correction is issued, MaxCorrection per evaluation.
type Profile struct {
	TickInterval  time.Duration
	Deadband      float64 // degrees
	MaxCorrection float64 // degrees
}

// Config holds the three profiles and the altitude hysteresis band.
type Config struct {
	EnterAltitude float64 // NORMAL -> CRITICAL at or above
	ExitAltitude  float64 // CRITICAL -> NORMAL at or below
	Normal        Profile
	Critical      Profile
	Continuous    Profile
}

// FromConfig maps the modes section of the configuration.
func FromConfig(c config.ModesConfig) Config {
	conv := func(p config.ModeProfileConfig) Profile {
		return Profile{TickInterval: p.Tick(), Deadband: p.DeadbandDeg, MaxCorrection: p.MaxCorrectionDeg}
	}
	return Config{
		EnterAltitude: c.CriticalEnterAltitude,
		ExitAltitude:  c.CriticalExitAltitude,
		Normal:        conv(c.Normal),
		Critical:      conv(c.Critical),
		Continuous:    conv(c.Continuous),
	}
}

// Machine is NORMAL at start. NORMAL and CRITICAL follow altitude with
// hysteresis; CONTINUOUS is entered and left only by command. A mode is
// kept for at least one tick interval of its own profile before an
// altitude-driven change.
type Machine struct {
	cfg   Config
	cur   dome.Mode
	since time.Time
}

func NewMachine(cfg Config, now time.Time) *Machine {
	return &Machine{cfg: cfg, cur: dome.ModeNormal, since: now}
}

// Mode returns the active mode.
func (m *Machine) Mode() dome.Mode { return m.cur }

// Profile returns the active mode's profile.
func (m *Machine) Profile() Profile { return m.ProfileFor(m.cur) }

// ProfileFor returns the profile of any mode.
func (m *Machine) ProfileFor(md dome.Mode) Profile {
	switch md {
	case dome.ModeCritical:
		return m.cfg.Critical
	case dome.ModeContinuous:
		return m.cfg.Continuous
	}
	return m.cfg.Normal
}

// Update feeds the telescope altitude and reports whether the mode changed.
func (m *Machine) Update(now time.Time, altitude float64) bool {
	if m.cur == dome.ModeContinuous {
		return false
	}
	if now.Sub(m.since) < m.Profile().TickInterval {
		return false
	}
	switch {
	case m.cur == dome.ModeNormal && altitude >= m.cfg.EnterAltitude:
		m.set(now, dome.ModeCritical, fmt.Sprintf("altitude %.1f", altitude))
		return true
	case m.cur == dome.ModeCritical && altitude <= m.cfg.ExitAltitude:
		m.set(now, dome.ModeNormal, fmt.Sprintf("altitude %.1f", altitude))
		return true
	}
	return false
}

// SetContinuous handles a MODE command. Leaving CONTINUOUS returns to NORMAL;
// altitude re-selects CRITICAL on a later Update.
func (m *Machine) SetContinuous(now time.Time, on bool) bool {
	switch {
	case on && m.cur != dome.ModeContinuous:
		m.set(now, dome.ModeContinuous, "command")
		return true
	case !on && m.cur == dome.ModeContinuous:
		m.set(now, dome.ModeNormal, "command")
		return true
	}
	return false
}

func (m *Machine) set(now time.Time, md dome.Mode, reason string) {
	debug.Mode(string(m.cur), string(md), reason)
	m.cur, m.since = md, now
}
