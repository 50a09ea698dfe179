// Package dome holds the data exchanged between the motion, encoder and
// controller processes.
package dome

import (
	"math"
	"time"
)

// Direction of rotation, seen from above the dome.
type Direction int8

const (
	Clockwise        Direction = 1
	CounterClockwise Direction = -1
)

func (d Direction) String() string {
	if d < 0 {
		return "ccw"
	}
	return "cw"
}

// CommandType selects what a MotorCommand asks the motion process to do.
type CommandType string

const (
	CommandGoto  CommandType = "GOTO"  // absolute dome angle
	CommandJog   CommandType = "JOG"   // relative move in degrees
	CommandTrack CommandType = "TRACK" // follow a telescope azimuth through the interpolation table
	CommandStop  CommandType = "STOP"
	CommandReset CommandType = "RESET" // clear a hardware fault without moving
	CommandMode  CommandType = "MODE"  // enter or leave CONTINUOUS tracking
)

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	switch t {
	case CommandGoto, CommandJog, CommandTrack, CommandStop, CommandReset, CommandMode:
		return true
	}
	return false
}

// MotorCommand is immutable once issued. A newer command (higher Seq)
// supersedes it; commands are never merged.
type MotorCommand struct {
	Seq      uint64      `json:"seq"`
	Type     CommandType `json:"type"`
	Target   float64     `json:"target"`             // degrees; meaning depends on Type
	Altitude float64     `json:"altitude,omitempty"` // telescope altitude for TRACK
	// Continuous is read by MODE commands only.
	Continuous bool      `json:"continuous,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Phase of the motor.
type Phase string

const (
	PhaseIdle        Phase = "IDLE"
	PhaseRampingUp   Phase = "RAMPING_UP"
	PhaseCruise      Phase = "CRUISE"
	PhaseRampingDown Phase = "RAMPING_DOWN"
	PhaseHolding     Phase = "HOLDING"
	PhaseFault       Phase = "FAULT"
)

// Mode is the tracking aggressiveness.
type Mode string

const (
	ModeNormal     Mode = "NORMAL"
	ModeCritical   Mode = "CRITICAL"
	ModeContinuous Mode = "CONTINUOUS"
)

// FaultKind is published in the status snapshot. Faults never cross the
// process boundary as anything but state.
type FaultKind string

const (
	FaultNone      FaultKind = ""
	FaultHardware  FaultKind = "hardware"
	FaultStaleness FaultKind = "staleness"
)

// MotorState is owned and mutated by the motion process only.
type MotorState struct {
	CurrentAngle float64 // step-derived, degrees [0, 360)
	CurrentRate  float64 // degrees per second, signed
	Phase        Phase
	ActiveMode   Mode
}

// EncoderSample is ground truth, independent from the step count.
type EncoderSample struct {
	Angle     float64   `json:"angle"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Status is the read-only view of MotorState published by the motion process.
type Status struct {
	Angle        float64   `json:"angle"`
	EncoderAngle *float64  `json:"encoder_angle,omitempty"`
	Target       *float64  `json:"target,omitempty"`
	Rate         float64   `json:"rate"`
	Phase        Phase     `json:"phase"`
	Mode         Mode      `json:"mode"`
	Fault        FaultKind `json:"fault,omitempty"`
	FaultDetail  string    `json:"fault_detail,omitempty"`
	LastCommand  uint64    `json:"last_command"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeAngle maps a to [0, 360).
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	// Tiny negatives round up to exactly 360.
	if a >= 360 {
		return 0
	}
	return a
}

// AngleError returns the signed shortest rotation from actual to target,
// in (-180, 180].
func AngleError(target, actual float64) float64 {
	d := math.Mod(target-actual, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}
