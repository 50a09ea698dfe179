package dome

import (
	"math"
	"testing"
)

func TestNormalizeAngle(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{359.5, 359.5},
		{360, 0},
		{725, 5},
		{-10, 350},
		{-370, 350},
		{-1e-20, 0},
		{-360 - 1e-14, 0},
	}
	for _, tc := range cases {
		got := NormalizeAngle(tc.in)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", tc.in, got, tc.want)
		}
		if got < 0 || got >= 360 {
			t.Errorf("NormalizeAngle(%v) = %v, outside [0, 360)", tc.in, got)
		}
	}
}

func TestAngleError_ShortestPath(t *testing.T) {
	cases := []struct {
		name           string
		target, actual float64
		want           float64
	}{
		{"behind", 10.5, 10, 0.5},
		{"ahead", 10, 10.5, -0.5},
		{"wrap_forward", 5, 355, 10},
		{"wrap_backward", 355, 5, -10},
		{"half_turn", 180, 0, 180},
		{"zero", 42, 42, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AngleError(tc.target, tc.actual); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("AngleError(%v, %v) = %v, want %v", tc.target, tc.actual, got, tc.want)
			}
		})
	}
}

func TestCommandType_Valid(t *testing.T) {
	for _, ct := range []CommandType{CommandGoto, CommandJog, CommandTrack, CommandStop, CommandReset, CommandMode} {
		if !ct.Valid() {
			t.Errorf("%s should be valid", ct)
		}
	}
	if CommandType("SPIN").Valid() {
		t.Error("unknown command type should be invalid")
	}
}
