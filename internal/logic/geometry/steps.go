package geometry

import (
	"math"

	"github.com/cjeanneret/DomeGo/internal/config"
	"github.com/cjeanneret/DomeGo/internal/dome"
)

// StepsCalculator converts dome angles to motor step counts.
type StepsCalculator struct {
	stepsPerDegree float64
}

// NewStepsCalculator creates a step calculator from configuration
// (steps/rev × microstepping × gear ratio / 360).
func NewStepsCalculator(cfg *config.Config) *StepsCalculator {
	return &StepsCalculator{stepsPerDegree: cfg.StepsPerDegree()}
}

// StepsPerDegree returns the motor microsteps per dome degree.
func (s *StepsCalculator) StepsPerDegree() float64 {
	return s.stepsPerDegree
}

// StepsFromAngle converts a relative dome angle to the nearest signed step count.
func (s *StepsCalculator) StepsFromAngle(angleDegrees float64) int {
	return int(math.Round(angleDegrees * s.stepsPerDegree))
}

// AngleFromSteps converts a signed step count back to degrees.
func (s *StepsCalculator) AngleFromSteps(steps int) float64 {
	return float64(steps) / s.stepsPerDegree
}

// StepsForMove returns the signed step count of the shortest rotation from
// current to target.
func (s *StepsCalculator) StepsForMove(current, target float64) int {
	return s.StepsFromAngle(dome.AngleError(target, current))
}
