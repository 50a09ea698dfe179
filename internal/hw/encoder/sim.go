package encoder

import (
	"context"
	"math/rand/v2"

	"github.com/cjeanneret/DomeGo/internal/config"
	"github.com/cjeanneret/DomeGo/internal/dome"
)

// StatusFunc returns the latest motion status and whether there is one.
type StatusFunc func() (dome.Status, bool)

// SimSource stands in for the encoder on a development machine. It follows
// the step-derived angle from the motion status, losing a Slip fraction of
// every move and adding gaussian noise.
type SimSource struct {
	cfg    config.SimEncoderConfig
	status StatusFunc
	rng    *rand.Rand

	pos      float64
	lastCmd  float64
	haveLast bool
}

func NewSimSource(cfg config.SimEncoderConfig, status StatusFunc) *SimSource {
	return &SimSource{
		cfg:    cfg,
		status: status,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		pos:    dome.NormalizeAngle(cfg.StartDeg),
	}
}

func (s *SimSource) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if st, ok := s.status(); ok {
		if s.haveLast {
			delta := dome.AngleError(st.Angle, s.lastCmd)
			s.pos = dome.NormalizeAngle(s.pos + delta*(1-s.cfg.Slip))
		}
		s.lastCmd, s.haveLast = st.Angle, true
	}
	noise := 0.0
	if s.cfg.NoiseDeg > 0 {
		noise = s.rng.NormFloat64() * s.cfg.NoiseDeg
	}
	return dome.NormalizeAngle(s.pos + noise), nil
}

func (s *SimSource) Close() error { return nil }
