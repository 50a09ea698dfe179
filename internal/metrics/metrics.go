// Package metrics exposes Prometheus collectors for the motion and encoder
// processes. All methods are safe on a nil collector.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	phases = []dome.Phase{dome.PhaseIdle, dome.PhaseRampingUp, dome.PhaseCruise, dome.PhaseRampingDown, dome.PhaseHolding, dome.PhaseFault}
	modes  = []dome.Mode{dome.ModeNormal, dome.ModeCritical, dome.ModeContinuous}
)

// MotionCollector bundles the motion process metrics.
type MotionCollector struct {
	gatherer prometheus.Gatherer

	Pulses        prometheus.Counter
	Corrections   *prometheus.CounterVec
	Faults        *prometheus.CounterVec
	Commands      *prometheus.CounterVec
	Angle         prometheus.Gauge
	EncoderAngle  prometheus.Gauge
	TrackingError prometheus.Gauge
	EncoderAge    prometheus.Gauge
	CommandAge    prometheus.Gauge
	Phase         *prometheus.GaugeVec
	Mode          *prometheus.GaugeVec
	// Unreadable is the running count of polls that found no usable
	// snapshot (missing, torn or corrupt), labeled by file.
	Unreadable *prometheus.GaugeVec
}

// NewMotionCollector registers against reg, the default registry when nil.
func NewMotionCollector(reg prometheus.Registerer) (*MotionCollector, error) {
	reg, gatherer := resolve(reg)
	c := &MotionCollector{gatherer: gatherer}
	var err error

	if c.Pulses, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "domego_motion_pulses_total",
		Help: "Step pulses accepted by the backend.",
	}), "domego_motion_pulses_total"); err != nil {
		return nil, err
	}
	if c.Corrections, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "domego_motion_corrections_total",
		Help: "Feedback corrections, labeled by outcome.",
	}, []string{"outcome"}), "domego_motion_corrections_total"); err != nil {
		return nil, err
	}
	if c.Faults, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "domego_motion_faults_total",
		Help: "Faults raised, labeled by kind.",
	}, []string{"kind"}), "domego_motion_faults_total"); err != nil {
		return nil, err
	}
	if c.Commands, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "domego_motion_commands_total",
		Help: "Commands consumed, labeled by type.",
	}, []string{"type"}), "domego_motion_commands_total"); err != nil {
		return nil, err
	}
	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.Angle, "domego_dome_angle_degrees", "Step-derived dome azimuth."},
		{&c.EncoderAngle, "domego_encoder_angle_degrees", "Last encoder azimuth seen by the motion process."},
		{&c.TrackingError, "domego_tracking_error_degrees", "Last feedback error, target minus encoder."},
		{&c.EncoderAge, "domego_encoder_age_seconds", "Age of the last encoder sample."},
		{&c.CommandAge, "domego_command_age_seconds", "Age of the last command snapshot."},
	}
	for _, g := range gauges {
		if *g.dst, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name); err != nil {
			return nil, err
		}
	}
	if c.Phase, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "domego_motion_phase",
		Help: "1 for the current motor phase.",
	}, []string{"phase"}), "domego_motion_phase"); err != nil {
		return nil, err
	}
	if c.Mode, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "domego_tracking_mode",
		Help: "1 for the active tracking mode.",
	}, []string{"mode"}), "domego_tracking_mode"); err != nil {
		return nil, err
	}
	if c.Unreadable, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "domego_ipc_unreadable_polls",
		Help: "Polls since start that found no usable snapshot, labeled by file.",
	}, []string{"file"}), "domego_ipc_unreadable_polls"); err != nil {
		return nil, err
	}
	return c, nil
}

// AddPulses counts accepted pulses.
func (c *MotionCollector) AddPulses(n int) {
	if c == nil || c.Pulses == nil {
		return
	}
	c.Pulses.Add(float64(n))
}

// ObserveCorrection counts a correction outcome: issued, completed,
// cancelled, or suspended.
func (c *MotionCollector) ObserveCorrection(outcome string) {
	if c == nil || c.Corrections == nil {
		return
	}
	c.Corrections.WithLabelValues(outcome).Inc()
}

func (c *MotionCollector) ObserveFault(kind dome.FaultKind) {
	if c == nil || c.Faults == nil || kind == dome.FaultNone {
		return
	}
	c.Faults.WithLabelValues(string(kind)).Inc()
}

func (c *MotionCollector) ObserveCommand(t dome.CommandType) {
	if c == nil || c.Commands == nil {
		return
	}
	c.Commands.WithLabelValues(string(t)).Inc()
}

// SetStatus mirrors a published status into the gauges.
func (c *MotionCollector) SetStatus(s dome.Status) {
	if c == nil {
		return
	}
	c.Angle.Set(s.Angle)
	if s.EncoderAngle != nil {
		c.EncoderAngle.Set(*s.EncoderAngle)
	}
	for _, p := range phases {
		c.Phase.WithLabelValues(string(p)).Set(boolToFloat(p == s.Phase))
	}
	for _, m := range modes {
		c.Mode.WithLabelValues(string(m)).Set(boolToFloat(m == s.Mode))
	}
}

func (c *MotionCollector) SetTrackingError(deg float64) {
	if c == nil {
		return
	}
	c.TrackingError.Set(deg)
}

func (c *MotionCollector) SetEncoderAge(d time.Duration) {
	if c == nil {
		return
	}
	c.EncoderAge.Set(d.Seconds())
}

func (c *MotionCollector) SetCommandAge(d time.Duration) {
	if c == nil {
		return
	}
	c.CommandAge.Set(d.Seconds())
}

// SetUnreadable records a poller's unreadable count for file.
func (c *MotionCollector) SetUnreadable(file string, n int) {
	if c == nil || c.Unreadable == nil {
		return
	}
	c.Unreadable.WithLabelValues(file).Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *MotionCollector) Handler() http.Handler {
	return handlerFor(c.gatherer)
}

// EncoderCollector counts encoder sampling. It satisfies encoder.Observer.
type EncoderCollector struct {
	gatherer prometheus.Gatherer

	Samples  prometheus.Counter
	Failures prometheus.Counter
	Angle    prometheus.Gauge
}

func NewEncoderCollector(reg prometheus.Registerer) (*EncoderCollector, error) {
	reg, gatherer := resolve(reg)
	c := &EncoderCollector{gatherer: gatherer}
	var err error
	if c.Samples, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "domego_encoder_samples_total",
		Help: "Encoder samples published.",
	}), "domego_encoder_samples_total"); err != nil {
		return nil, err
	}
	if c.Failures, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "domego_encoder_failures_total",
		Help: "Sampling attempts that produced no reading.",
	}), "domego_encoder_failures_total"); err != nil {
		return nil, err
	}
	if c.Angle, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "domego_encoder_angle_degrees",
		Help: "Last sampled encoder azimuth.",
	}), "domego_encoder_angle_degrees"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *EncoderCollector) Sample(s dome.EncoderSample) {
	if c == nil {
		return
	}
	c.Samples.Inc()
	c.Angle.Set(s.Angle)
}

func (c *EncoderCollector) Failure(error) {
	if c == nil {
		return
	}
	c.Failures.Inc()
}

func (c *EncoderCollector) Handler() http.Handler {
	return handlerFor(c.gatherer)
}

// Serve runs a /metrics endpoint on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	debug.Info("Metrics on http://%s/metrics", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

func resolve(reg prometheus.Registerer) (prometheus.Registerer, prometheus.Gatherer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	return reg, gatherer
}

func handlerFor(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
