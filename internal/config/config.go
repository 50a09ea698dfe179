package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration fault. The process must not start.
var ErrInvalid = errors.New("invalid configuration")

// MotorConfig holds the stepper wiring and the dome gearing.
type MotorConfig struct {
	StepPin   int `yaml:"step_pin"`
	DirPin    int `yaml:"dir_pin"`
	EnablePin int `yaml:"enable_pin"` // 0 = not used

	// Polarity. Defaults match an A4988/DRV8825: STEP active HIGH,
	// DIR HIGH = clockwise, ENABLE active LOW.
	StepActiveLow    bool `yaml:"step_active_low"`
	DirInverted      bool `yaml:"dir_inverted"`
	EnableActiveHigh bool `yaml:"enable_active_high"`
	ReleaseOnIdle    bool `yaml:"release_on_idle"` // drop holding torque after STOP

	PulseWidthUs  int     `yaml:"pulse_width_us"`
	StepsPerRev   int     `yaml:"steps_per_rev"`
	Microstepping int     `yaml:"microstepping"`
	GearRatio     float64 `yaml:"gear_ratio"` // motor revolutions per dome revolution
}

// ChainConfig configures the hardware-chained backend.
type ChainConfig struct {
	Port         string `yaml:"port"`
	Baud         int    `yaml:"baud"`
	ChunkSize    int    `yaml:"chunk_size"` // pulses per submitted chain
	AckTimeoutMs int    `yaml:"ack_timeout_ms"`
}

// BackendConfig selects the pulse strategy. It is fixed for the process lifetime.
type BackendConfig struct {
	Type          string      `yaml:"type"`       // software | dma | mock
	PinDriver     string      `yaml:"pin_driver"` // rpio | cdev | mock (software backend only)
	Chip          string      `yaml:"chip"`       // gpiochip name for cdev
	SpinUs        int         `yaml:"spin_us"`    // busy-wait window at the end of each delay
	StepTimeoutMs int         `yaml:"step_timeout_ms"`
	Chain         ChainConfig `yaml:"chain"`
}

// RampConfig holds the acceleration profile tunables.
type RampConfig struct {
	CruiseRate  float64 `yaml:"cruise_rate"` // steps/s
	MaxAccel    float64 `yaml:"max_accel"`   // steps/s²
	WarmupSteps int     `yaml:"warmup_steps"`
	WarmupRate  float64 `yaml:"warmup_rate"` // steps/s
	Profile     string  `yaml:"profile"`     // trapezoidal | scurve
}

// ModeProfileConfig is one tracking mode's correction profile.
type ModeProfileConfig struct {
	TickMs           int     `yaml:"tick_ms"`
	DeadbandDeg      float64 `yaml:"deadband_deg"`
	MaxCorrectionDeg float64 `yaml:"max_correction_deg"`
}

// ModesConfig holds the three profiles and the altitude hysteresis band.
type ModesConfig struct {
	CriticalEnterAltitude float64           `yaml:"critical_enter_altitude"`
	CriticalExitAltitude  float64           `yaml:"critical_exit_altitude"`
	Normal                ModeProfileConfig `yaml:"normal"`
	Critical              ModeProfileConfig `yaml:"critical"`
	Continuous            ModeProfileConfig `yaml:"continuous"`
}

// FeedbackConfig tunes the closed loop.
type FeedbackConfig struct {
	StaleAfterMs     int     `yaml:"stale_after_ms"`
	SlewThresholdDeg float64 `yaml:"slew_threshold_deg"`
}

// TablePoint is one measured (telescope, dome) pair.
type TablePoint struct {
	Telescope float64 `yaml:"telescope"`
	Dome      float64 `yaml:"dome"`
}

// InterpolationConfig names the measured lookup table.
type InterpolationConfig struct {
	TableFile string       `yaml:"table_file"`
	Points    []TablePoint `yaml:"points"`
}

// IPCConfig describes the shared polling channel.
type IPCConfig struct {
	Dir               string `yaml:"dir"`
	StatusIntervalMs  int    `yaml:"status_interval_ms"`
	CommandIntervalMs int    `yaml:"command_interval_ms"`
	PollIntervalMs    int    `yaml:"poll_interval_ms"`
	StatusMaxAgeMs    int    `yaml:"status_max_age_ms"`
	CommandMaxAgeMs   int    `yaml:"command_max_age_ms"`
}

// ModbusEncoderConfig reads an absolute encoder over Modbus RTU or TCP.
type ModbusEncoderConfig struct {
	Address      string  `yaml:"address"` // serial device, or tcp://host:port
	Baud         int     `yaml:"baud"`
	SlaveID      int     `yaml:"slave_id"`
	Register     int     `yaml:"register"`
	CountsPerRev int     `yaml:"counts_per_rev"`
	OffsetDeg    float64 `yaml:"offset_deg"`
	Reversed     bool    `yaml:"reversed"`
}

// SerialEncoderConfig reads an ASCII line encoder ("A123.456").
type SerialEncoderConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// SimEncoderConfig follows the published motion status.
type SimEncoderConfig struct {
	NoiseDeg float64 `yaml:"noise_deg"`
	Slip     float64 `yaml:"slip"` // fraction of motion lost, 0-1
	StartDeg float64 `yaml:"start_deg"`
}

// EncoderConfig selects the encoder source.
type EncoderConfig struct {
	Source string              `yaml:"source"` // modbus | serial | sim
	RateHz float64             `yaml:"rate_hz"`
	Modbus ModbusEncoderConfig `yaml:"modbus"`
	Serial SerialEncoderConfig `yaml:"serial"`
	Sim    SimEncoderConfig    `yaml:"sim"`
}

// WebConfig is the controller bridge.
type WebConfig struct {
	Listen       string  `yaml:"listen"`
	CommandRate  float64 `yaml:"command_rate"` // accepted commands per second
	CommandBurst int     `yaml:"command_burst"`
}

// Config aggregates all application configuration. One file is shared by
// the motion, encoder and controller processes.
type Config struct {
	Motor         MotorConfig         `yaml:"motor"`
	Backend       BackendConfig       `yaml:"backend"`
	Ramp          RampConfig          `yaml:"ramp"`
	Modes         ModesConfig         `yaml:"modes"`
	Feedback      FeedbackConfig      `yaml:"feedback"`
	Interpolation InterpolationConfig `yaml:"interpolation"`
	IPC           IPCConfig           `yaml:"ipc"`
	Encoder       EncoderConfig       `yaml:"encoder"`
	Web           WebConfig           `yaml:"web"`
	MetricsListen string              `yaml:"metrics_listen"` // empty = disabled
	DebugLevel    int                 `yaml:"debug_level"`    // 0-4
}

// ValidateConfigPath rejects paths that are empty, climb out of their
// directory or do not name a YAML file.
func ValidateConfigPath(path string) error {
	if path == "" {
		return invalid("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return invalid("config path %q must not contain '..'", path)
		}
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
	default:
		return invalid("config path %q must be a .yaml file", path)
	}
	return nil
}

// Load reads a YAML file and returns the validated configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config file: %w", ErrInvalid, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal yaml: %w", ErrInvalid, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Motor.PulseWidthUs <= 0 {
		c.Motor.PulseWidthUs = 10
	}
	if c.Motor.StepsPerRev <= 0 {
		c.Motor.StepsPerRev = 200
	}
	if c.Motor.Microstepping <= 0 {
		c.Motor.Microstepping = 1
	}
	if c.Motor.GearRatio <= 0 {
		c.Motor.GearRatio = 1
	}

	if c.Backend.Type == "" {
		c.Backend.Type = "software"
	}
	if c.Backend.PinDriver == "" {
		c.Backend.PinDriver = "rpio"
	}
	if c.Backend.Chip == "" {
		c.Backend.Chip = "gpiochip0"
	}
	if c.Backend.SpinUs <= 0 {
		c.Backend.SpinUs = 200
	}
	if c.Backend.StepTimeoutMs <= 0 {
		c.Backend.StepTimeoutMs = 2000
	}
	if c.Backend.Chain.Baud <= 0 {
		c.Backend.Chain.Baud = 115200
	}
	if c.Backend.Chain.ChunkSize <= 0 {
		c.Backend.Chain.ChunkSize = 32
	}
	if c.Backend.Chain.AckTimeoutMs <= 0 {
		c.Backend.Chain.AckTimeoutMs = 1000
	}

	if c.Ramp.CruiseRate <= 0 {
		c.Ramp.CruiseRate = 500
	}
	if c.Ramp.MaxAccel <= 0 {
		c.Ramp.MaxAccel = 2000
	}
	if c.Ramp.WarmupSteps <= 0 {
		c.Ramp.WarmupSteps = 10
	}
	if c.Ramp.WarmupRate <= 0 {
		c.Ramp.WarmupRate = 100
	}
	if c.Ramp.Profile == "" {
		c.Ramp.Profile = "trapezoidal"
	}

	if c.Modes.CriticalEnterAltitude == 0 {
		c.Modes.CriticalEnterAltitude = 75
	}
	if c.Modes.CriticalExitAltitude == 0 {
		c.Modes.CriticalExitAltitude = 70
	}
	defaultProfile(&c.Modes.Normal, ModeProfileConfig{TickMs: 2000, DeadbandDeg: 0.5, MaxCorrectionDeg: 5})
	defaultProfile(&c.Modes.Critical, ModeProfileConfig{TickMs: 500, DeadbandDeg: 0.1, MaxCorrectionDeg: 2})
	defaultProfile(&c.Modes.Continuous, ModeProfileConfig{TickMs: 10000, DeadbandDeg: 2, MaxCorrectionDeg: 10})

	if c.Feedback.StaleAfterMs <= 0 {
		c.Feedback.StaleAfterMs = 1000
	}
	if c.Feedback.SlewThresholdDeg <= 0 {
		c.Feedback.SlewThresholdDeg = 15
	}

	if c.IPC.Dir == "" {
		c.IPC.Dir = "/dev/shm/domego"
	}
	if c.IPC.StatusIntervalMs <= 0 {
		c.IPC.StatusIntervalMs = 100
	}
	if c.IPC.CommandIntervalMs <= 0 {
		c.IPC.CommandIntervalMs = 250
	}
	if c.IPC.PollIntervalMs <= 0 {
		c.IPC.PollIntervalMs = 50
	}
	if c.IPC.StatusMaxAgeMs <= 0 {
		c.IPC.StatusMaxAgeMs = 1000
	}
	if c.IPC.CommandMaxAgeMs <= 0 {
		c.IPC.CommandMaxAgeMs = 2000
	}

	if c.Encoder.Source == "" {
		c.Encoder.Source = "sim"
	}
	if c.Encoder.RateHz <= 0 {
		c.Encoder.RateHz = 20
	}
	if c.Encoder.Modbus.Baud <= 0 {
		c.Encoder.Modbus.Baud = 19200
	}
	if c.Encoder.Modbus.SlaveID <= 0 {
		c.Encoder.Modbus.SlaveID = 1
	}
	if c.Encoder.Serial.Baud <= 0 {
		c.Encoder.Serial.Baud = 9600
	}

	if c.Web.Listen == "" {
		c.Web.Listen = ":8080"
	}
	if c.Web.CommandRate <= 0 {
		c.Web.CommandRate = 5
	}
	if c.Web.CommandBurst <= 0 {
		c.Web.CommandBurst = 10
	}
}

func defaultProfile(p *ModeProfileConfig, def ModeProfileConfig) {
	if p.TickMs <= 0 {
		p.TickMs = def.TickMs
	}
	if p.DeadbandDeg <= 0 {
		p.DeadbandDeg = def.DeadbandDeg
	}
	if p.MaxCorrectionDeg <= 0 {
		p.MaxCorrectionDeg = def.MaxCorrectionDeg
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks a loaded configuration. Load calls it after defaults.
func (c *Config) Validate() error {
	m := c.Motor
	if m.StepPin <= 0 || m.DirPin <= 0 {
		return invalid("motor.step_pin and motor.dir_pin are required")
	}
	if m.StepPin == m.DirPin || (m.EnablePin > 0 && (m.EnablePin == m.StepPin || m.EnablePin == m.DirPin)) {
		return invalid("motor pins must be distinct (step=%d dir=%d enable=%d)", m.StepPin, m.DirPin, m.EnablePin)
	}
	if m.EnablePin < 0 {
		return invalid("motor.enable_pin must be >= 0, got %d", m.EnablePin)
	}
	if !finite(m.GearRatio) {
		return invalid("motor.gear_ratio must be finite")
	}

	switch c.Backend.Type {
	case "software", "mock":
	case "dma":
		if c.Backend.Chain.Port == "" {
			return invalid("backend.chain.port is required for the dma backend")
		}
	default:
		return invalid("unsupported backend type: %q", c.Backend.Type)
	}
	switch c.Backend.PinDriver {
	case "rpio", "cdev", "mock":
	default:
		return invalid("unsupported pin driver: %q", c.Backend.PinDriver)
	}

	r := c.Ramp
	if !finite(r.CruiseRate) || !finite(r.MaxAccel) || !finite(r.WarmupRate) {
		return invalid("ramp rates must be finite")
	}
	if r.WarmupRate > r.CruiseRate {
		return invalid("ramp.warmup_rate (%g) must not exceed ramp.cruise_rate (%g)", r.WarmupRate, r.CruiseRate)
	}
	if r.Profile != "trapezoidal" && r.Profile != "scurve" {
		return invalid("unsupported ramp profile: %q", r.Profile)
	}

	if c.Modes.CriticalExitAltitude >= c.Modes.CriticalEnterAltitude {
		return invalid("modes.critical_exit_altitude (%g) must be below critical_enter_altitude (%g)",
			c.Modes.CriticalExitAltitude, c.Modes.CriticalEnterAltitude)
	}
	if c.Modes.CriticalEnterAltitude > 90 {
		return invalid("modes.critical_enter_altitude must be <= 90, got %g", c.Modes.CriticalEnterAltitude)
	}

	if c.Interpolation.TableFile == "" && len(c.Interpolation.Points) == 0 {
		return invalid("interpolation.table_file or interpolation.points is required")
	}

	switch c.Encoder.Source {
	case "modbus":
		if c.Encoder.Modbus.Address == "" {
			return invalid("encoder.modbus.address is required")
		}
		if c.Encoder.Modbus.CountsPerRev <= 0 {
			return invalid("encoder.modbus.counts_per_rev must be > 0")
		}
	case "serial":
		if c.Encoder.Serial.Port == "" {
			return invalid("encoder.serial.port is required")
		}
	case "sim":
		if c.Encoder.Sim.Slip < 0 || c.Encoder.Sim.Slip >= 1 {
			return invalid("encoder.sim.slip must be in [0, 1), got %g", c.Encoder.Sim.Slip)
		}
	default:
		return invalid("unsupported encoder source: %q", c.Encoder.Source)
	}

	if c.DebugLevel < 0 || c.DebugLevel > 4 {
		return invalid("debug_level must be between 0 and 4, got %d", c.DebugLevel)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// StepsPerDegree returns the number of motor (micro)steps per dome degree.
func (c *Config) StepsPerDegree() float64 {
	return float64(c.Motor.StepsPerRev*c.Motor.Microstepping) * c.Motor.GearRatio / 360.0
}

// PulseWidth returns the STEP pulse active time.
func (c *Config) PulseWidth() time.Duration {
	return time.Duration(c.Motor.PulseWidthUs) * time.Microsecond
}

// Spin returns the busy-wait window used by the software backend.
func (c *Config) Spin() time.Duration {
	return time.Duration(c.Backend.SpinUs) * time.Microsecond
}

// AckTimeout returns how long the chain backend waits for a coprocessor reply.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Backend.Chain.AckTimeoutMs) * time.Millisecond
}

// StepTimeout returns the watchdog margin added to each step's delay.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Backend.StepTimeoutMs) * time.Millisecond
}

// StaleAfter returns the encoder staleness timeout.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Feedback.StaleAfterMs) * time.Millisecond
}

// StatusInterval returns the status publishing cadence.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.IPC.StatusIntervalMs) * time.Millisecond
}

// CommandInterval returns the command republishing cadence.
func (c *Config) CommandInterval() time.Duration {
	return time.Duration(c.IPC.CommandIntervalMs) * time.Millisecond
}

// PollInterval returns how often the motion loop polls its inputs.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.IPC.PollIntervalMs) * time.Millisecond
}

// StatusMaxAge returns the age beyond which a status snapshot is stale.
func (c *Config) StatusMaxAge() time.Duration {
	return time.Duration(c.IPC.StatusMaxAgeMs) * time.Millisecond
}

// CommandMaxAge returns the age beyond which a command snapshot is stale.
func (c *Config) CommandMaxAge() time.Duration {
	return time.Duration(c.IPC.CommandMaxAgeMs) * time.Millisecond
}

// EncoderInterval returns the encoder sampling period.
func (c *Config) EncoderInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.Encoder.RateHz)
}

// Tick returns a mode profile's correction tick interval.
func (p ModeProfileConfig) Tick() time.Duration {
	return time.Duration(p.TickMs) * time.Millisecond
}
