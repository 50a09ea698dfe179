package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	for _, path := range []string{"configs/default.yaml", "/etc/domego/dome.yml", "dome.yaml"} {
		if err := ValidateConfigPath(path); err != nil {
			t.Errorf("expected %q to be valid, got %v", path, err)
		}
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd.yaml",
		"configs/../../../etc/shadow.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	for _, path := range []string{"configs/default.json", "configs/default.txt", "configs/default"} {
		if err := ValidateConfigPath(path); !errors.Is(err, ErrInvalid) {
			t.Errorf("ValidateConfigPath(%q) = %v, want ErrInvalid", path, err)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
motor:
  step_pin: 17
  dir_pin: 27
  enable_pin: 5
  release_on_idle: true
  pulse_width_us: 5
  steps_per_rev: 200
  microstepping: 16
  gear_ratio: 10
backend:
  type: software
  pin_driver: cdev
  chip: gpiochip4
ramp:
  cruise_rate: 800
  max_accel: 3000
  warmup_steps: 20
  warmup_rate: 150
  profile: scurve
modes:
  critical_enter_altitude: 80
  critical_exit_altitude: 72
  critical:
    tick_ms: 250
    deadband_deg: 0.05
    max_correction_deg: 1
feedback:
  stale_after_ms: 1500
interpolation:
  points:
    - {telescope: 0, dome: 0}
    - {telescope: 180, dome: 182}
    - {telescope: 360, dome: 360}
ipc:
  dir: /tmp/domego-test
encoder:
  source: modbus
  rate_hz: 50
  modbus:
    address: /dev/ttyUSB0
    counts_per_rev: 4096
    offset_deg: 12.5
debug_level: 2
`

// minimalYAML carries only what has no default.
const minimalYAML = `
motor:
  step_pin: 17
  dir_pin: 27
interpolation:
  table_file: table.yaml
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Motor.EnablePin != 5 || !cfg.Motor.ReleaseOnIdle {
		t.Errorf("motor = %+v", cfg.Motor)
	}
	if cfg.Backend.PinDriver != "cdev" || cfg.Backend.Chip != "gpiochip4" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Ramp.Profile != "scurve" || cfg.Ramp.WarmupSteps != 20 {
		t.Errorf("ramp = %+v", cfg.Ramp)
	}
	if cfg.Modes.Critical.DeadbandDeg != 0.05 || cfg.Modes.Critical.Tick() != 250*time.Millisecond {
		t.Errorf("critical profile = %+v", cfg.Modes.Critical)
	}
	// Partially specified profiles keep their defaults.
	if cfg.Modes.Normal.TickMs != 2000 {
		t.Errorf("normal tick = %d, want 2000", cfg.Modes.Normal.TickMs)
	}
	if len(cfg.Interpolation.Points) != 3 || cfg.Interpolation.Points[1].Dome != 182 {
		t.Errorf("interpolation points = %+v", cfg.Interpolation.Points)
	}
	if cfg.Encoder.Modbus.CountsPerRev != 4096 || cfg.Encoder.Modbus.SlaveID != 1 {
		t.Errorf("modbus = %+v", cfg.Encoder.Modbus)
	}
	if cfg.IPC.Dir != "/tmp/domego-test" {
		t.Errorf("ipc.dir = %q", cfg.IPC.Dir)
	}
	if cfg.DebugLevel != 2 {
		t.Errorf("debug_level = %d, want 2", cfg.DebugLevel)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checks := []struct {
		name      string
		got, want interface{}
	}{
		{"backend.type", cfg.Backend.Type, "software"},
		{"backend.pin_driver", cfg.Backend.PinDriver, "rpio"},
		{"ramp.cruise_rate", cfg.Ramp.CruiseRate, 500.0},
		{"ramp.max_accel", cfg.Ramp.MaxAccel, 2000.0},
		{"ramp.warmup_steps", cfg.Ramp.WarmupSteps, 10},
		{"ramp.warmup_rate", cfg.Ramp.WarmupRate, 100.0},
		{"ramp.profile", cfg.Ramp.Profile, "trapezoidal"},
		{"modes.critical_enter_altitude", cfg.Modes.CriticalEnterAltitude, 75.0},
		{"modes.critical_exit_altitude", cfg.Modes.CriticalExitAltitude, 70.0},
		{"modes.critical.deadband_deg", cfg.Modes.Critical.DeadbandDeg, 0.1},
		{"modes.continuous.tick_ms", cfg.Modes.Continuous.TickMs, 10000},
		{"ipc.dir", cfg.IPC.Dir, "/dev/shm/domego"},
		{"encoder.source", cfg.Encoder.Source, "sim"},
		{"web.listen", cfg.Web.Listen, ":8080"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "motor: [unclosed"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	_, err := Load(writeConfig(t, ""))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty config lacks pins, expected ErrInvalid, got %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		extra   string
		replace [2]string
		wantMsg string
	}{
		{name: "duplicate pins", replace: [2]string{"dir_pin: 27", "dir_pin: 17"}, wantMsg: "distinct"},
		{name: "enable on step pin", replace: [2]string{"dir_pin: 27", "dir_pin: 27\n  enable_pin: 17"}, wantMsg: "distinct"},
		{name: "unknown backend", extra: "backend:\n  type: pwm\n", wantMsg: "backend type"},
		{name: "dma without port", extra: "backend:\n  type: dma\n", wantMsg: "chain.port"},
		{name: "unknown pin driver", extra: "backend:\n  pin_driver: sysfs\n", wantMsg: "pin driver"},
		{name: "warmup above cruise", extra: "ramp:\n  cruise_rate: 100\n  warmup_rate: 200\n", wantMsg: "warmup_rate"},
		{name: "unknown profile", extra: "ramp:\n  profile: sine\n", wantMsg: "profile"},
		{name: "inverted hysteresis", extra: "modes:\n  critical_enter_altitude: 60\n  critical_exit_altitude: 65\n", wantMsg: "critical_exit_altitude"},
		{name: "no table", replace: [2]string{"table_file: table.yaml", "table_file: \"\""}, wantMsg: "interpolation"},
		{name: "modbus without address", extra: "encoder:\n  source: modbus\n  modbus:\n    counts_per_rev: 4096\n", wantMsg: "modbus.address"},
		{name: "serial without port", extra: "encoder:\n  source: serial\n", wantMsg: "serial.port"},
		{name: "slip out of range", extra: "encoder:\n  sim:\n    slip: 1.5\n", wantMsg: "slip"},
		{name: "debug level", extra: "debug_level: 9\n", wantMsg: "debug_level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := minimalYAML
			if tc.replace[0] != "" {
				doc = strings.Replace(doc, tc.replace[0], tc.replace[1], 1)
			}
			doc += tc.extra
			_, err := Parse([]byte(doc))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q should mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestParse_MissingPins(t *testing.T) {
	_, err := Parse([]byte("interpolation:\n  table_file: t.yaml\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

// ---------- Accessors ----------

func TestConfig_StepsPerDegree(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	want := 200.0 * 16 * 10 / 360
	if got := cfg.StepsPerDegree(); math.Abs(got-want) > 1e-9 {
		t.Errorf("StepsPerDegree() = %v, want %v", got, want)
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name      string
		got, want time.Duration
	}{
		{"PulseWidth", cfg.PulseWidth(), 5 * time.Microsecond},
		{"Spin", cfg.Spin(), 200 * time.Microsecond},
		{"StepTimeout", cfg.StepTimeout(), 2 * time.Second},
		{"AckTimeout", cfg.AckTimeout(), time.Second},
		{"StaleAfter", cfg.StaleAfter(), 1500 * time.Millisecond},
		{"StatusInterval", cfg.StatusInterval(), 100 * time.Millisecond},
		{"CommandInterval", cfg.CommandInterval(), 250 * time.Millisecond},
		{"PollInterval", cfg.PollInterval(), 50 * time.Millisecond},
		{"StatusMaxAge", cfg.StatusMaxAge(), time.Second},
		{"CommandMaxAge", cfg.CommandMaxAge(), 2 * time.Second},
		{"EncoderInterval", cfg.EncoderInterval(), 20 * time.Millisecond},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s() = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_ShippedDefault(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "default.yaml"))
	if err != nil {
		t.Fatalf("shipped config does not load: %v", err)
	}
	if cfg.Backend.Type != "mock" || cfg.Encoder.Source != "sim" {
		t.Errorf("shipped config should run without hardware, got backend=%q encoder=%q",
			cfg.Backend.Type, cfg.Encoder.Source)
	}
}
