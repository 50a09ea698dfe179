// Command dome-motion owns the stepper: it consumes commands, runs ramps and
// corrections, and publishes the dome status.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/DomeGo/internal/config"
	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/hw/backend"
	"github.com/cjeanneret/DomeGo/internal/logic/geometry"
	"github.com/cjeanneret/DomeGo/internal/logic/motion"
	"github.com/cjeanneret/DomeGo/internal/metrics"
)

func main() {
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	backendType := flag.String("backend", "", "override backend type (software, dma, mock)")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyOverrides(cfg, *backendType, *debugLevel); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}

	debug.SetPrefix("[dome-motion] ")
	debug.Init(cfg.DebugLevel)
	debug.Summary("DomeGo motion")
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.DebugLevel)
	debug.Value("Steps per degree", cfg.StepsPerDegree())
	debug.PrintStruct("Motor", cfg.Motor)
	debug.PrintStruct("Ramp", cfg.Ramp)

	debug.Step(1, "Loading interpolation table")
	table, err := geometry.FromConfig(cfg.Interpolation, filepath.Dir(*cfgPath))
	if err != nil {
		log.Fatalf("load interpolation table failed: %v", err)
	}
	debug.Value("Table points", table.Len())

	debug.Step(2, "Initializing pulse backend")
	b, err := backend.New(cfg)
	if err != nil {
		log.Fatalf("init backend failed: %v", err)
	}
	defer func() {
		if err := b.Shutdown(); err != nil {
			log.Printf("backend shutdown failed: %v", err)
		}
	}()

	debug.Step(3, "Creating motion controller")
	m, err := metrics.NewMotionCollector(nil)
	if err != nil {
		log.Fatalf("register metrics failed: %v", err)
	}
	ctrl, err := motion.NewController(cfg, b, table, m)
	if err != nil {
		log.Fatalf("create controller failed: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	if cfg.MetricsListen != "" {
		debug.Value("Metrics", cfg.MetricsListen)
		g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsListen, m.Handler()) })
	}

	debug.Section("Running")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("dome-motion: %v", err)
	}
	debug.Info("Stopped")
}

// applyOverrides applies non-empty CLI overrides and revalidates cfg.
// An empty backend and a negative debug level mean "use config".
func applyOverrides(cfg *config.Config, backendType string, debugLevel int) error {
	if backendType != "" {
		cfg.Backend.Type = backendType
	}
	if debugLevel >= 0 {
		if debugLevel > debug.LevelTrace {
			return fmt.Errorf("debug must be between 0 and %d, got %d", debug.LevelTrace, debugLevel)
		}
		cfg.DebugLevel = debugLevel
	}
	return cfg.Validate()
}
