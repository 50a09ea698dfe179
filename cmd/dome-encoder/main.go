// Command dome-encoder reads the dome's absolute encoder and publishes
// timestamped samples for dome-motion.
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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/DomeGo/internal/config"
	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/cjeanneret/DomeGo/internal/hw/encoder"
	"github.com/cjeanneret/DomeGo/internal/ipc"
	"github.com/cjeanneret/DomeGo/internal/metrics"
)

func main() {
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	source := flag.String("source", "", "override encoder source (modbus, serial, sim)")
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
	if err := applyOverrides(cfg, *source, *debugLevel); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}

	debug.SetPrefix("[dome-encoder] ")
	debug.Init(cfg.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Encoder source", cfg.Encoder.Source)
	debug.Value("Sample interval", cfg.EncoderInterval())

	debug.Step(1, "Opening encoder source")
	feed := statusFeed(ipc.NewPoller[dome.Status](cfg.IPC.Dir, ipc.StatusFile), cfg.StatusMaxAge(), time.Now)
	src, err := encoder.NewSource(cfg, feed)
	if err != nil {
		log.Fatalf("init encoder failed: %v", err)
	}

	debug.Step(2, "Creating sample publisher")
	pub, err := ipc.NewPublisher[dome.EncoderSample](cfg.IPC.Dir, ipc.EncoderFile)
	if err != nil {
		log.Fatalf("init publisher failed: %v", err)
	}
	debug.Value("Sample file", pub.Path())

	obs, err := metrics.NewEncoderCollector(nil)
	if err != nil {
		log.Fatalf("register metrics failed: %v", err)
	}
	reader, err := encoder.NewReader(src, cfg.EncoderInterval(), pub.Publish, obs)
	if err != nil {
		log.Fatalf("create reader failed: %v", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			log.Printf("closing encoder failed: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reader.Run(gctx) })
	if cfg.MetricsListen != "" {
		debug.Value("Metrics", cfg.MetricsListen)
		g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsListen, obs.Handler()) })
	}

	debug.Section("Running")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("dome-encoder: %v", err)
	}
	debug.Info("Stopped")
}

// statusFeed adapts the motion status file to the simulator's StatusFunc.
// A missing or stale status reads as unavailable.
func statusFeed(p *ipc.Poller[dome.Status], maxAge time.Duration, now func() time.Time) encoder.StatusFunc {
	return func() (dome.Status, bool) {
		r := p.Poll()
		if r.Stale(now(), maxAge) {
			return dome.Status{}, false
		}
		return r.Value, true
	}
}

// applyOverrides applies non-empty CLI overrides and revalidates cfg.
func applyOverrides(cfg *config.Config, source string, debugLevel int) error {
	if source != "" {
		cfg.Encoder.Source = source
	}
	if debugLevel >= 0 {
		if debugLevel > debug.LevelTrace {
			return fmt.Errorf("debug must be between 0 and %d, got %d", debug.LevelTrace, debugLevel)
		}
		cfg.DebugLevel = debugLevel
	}
	return cfg.Validate()
}
