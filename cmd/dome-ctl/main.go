// Command dome-ctl is the operator-facing bridge: it accepts commands over
// HTTP and WebSocket, forwards them to dome-motion and streams status back.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/DomeGo/internal/config"
	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/web"
)

func main() {
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "listen on port instead of web.listen; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
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
	addr := listenAddr(cfg.Web.Listen, webPort.port())

	// Debug output also feeds the status stream as log events.
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	debug.SetPrefix("[dome-ctl] ")
	debug.Init(cfg.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Listen", addr)
	debug.Value("IPC dir", cfg.IPC.Dir)

	debug.Step(1, "Creating command publisher")
	commander, err := web.NewCommander(cfg.IPC.Dir, cfg.CommandInterval())
	if err != nil {
		log.Fatalf("init commander failed: %v", err)
	}

	debug.Step(2, "Creating status relay")
	relay := web.NewStatusRelay(cfg.IPC.Dir, broadcaster, cfg.PollInterval(), cfg.StatusMaxAge())

	handlers := web.NewHandlers(broadcaster, commander, relay, cfg.Web.CommandRate, cfg.Web.CommandBurst)
	srv := web.NewServer(addr, handlers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return commander.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("dome-ctl: %v", err)
	}
}

// listenAddr prefers an explicit -web port over the configured address.
func listenAddr(configured string, port int) string {
	if port > 0 {
		return fmt.Sprintf(":%d", port)
	}
	return configured
}

// webPortFlag implements flag.Value for -web: 0 = use config, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
