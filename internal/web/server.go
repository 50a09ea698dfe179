package web

import (
	"context"
	"net/http"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/gorilla/mux"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

func NewServer(addr string, handlers *Handlers) *Server {
	return &Server{
		addr:     addr,
		handlers: handlers,
	}
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/command", s.handlers.HandleCommand).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handlers.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/status/stream", s.handlers.HandleStatusStream).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handlers.HandleSocket)
	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Bridge listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
