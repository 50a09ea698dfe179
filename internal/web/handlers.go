package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// maxBodyBytes caps command request bodies.
const maxBodyBytes = 1 << 20

// CommandSubmitter accepts dashboard commands. *Commander implements it.
type CommandSubmitter interface {
	Submit(req CommandRequest) (dome.MotorCommand, error)
}

// StatusSource returns the latest motion status. *StatusRelay implements it.
type StatusSource interface {
	Latest(now time.Time) (dome.Status, bool)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Commands    CommandSubmitter
	Status      StatusSource
	limiter     *rate.Limiter
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers. Commands beyond perSecond (with burst) are
// refused with 429. A nil commands makes POST /command return 503.
func NewHandlers(b *StatusBroadcaster, commands CommandSubmitter, status StatusSource, perSecond float64, burst int) *Handlers {
	return &Handlers{
		Broadcaster: b,
		Commands:    commands,
		Status:      status,
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// submit applies rate limiting and validation. It returns the HTTP status
// code that describes the outcome.
func (h *Handlers) submit(req CommandRequest) (dome.MotorCommand, int, error) {
	if h.Commands == nil {
		return dome.MotorCommand{}, http.StatusServiceUnavailable, errors.New("commands not configured")
	}
	if !h.limiter.Allow() {
		return dome.MotorCommand{}, http.StatusTooManyRequests, errors.New("too many commands")
	}
	cmd, err := h.Commands.Submit(req)
	switch {
	case errors.Is(err, ErrInvalidCommand):
		return cmd, http.StatusBadRequest, err
	case err != nil:
		return cmd, http.StatusInternalServerError, err
	}
	return cmd, http.StatusAccepted, nil
}

// HandleCommand handles POST /command.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}

	cmd, code, err := h.submit(req)
	if err != nil {
		if code == http.StatusInternalServerError {
			debug.Error(err)
		}
		writeJSON(w, code, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, cmd)
}

// HandleStatus handles GET /status. With no fresh snapshot it answers 503.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Status == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no status source"})
		return
	}
	s, ok := h.Status.Latest(time.Now())
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "motion status unavailable or stale"})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()
	debug.Live("Event stream client connected (%d connected)", h.Broadcaster.Clients())

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// socketReply acknowledges a command frame on the WebSocket.
type socketReply struct {
	Type    string             `json:"type"` // "ack" or "error"
	Command *dome.MotorCommand `json:"command,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// HandleSocket handles GET /ws: the same events as the SSE stream go out,
// command frames ({type, target, altitude, continuous}) come in.
func (h *Handlers) HandleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsub := h.Broadcaster.Subscribe()
	defer unsub()
	debug.Live("WebSocket client connected (%d connected)", h.Broadcaster.Clients())
	replies := make(chan socketReply, 8)

	// Read and process incoming frames. Only this goroutine reads.
	go func() {
		defer cancel()
		for {
			var req CommandRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			cmd, _, err := h.submit(req)
			reply := socketReply{Type: "ack", Command: &cmd}
			if err != nil {
				reply = socketReply{Type: "error", Error: err.Error()}
			}
			select {
			case replies <- reply:
			case <-ctx.Done():
				return
			}
		}
	}()

	if h.Status != nil {
		if s, ok := h.Status.Latest(time.Now()); ok {
			if err := conn.WriteJSON(StatusEvent{Type: EventStatus, Time: time.Now().Format(time.RFC3339Nano), Status: &s}); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case reply := <-replies:
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}
}
