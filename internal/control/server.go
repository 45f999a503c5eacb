// Package control exposes the sync engine over a local HTTP and
// WebSocket surface.
//
// The daemon owns the engine; shells, browser extensions, and scripts
// talk to it here instead of running their own engine against the same
// state. POST endpoints invoke the sync operations and the focus
// trigger, GET /status reports the coordinator state, and /ws streams
// engine events to connected clients as they happen.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/marksync/marksync/internal/engine"
	"github.com/marksync/marksync/internal/merge"
)

// Coordinator is the slice of the engine the control surface drives.
type Coordinator interface {
	Sync(ctx context.Context) error
	Push(ctx context.Context) error
	Pull(ctx context.Context) error
	OnFocus(ctx context.Context)
	Status(ctx context.Context) (*engine.Status, error)
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:7437). The surface carries
	// no authentication, so it must stay on loopback.
	Addr string

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// Server serves the control endpoints and broadcasts engine events.
type Server struct {
	addr     string
	engine   Coordinator
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan engine.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a control server for one engine.
func NewServer(cfg Config, eng Coordinator) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7437"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[control] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      cfg.Addr,
		engine:    eng,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan engine.Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger,
	}
}

// Start begins listening. Wire Publish into the engine's event hook
// after this returns.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync", s.handleOp(func(ctx context.Context) error { return s.engine.Sync(ctx) }))
	mux.HandleFunc("POST /push", s.handleOp(func(ctx context.Context) error { return s.engine.Push(ctx) }))
	mux.HandleFunc("POST /pull", s.handleOp(func(ctx context.Context) error { return s.engine.Pull(ctx) }))
	mux.HandleFunc("POST /focus", s.handleFocus)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // sync operations can outlast any fixed write timeout
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Control server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping control server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Publish queues an engine event for broadcast to connected clients.
// Intended as the engine's event hook.
func (s *Server) Publish(ev engine.Event) {
	select {
	case s.broadcast <- ev:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping event")
	}
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// opResult is the JSON body for operation endpoints.
type opResult struct {
	OK        bool     `json:"ok"`
	Error     string   `json:"error,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// handleOp wraps one engine operation. Busy and conflict map to 409;
// the caller distinguishes them by body.
func (s *Server) handleOp(op func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := op(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, opResult{OK: true})
			return
		}

		var conflict *merge.ConflictError
		switch {
		case errors.Is(err, engine.ErrBusy):
			writeJSON(w, http.StatusConflict, opResult{Error: err.Error()})
		case errors.As(err, &conflict):
			details := make([]string, 0, len(conflict.Conflicts))
			for _, c := range conflict.Conflicts {
				details = append(details, c.String())
			}
			writeJSON(w, http.StatusConflict, opResult{
				Error:     conflict.Error(),
				Conflicts: details,
			})
		default:
			writeJSON(w, http.StatusInternalServerError, opResult{Error: err.Error()})
		}
	}
}

// handleFocus forwards a foreground-focus notification from the shell
// or browser extension. The trigger applies its own enablement and
// cooldown, so the response only acknowledges receipt.
func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	s.engine.OnFocus(r.Context())
	writeJSON(w, http.StatusOK, opResult{OK: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, opResult{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleWebSocket upgrades the connection and registers it for event
// broadcasts.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // loopback-only listener
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// broadcastLoop fans engine events out to every connected client.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev := <-s.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Printf("Failed to marshal event: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Write outside the lock so one slow client cannot stall
			// registration.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

// readLoop drains client frames so pings are answered and disconnects
// are noticed. Client messages carry no meaning.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}
