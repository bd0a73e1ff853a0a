// Package server provides an importable conferencing room server that
// reproduces the markup contract the presence probe relies on.
// This allows E2E tests to programmatically start/stop the server without running main().
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// Config holds server configuration options.
type Config struct {
	Addr         string        // Listen address (e.g., ":8443" or ":0" for random port)
	ReadTimeout  time.Duration // HTTP read timeout
	WriteTimeout time.Duration // HTTP write timeout

	// MuteOnAway makes the page mute every remote stream while the local
	// user is Away. This is the behavior the probe is meant to catch.
	MuteOnAway bool

	// StuckMuteIndicator makes the page mark every remote volume button
	// muted on Away and leave it marked on Online. The streams themselves
	// are never muted.
	StuckMuteIndicator bool

	// CanonicalHost, when set, redirects requests for any other host.
	CanonicalHost string

	// ReceiveSlots is how many remote streams each participant can receive.
	// A room holds at most ReceiveSlots+1 members.
	ReceiveSlots int
}

// DefaultConfig returns a configuration suitable for testing.
// Uses ":0" to bind to a random available port.
func DefaultConfig() Config {
	return Config{
		Addr:         ":0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ReceiveSlots: 4,
	}
}

// Server serves conferencing rooms over HTTP and relays WebRTC video
// between their members.
type Server struct {
	cfg        Config
	httpServer *http.Server
	listener   net.Listener
	addr       string
	mu         sync.Mutex
	running    bool

	rooms *registry
	page  *template.Template
}

// NewServer creates a new server with the given configuration.
// The server is not started until Start() is called.
func NewServer(cfg Config) (*Server, error) {
	if cfg.ReceiveSlots <= 0 {
		return nil, errors.New("receive slots must be positive")
	}

	page, err := template.New("room").Parse(roomPage)
	if err != nil {
		return nil, fmt.Errorf("failed to parse room page: %w", err)
	}

	s := &Server{
		cfg:   cfg,
		rooms: newRegistry(cfg.ReceiveSlots + 1),
		page:  page,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /group/{room}", s.handlePage)
	mux.HandleFunc("GET /group/{room}/{$}", s.handlePage)
	mux.HandleFunc("POST /group/{room}/join", s.handleJoin)
	mux.HandleFunc("POST /group/{room}/status", s.handleStatus)
	mux.HandleFunc("GET /group/{room}/members", s.handleMembers)
	mux.HandleFunc("GET /group/{room}/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      canonicalHost(cfg.CanonicalHost, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Start begins listening and serving HTTP requests.
// Returns the actual address the server is listening on (useful when port is 0).
// This method is non-blocking - the server runs in a goroutine.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.addr, nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = ln
	s.addr = ln.Addr().String()
	s.running = true

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Serve failed: %v", err)
		}
	}()

	return s.addr, nil
}

// Shutdown stops serving, closes every peer connection and ends every
// events feed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	err := s.httpServer.Shutdown(ctx)
	s.rooms.closeAll()
	return err
}

// Addr returns the address the server is listening on.
// Returns empty string if server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Members lists the members of a room in join order.
func (s *Server) Members(room string) []MemberInfo {
	r, ok := s.rooms.lookup(room)
	if !ok {
		return nil
	}
	return r.Members()
}
