package diagnostics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"dplaned/internal/dnsmanager"
	"dplaned/internal/resolvermode"
)

// Server is the read-only HTTP/WebSocket introspection surface spec §6
// describes as an observer's view into the daemon's state, built on
// github.com/gorilla/mux the same way the donor's cmd/dplaned/main.go
// routes every other control-plane endpoint, and
// github.com/gorilla/websocket the same way the donor's
// internal/handlers.WebSocketHandler upgrades its monitor connections.
type Server struct {
	mgr     *dnsmanager.Manager
	dnsMode resolvermode.DNSMode
	global  GlobalConfigProvider
	hub     *Hub

	mu   sync.Mutex
	mode resolvermode.Mode

	httpServer *http.Server
}

// New builds the diagnostics server and its router; it does not start
// listening until Serve is called.
func New(addr string, mgr *dnsmanager.Manager, mode resolvermode.Mode, dnsMode resolvermode.DNSMode, global GlobalConfigProvider) *Server {
	s := &Server{
		mgr:     mgr,
		mode:    mode,
		dnsMode: dnsMode,
		global:  global,
		hub:     NewHub(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/dns/config", s.handleConfig).Methods(http.MethodGet)
	router.HandleFunc("/ws/dns", s.hub.ServeWS)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// SetMode records a re-resolved resolver-file mode (e.g. after a SIGHUP
// or an external resolver-file change) so subsequent snapshots report
// the strategy actually in effect.
func (s *Server) SetMode(mode resolvermode.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

func (s *Server) currentMode() resolvermode.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	snap := BuildSnapshot(s.mgr, s.currentMode(), s.dnsMode, s.global)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Printf("diagnostics: encode snapshot: %v", err)
	}
}

// PushCurrent builds a fresh snapshot and broadcasts it to connected
// WebSocket clients; wired to dnscycle.Orchestrator.OnCycle so every
// completed update cycle is reflected to observers without polling.
func (s *Server) PushCurrent() {
	s.hub.Push(BuildSnapshot(s.mgr, s.currentMode(), s.dnsMode, s.global))
}

// Serve starts the hub's event loop and the HTTP listener; it blocks
// until the listener stops (normally via Shutdown from another
// goroutine), returning http.ErrServerClosed on a clean shutdown.
func (s *Server) Serve() error {
	go s.hub.Run()
	log.Printf("diagnostics: listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new connections and waits for the in-flight
// ones to finish, per ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
