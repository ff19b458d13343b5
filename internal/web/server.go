package web

import (
	"log/slog"
	"net/http"
	"sync"

	"valve-go-home/internal/automation"
	"valve-go-home/internal/controller"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the version string reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the controller's HTTP API.
type Server struct {
	hub            *controller.Hub
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates the server and starts its websocket hub.
func NewServer(hub *controller.Hub, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		hub:    hub,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = hub.Events().OnAll(func(event controller.Event) {
		s.wsHub.Broadcast(wsMessage{Type: event.Type, Data: event.Data, device: event.DeviceID()})
	})

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for its goroutine.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	// Device-facing API
	s.mux.HandleFunc("POST /set-command", s.handleSetCommand)
	s.mux.HandleFunc("GET /get-command/{device_id}", s.handleGetCommand)
	s.mux.HandleFunc("POST /status-report/{device_id}", s.handleStatusReport)
	s.mux.HandleFunc("GET /get-status/{device_id}", s.handleGetStatus)
	s.mux.HandleFunc("POST /set-maintenance", s.handleSetMaintenance)
	s.mux.HandleFunc("GET /get-maintenance/{device_id}", s.handleGetMaintenance)
	s.mux.HandleFunc("GET /get-devices-config", s.handleListDevices)
	s.mux.HandleFunc("GET /get-config/{device_id}", s.handleGetConfig)

	// Registry
	s.mux.HandleFunc("GET /devices", s.handleListDevices)
	s.mux.HandleFunc("POST /add-device", s.handleAddDevice)
	s.mux.HandleFunc("GET /zones-devices", s.handleZones)

	// Editor documents
	s.mux.HandleFunc("POST /save-graph", s.handleSaveGraph)
	s.mux.HandleFunc("GET /load-graph", s.handleLoadGraph)
	s.mux.HandleFunc("POST /save-flows", s.handleSaveFlows)
	s.mux.HandleFunc("GET /get-flows", s.handleGetFlows)

	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)
	if m := s.hub.Metrics(); m != nil {
		s.mux.Handle("GET /metrics", m.Handler())
	}

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying the CORS policy.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			// Device agents never send Origin; browsers on other sites
			// must not be able to move valves.
			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
			}
			if s.isOriginAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
