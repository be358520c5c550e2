package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/nstogner/autoassist/pkg/metrics"
	"github.com/nstogner/autoassist/pkg/models"
	"github.com/nstogner/autoassist/pkg/runner"
	"github.com/nstogner/autoassist/pkg/store"
)

// Server serves the JSON API, the websocket feed and metrics.
type Server struct {
	store  store.AgentStore
	runner *runner.Runner
	lister models.ModelLister
	hub    *hub
	srv    *http.Server

	// origins lists browser origins allowed besides loopback ones.
	origins  []string
	upgrader websocket.Upgrader
}

// New creates a new Server. lister may be nil.
func New(s store.AgentStore, r *runner.Runner, lister models.ModelLister) *Server {
	srv := &Server{
		store:  s,
		runner: r,
		lister: lister,
		hub:    newHub(),
	}
	srv.upgrader = websocket.Upgrader{CheckOrigin: srv.allowedOrigin}
	return srv
}

// AllowOrigins permits cross-origin browser requests from the given origins,
// e.g. "https://ui.example.com". Loopback origins are always allowed.
func (s *Server) AllowOrigins(origins []string) {
	s.origins = append([]string(nil), origins...)
}

// allowedOrigin reports whether a request may be served given its Origin
// header. Requests without one do not come from a browser page.
func (s *Server) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.origins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Assistants
	mux.HandleFunc("GET /api/assistants", s.handleListAssistants)
	mux.HandleFunc("GET /api/assistants/{id}", s.handleGetAssistant)
	mux.HandleFunc("POST /api/assistants", s.handleCreateAssistant)
	mux.HandleFunc("PUT /api/assistants/{id}", s.handleUpdateAssistant)
	mux.HandleFunc("DELETE /api/assistants/{id}", s.handleDeleteAssistant)

	// Conversation
	mux.HandleFunc("POST /api/assistants/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("PUT /api/assistants/{id}/messages/{index}", s.handleEditMessage)
	mux.HandleFunc("POST /api/assistants/{id}/reset", s.handleReset)

	// AutoAssist
	mux.HandleFunc("GET /api/autoassist/session", s.handleGetSession)
	mux.HandleFunc("PUT /api/autoassist/agent-mode", s.handleSetAgentMode)

	mux.HandleFunc("GET /api/models", s.handleListModels)

	// WebSocket
	mux.HandleFunc("/api/assistants/{id}/ws", s.handleWebSocket)

	mux.Handle("GET /metrics", metrics.Handler())

	return s.corsMiddleware(mux)
}

// Start forwards runner and store events to websocket clients and serves
// HTTP until the server is shut down.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.pump(ctx)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting web server", "addr", addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allowedOrigin(r) {
			slog.Warn("Rejected cross-origin request", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		w.Header().Add("Vary", "Origin")
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrPathNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, runner.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// redacted returns a copy of a with inline attachment data removed. Clients
// receive the MIME type only.
func redacted(a store.Assistant) store.Assistant {
	if len(a.PostMessages) == 0 {
		return a
	}
	turns := make([]store.WireTurn, len(a.PostMessages))
	for i, t := range a.PostMessages {
		turns[i] = t
		if !slices.ContainsFunc(t.Parts, func(p store.Part) bool { return p.InlineData != nil }) {
			continue
		}
		parts := make([]store.Part, len(t.Parts))
		for j, p := range t.Parts {
			parts[j] = p
			if p.InlineData != nil {
				parts[j].InlineData = &store.Blob{MIMEType: p.InlineData.MIMEType}
			}
		}
		turns[i].Parts = parts
	}
	a.PostMessages = turns
	return a
}
