// Package control implements the operator HTTP server.
//
// The stream operator uses this interface to check health, inspect memory
// usage, and swap the active persona without restarting the process.
//
// Endpoints:
//
//	GET  /health           → HealthResponse
//	GET  /status           → StatusResponse
//	GET  /memory/stats     → brain.MemoryStats
//	GET  /persona          → active PersonaConfig
//	PUT  /persona          → PersonaConfig JSON → 200 OK
//	POST /events/{source}  → EventRequest → 202 Accepted
//
// POST /events/{source} is the ingress for adapter processes (chat reader,
// speech transcriber, vision sampler). The source path segment must be a
// known event source; the event is queued without blocking and a full queue
// or a rate-limited viewer yields 429.
//
// PUT /persona bodies are validated twice: structurally against the embedded
// JSON Schema, then semantically through the persona parser. The swap is
// atomic; an in-flight generation finishes under the old persona.
//
// Bearer-token authentication: set Handlers.Token to require
// "Authorization: Bearer <token>" on every request. When Token is empty
// authentication is disabled (dev/test mode).
package control

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/velvetcat/aiko/common/trace"
	"github.com/velvetcat/aiko/internal/aiko/brain"
	"github.com/velvetcat/aiko/internal/aiko/event"
)

// maxPersonaBodyBytes caps the PUT /persona request body.
const maxPersonaBodyBytes = 256 * 1024 // 256 KiB

// maxEventBodyBytes caps the POST /events/{source} request body.
const maxEventBodyBytes = 64 * 1024 // 64 KiB

//go:embed persona.schema.json
var personaSchemaJSON string

// personaSchema validates PUT /persona bodies. Compiled once at startup; a
// broken embedded schema is a build defect, so failure panics.
var personaSchema = jsonschema.MustCompileString("persona.schema.json", personaSchemaJSON)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Persona string `json:"persona"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Persona   string            `json:"persona"`
	Version   string            `json:"version"`
	Uptime    float64           `json:"uptime_seconds"`
	StartedAt time.Time         `json:"started_at"`
	Memory    brain.MemoryStats `json:"memory"`
}

// Handlers bundles the callbacks the server delegates to.
type Handlers struct {
	// Version is the runtime version string.
	Version string
	// StartedAt is the time the binary started.
	StartedAt time.Time

	// Token, when non-empty, is the expected bearer token for all requests.
	// When empty, authentication is disabled (useful in local dev/test).
	Token string

	// Persona returns the active persona snapshot.
	Persona func() *brain.PersonaConfig
	// UpdatePersona atomically installs a validated persona.
	UpdatePersona func(*brain.PersonaConfig)
	// Stats returns the current memory usage snapshot.
	Stats func() brain.MemoryStats
	// PublishEvent enqueues an inbound event without blocking, reporting
	// whether it was accepted. When nil, POST /events/{source} returns 503.
	PublishEvent func(event.InputEvent) bool
}

// Server is the operator HTTP server.
type Server struct {
	addr     string
	handlers Handlers
	server   *http.Server
}

// New creates a Server listening on addr.
func New(addr string, h Handlers) *Server {
	s := &Server{
		addr:     addr,
		handlers: h,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/memory/stats", s.handleMemoryStats)
	mux.HandleFunc("/persona", s.handlePersona)
	mux.HandleFunc("/events/{source}", s.handleEventIngress)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      traceMiddleware(s.authMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// traceMiddleware assigns each request an ID for log correlation and echoes
// it in the X-Request-Id response header. A caller-supplied ID is kept so
// adapter processes can correlate across hops.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = trace.GenerateID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(trace.WithID(r.Context(), id)))
	})
}

// authMiddleware rejects requests that do not carry the correct bearer token.
// When Handlers.Token is empty, all requests are allowed (dev/test mode).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.handlers.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if auth[len("Bearer "):] != s.handlers.Token {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins listening. It returns once the listener is bound so callers
// can immediately start sending requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control listen %s: %w", s.addr, err)
	}
	slog.Info("control server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("control server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.server.Shutdown(context.Background())
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := ""
	if s.handlers.Persona != nil {
		name = s.handlers.Persona().Name
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Persona: name,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := ""
	if s.handlers.Persona != nil {
		name = s.handlers.Persona().Name
	}
	var stats brain.MemoryStats
	if s.handlers.Stats != nil {
		stats = s.handlers.Stats()
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Persona:   name,
		Version:   s.handlers.Version,
		Uptime:    time.Since(s.handlers.StartedAt).Seconds(),
		StartedAt: s.handlers.StartedAt,
		Memory:    stats,
	})
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.handlers.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "memory stats not available")
		return
	}
	writeJSON(w, http.StatusOK, s.handlers.Stats())
}

func (s *Server) handlePersona(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handlePersonaGet(w, r)
	case http.MethodPut:
		s.handlePersonaPut(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePersonaGet(w http.ResponseWriter, r *http.Request) {
	if s.handlers.Persona == nil {
		writeError(w, http.StatusServiceUnavailable, "persona not available")
		return
	}
	writeJSON(w, http.StatusOK, s.handlers.Persona())
}

// handlePersonaPut validates the body against the embedded JSON Schema, then
// runs it through the persona parser for semantic checks (defaults applied,
// "neutral" emotion present, rates in range). Only a fully valid persona is
// installed.
func (s *Server) handlePersonaPut(w http.ResponseWriter, r *http.Request) {
	if s.handlers.UpdatePersona == nil {
		writeError(w, http.StatusServiceUnavailable, "persona update not available")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPersonaBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body: "+err.Error())
		return
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := personaSchema.Validate(doc); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "schema validation failed: "+err.Error())
		return
	}

	// JSON is a YAML subset, so the YAML persona parser handles the body and
	// applies the same defaults and semantic validation as file loading.
	cfg, err := brain.ParsePersona(body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.handlers.UpdatePersona(cfg)
	slog.Info("control: persona updated", "name", cfg.Name, "request_id", trace.FromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "name": cfg.Name})
}

// EventRequest is the body for POST /events/{source}.
type EventRequest struct {
	Content  string            `json:"content"`
	User     string            `json:"user,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// handleEventIngress accepts one inbound event from an adapter process and
// queues it for the pipeline.
func (s *Server) handleEventIngress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.handlers.PublishEvent == nil {
		writeError(w, http.StatusServiceUnavailable, "event ingress not available")
		return
	}

	source := event.Source(r.PathValue("source"))
	if !source.Known() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown event source %q", source))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body: "+err.Error())
		return
	}
	var req EventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	metadata := req.Metadata
	if req.User != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user"] = req.User
	}

	accepted := s.handlers.PublishEvent(event.InputEvent{
		Source:   source,
		Content:  req.Content,
		Metadata: metadata,
	})
	if !accepted {
		writeError(w, http.StatusTooManyRequests, "event dropped (queue full or rate limited)")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// TestHandler exposes the server's HTTP handler for use in httptest.NewServer.
// This is only intended for tests.
func (s *Server) TestHandler() http.Handler {
	return s.server.Handler
}
