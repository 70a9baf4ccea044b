package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/velvetcat/aiko/internal/aiko/brain"
	"github.com/velvetcat/aiko/internal/aiko/event"
)

const basePersonaYAML = `
name: Aiko
personality: cheerful co-host
emotions: [neutral, happy]
`

// testFixture wires a Server around captured state so tests can observe the
// side effects of each endpoint.
type testFixture struct {
	server    *Server
	persona   *brain.PersonaConfig
	published []event.InputEvent
	accept    bool
}

func newFixture(t *testing.T, token string) *testFixture {
	t.Helper()
	persona, err := brain.ParsePersona([]byte(basePersonaYAML))
	if err != nil {
		t.Fatalf("parse persona: %v", err)
	}
	f := &testFixture{persona: persona, accept: true}
	f.server = New(":0", Handlers{
		Version:       "test",
		StartedAt:     time.Now(),
		Token:         token,
		Persona:       func() *brain.PersonaConfig { return f.persona },
		UpdatePersona: func(p *brain.PersonaConfig) { f.persona = p },
		Stats: func() brain.MemoryStats {
			return brain.MemoryStats{STMCount: 3, STMMax: 15, LTMCount: 7}
		},
		PublishEvent: func(ev event.InputEvent) bool {
			f.published = append(f.published, ev)
			return f.accept
		},
	})
	return f
}

func doRequest(t *testing.T, f *testFixture, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.TestHandler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	rec := doRequest(t, f, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Persona != "Aiko" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, "")
	rec := doRequest(t, f, http.MethodGet, "/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Persona != "Aiko" || resp.Version != "test" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Memory.LTMCount != 7 {
		t.Errorf("expected memory stats embedded, got %+v", resp.Memory)
	}
}

func TestMemoryStats(t *testing.T) {
	f := newFixture(t, "")
	rec := doRequest(t, f, http.MethodGet, "/memory/stats", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats brain.MemoryStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.STMCount != 3 || stats.STMMax != 15 || stats.LTMCount != 7 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPersonaGet(t *testing.T) {
	f := newFixture(t, "")
	rec := doRequest(t, f, http.MethodGet, "/persona", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var cfg brain.PersonaConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Name != "Aiko" {
		t.Errorf("unexpected persona: %+v", cfg)
	}
}

func TestPersonaPutSwapsPersona(t *testing.T) {
	f := newFixture(t, "")
	body := `{
		"name": "Miko",
		"personality": "deadpan retro-games commentator",
		"emotions": ["neutral", "smug"],
		"behavior": {"cooldown": 5, "vision_rate": 0.3}
	}`
	rec := doRequest(t, f, http.MethodPut, "/persona", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.persona.Name != "Miko" {
		t.Errorf("expected persona swapped, got %q", f.persona.Name)
	}
	if f.persona.Behavior.Cooldown != 5 {
		t.Errorf("expected cooldown 5, got %v", f.persona.Behavior.Cooldown)
	}
	// Defaults still apply to unset fields.
	if f.persona.Behavior.SpeechRate != brain.DefaultSpeechRate {
		t.Errorf("expected default speech rate, got %v", f.persona.Behavior.SpeechRate)
	}
}

func TestPersonaPutRejectsUnknownField(t *testing.T) {
	f := newFixture(t, "")
	body := `{
		"name": "Miko",
		"personality": "commentator",
		"emotions": ["neutral"],
		"mood": "unsupported"
	}`
	rec := doRequest(t, f, http.MethodPut, "/persona", body, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.persona.Name != "Aiko" {
		t.Error("rejected persona must not be installed")
	}
}

func TestPersonaPutRejectsSemanticErrors(t *testing.T) {
	f := newFixture(t, "")
	// Passes the schema (non-empty emotions) but the parser requires the
	// neutral emotion.
	body := `{
		"name": "Miko",
		"personality": "commentator",
		"emotions": ["smug"]
	}`
	rec := doRequest(t, f, http.MethodPut, "/persona", body, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.persona.Name != "Aiko" {
		t.Error("rejected persona must not be installed")
	}
}

func TestPersonaPutRejectsBadJSON(t *testing.T) {
	f := newFixture(t, "")
	rec := doRequest(t, f, http.MethodPut, "/persona", `{"name": `, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t, "secret")

	rec := doRequest(t, f, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	rec = doRequest(t, f, http.MethodGet, "/health", "", "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", rec.Code)
	}
	rec = doRequest(t, f, http.MethodGet, "/health", "", "secret")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", rec.Code)
	}
}

func TestEventIngressQueues(t *testing.T) {
	f := newFixture(t, "")
	body := `{"content": "hello aiko", "user": "bob", "metadata": {"channel": "velvetcat"}}`
	rec := doRequest(t, f, http.MethodPost, "/events/chat", body, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(f.published))
	}
	ev := f.published[0]
	if ev.Source != event.SourceChat || ev.Content != "hello aiko" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.User() != "bob" {
		t.Errorf("expected user merged into metadata, got %q", ev.User())
	}
	if ev.Metadata["channel"] != "velvetcat" {
		t.Errorf("expected metadata preserved, got %v", ev.Metadata)
	}
}

func TestEventIngressUnknownSource(t *testing.T) {
	f := newFixture(t, "")
	rec := doRequest(t, f, http.MethodPost, "/events/telemetry", `{"content": "x"}`, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if len(f.published) != 0 {
		t.Errorf("unexpected publish: %+v", f.published)
	}
}

func TestEventIngressEmptyContent(t *testing.T) {
	f := newFixture(t, "")
	rec := doRequest(t, f, http.MethodPost, "/events/chat", `{"content": "   "}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEventIngressDropReports429(t *testing.T) {
	f := newFixture(t, "")
	f.accept = false
	rec := doRequest(t, f, http.MethodPost, "/events/chat", `{"content": "spam"}`, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestRequestIDAssigned(t *testing.T) {
	f := newFixture(t, "")
	rec := doRequest(t, f, http.MethodGet, "/health", "", "")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected a generated request ID header")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture(t, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "r_abc123")
	rec := httptest.NewRecorder()
	f.server.TestHandler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "r_abc123" {
		t.Errorf("expected caller request ID echoed, got %q", got)
	}
}

func TestEventIngressMethodNotAllowed(t *testing.T) {
	f := newFixture(t, "")
	rec := doRequest(t, f, http.MethodGet, "/events/chat", "", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
