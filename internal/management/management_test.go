package management

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/panteleyshmelev/pii-anon-3/internal/config"
	"github.com/panteleyshmelev/pii-anon-3/internal/detect"
	"github.com/panteleyshmelev/pii-anon-3/internal/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		APIPort:          8090,
		ManagementPort:   8091,
		StoreBackend:     "bbolt",
		DetectorEndpoint: "http://localhost:11434",
		DetectorModel:    "qwen2.5:3b",
		UseAIDetection:   true,
	}
}

// --- EntityRegistry tests ---

func TestEntityRegistry_DefaultsAllEnabled(t *testing.T) {
	r := NewEntityRegistry("")
	for _, typ := range detect.AllTypes() {
		if !r.Enabled(typ) {
			t.Errorf("expected %s enabled by default", typ)
		}
	}
}

func TestEntityRegistry_EnableDisable(t *testing.T) {
	r := NewEntityRegistry("")

	r.Disable(detect.EntityPerson)
	if r.Enabled(detect.EntityPerson) {
		t.Error("expected person disabled after Disable")
	}
	if !r.Enabled(detect.EntityEmail) {
		t.Error("disabling one type must not affect others")
	}

	r.Enable(detect.EntityPerson)
	if !r.Enabled(detect.EntityPerson) {
		t.Error("expected person enabled after Enable")
	}
}

func TestEntityRegistry_All_Sorted(t *testing.T) {
	r := NewEntityRegistry("")
	all := r.All()
	if len(all) != len(detect.AllTypes()) {
		t.Fatalf("expected %d types, got %d", len(detect.AllTypes()), len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Errorf("types not sorted: %v", all)
			break
		}
	}
}

func TestEntityRegistry_Persistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mask-entities.json")

	r := NewEntityRegistry(path)
	r.Disable(detect.EntityPhone)

	// Verify file was written
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("persist file not created: %v", err)
	}
	var types []string
	if err := json.Unmarshal(data, &types); err != nil {
		t.Fatalf("invalid JSON in persist file: %v", err)
	}

	// A new registry from the same file should load the override
	r2 := NewEntityRegistry(path)
	if r2.Enabled(detect.EntityPhone) {
		t.Error("expected phone disabled after reload from disk")
	}
	if !r2.Enabled(detect.EntityPerson) {
		t.Error("expected person still enabled after reload")
	}
}

func TestEntityRegistry_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mask-entities.json")

	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewEntityRegistry(path)

	// Should fall back to all types enabled
	if !r.Enabled(detect.EntityPerson) {
		t.Error("expected fallback to all-enabled on corrupt file")
	}
}

func TestEntityRegistry_UnknownPersistedTypeDropped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mask-entities.json")

	if err := os.WriteFile(path, []byte(`["person","notAType"]`), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewEntityRegistry(path)
	if !r.Enabled(detect.EntityPerson) {
		t.Error("expected person enabled from persisted file")
	}
	if r.Enabled(detect.EntityType("notAType")) {
		t.Error("unknown persisted type should be dropped")
	}
}

// --- HTTP handler tests ---

func newTestServer(token string) (*Server, *EntityRegistry) {
	cfg := testConfig()
	cfg.ManagementToken = token
	reg := NewEntityRegistry("")
	srv := New(cfg, reg, metrics.New())
	return srv, reg
}

func TestStatus_OK(t *testing.T) {
	srv, _ := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["status"] != "running" {
		t.Errorf("expected status=running, got %v", resp["status"])
	}
	if resp["store"] != "bbolt" {
		t.Errorf("expected store=bbolt, got %v", resp["store"])
	}
	if entities, ok := resp["enabledEntities"].([]any); !ok || len(entities) != len(detect.AllTypes()) {
		t.Errorf("expected all entity types in status, got %v", resp["enabledEntities"])
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	srv, _ := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid metrics JSON: %v", err)
	}
	if snap.UptimeSecs < 0 {
		t.Errorf("negative uptime: %f", snap.UptimeSecs)
	}
}

func TestMetrics_Disabled(t *testing.T) {
	cfg := testConfig()
	srv := New(cfg, NewEntityRegistry(""), nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with nil metrics, got %d", w.Code)
	}
}

func TestAuth_NoToken_PassThrough(t *testing.T) {
	srv, _ := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with no token configured, got %d", w.Code)
	}
}

func TestAuth_ValidToken(t *testing.T) {
	srv, _ := newTestServer("secret123")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", w.Code)
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	srv, _ := newTestServer("secret123")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}
}

func TestAuth_MissingToken(t *testing.T) {
	srv, _ := newTestServer("secret123")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with missing token, got %d", w.Code)
	}
}

func TestDisableEntity_OK(t *testing.T) {
	srv, reg := newTestServer("")
	body := `{"type":"phone"}`
	req := httptest.NewRequest(http.MethodPost, "/entities/disable", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if reg.Enabled(detect.EntityPhone) {
		t.Error("type was not disabled in registry")
	}
}

func TestEnableEntity_OK(t *testing.T) {
	srv, reg := newTestServer("")
	reg.Disable(detect.EntityPhone)

	body := `{"type":"phone"}`
	req := httptest.NewRequest(http.MethodPost, "/entities/enable", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !reg.Enabled(detect.EntityPhone) {
		t.Error("type was not re-enabled in registry")
	}
}

func TestEnableEntity_UnknownType(t *testing.T) {
	srv, _ := newTestServer("")
	body := `{"type":"favoriteColor"}`
	req := httptest.NewRequest(http.MethodPost, "/entities/enable", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown type, got %d", w.Code)
	}
}

func TestEnableEntity_EmptyType(t *testing.T) {
	srv, _ := newTestServer("")
	body := `{"type":""}`
	req := httptest.NewRequest(http.MethodPost, "/entities/enable", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty type, got %d", w.Code)
	}
}

func TestEnableEntity_WrongMethod(t *testing.T) {
	srv, _ := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/entities/enable", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", w.Code)
	}
}
