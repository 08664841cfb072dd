// Package management provides a lightweight HTTP API for runtime inspection
// and configuration of the running masking service.
//
// Endpoints:
//
//	GET  /status            - service health, store backend, enabled entity types
//	GET  /metrics           - metrics snapshot
//	POST /entities/enable   - enable an entity type {"type":"person"}
//	POST /entities/disable  - disable an entity type {"type":"person"}
package management

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panteleyshmelev/pii-anon-3/internal/config"
	"github.com/panteleyshmelev/pii-anon-3/internal/detect"
	"github.com/panteleyshmelev/pii-anon-3/internal/metrics"
)

// Server is the management API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	entities  *EntityRegistry
	token     string           // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics // nil = no metrics
}

// EntityRegistry holds the mutable set of enabled entity types.
// It is shared between the masking pipeline and the management server.
// Changes are persisted to disk via atomic file writes so they survive
// service restarts.
type EntityRegistry struct {
	mu          sync.RWMutex
	enabled     map[detect.EntityType]bool
	persistPath string // empty = no persistence
}

// NewEntityRegistry creates a registry with every known entity type enabled.
// If persistPath is non-empty and the file exists, its contents take
// precedence over the default (it represents runtime overrides).
func NewEntityRegistry(persistPath string) *EntityRegistry {
	r := &EntityRegistry{
		enabled:     make(map[detect.EntityType]bool),
		persistPath: persistPath,
	}

	// Try to load persisted overrides first
	if persistPath != "" {
		types, err := r.loadFromDisk()
		switch {
		case err == nil:
			for _, t := range types {
				if t.Known() {
					r.enabled[t] = true
				}
			}
			log.Printf("[ENTITIES] Loaded %d enabled types from %s", len(r.enabled), persistPath)
			return r
		case !os.IsNotExist(err):
			log.Printf("[ENTITIES] Warning: failed to load %s: %v (enabling all types)", persistPath, err)
		}
	}

	// Fall back to all known types enabled
	for _, t := range detect.AllTypes() {
		r.enabled[t] = true
	}
	return r
}

// Enabled returns true if the entity type is currently enabled.
func (r *EntityRegistry) Enabled(t detect.EntityType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[t]
}

// Enable enables an entity type and persists to disk.
func (r *EntityRegistry) Enable(t detect.EntityType) {
	r.mu.Lock()
	r.enabled[t] = true
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot)
}

// Disable disables an entity type and persists to disk.
func (r *EntityRegistry) Disable(t detect.EntityType) {
	r.mu.Lock()
	delete(r.enabled, t)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot)
}

// All returns a sorted slice of all enabled entity types.
func (r *EntityRegistry) All() []detect.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// loadFromDisk reads the persisted enabled-type list from disk.
func (r *EntityRegistry) loadFromDisk() ([]detect.EntityType, error) {
	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		return nil, err
	}
	var types []detect.EntityType
	if err := json.Unmarshal(data, &types); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.persistPath, err)
	}
	return types, nil
}

// snapshotLocked returns a sorted copy of the enabled type set.
// Caller must hold r.mu.
func (r *EntityRegistry) snapshotLocked() []detect.EntityType {
	out := make([]detect.EntityType, 0, len(r.enabled))
	for t := range r.enabled {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// persist writes the given type snapshot to disk atomically.
// It does NOT hold r.mu, so it won't block Enabled/All calls.
func (r *EntityRegistry) persist(types []detect.EntityType) {
	if r.persistPath == "" {
		return
	}

	data, err := json.MarshalIndent(types, "", "  ")
	if err != nil {
		log.Printf("[ENTITIES] Marshal error: %v", err)
		return
	}

	// Atomic write: temp file → rename
	dir := filepath.Dir(r.persistPath)
	tmp, err := os.CreateTemp(dir, ".mask-entities-*.tmp")
	if err != nil {
		log.Printf("[ENTITIES] Persist error (create temp): %v", err)
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck
		log.Printf("[ENTITIES] Persist error (write): %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		log.Printf("[ENTITIES] Persist error (close): %v", err)
		return
	}
	if err := os.Rename(tmpName, r.persistPath); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		log.Printf("[ENTITIES] Persist error (rename): %v", err)
		return
	}
}

// New creates a management server.
func New(cfg *config.Config, registry *EntityRegistry, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		entities:  registry,
		token:     cfg.ManagementToken,
		metrics:   m,
	}
	if s.token != "" {
		log.Printf("[MANAGEMENT] Bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/entities/enable", s.handleEnable)
	mux.HandleFunc("/entities/disable", s.handleDisable)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			log.Printf("[MANAGEMENT] Unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status   string              `json:"status"`
		Uptime   string              `json:"uptime"`
		APIPort  int                 `json:"apiPort"`
		Store    string              `json:"store"`
		Entities []detect.EntityType `json:"enabledEntities"`
		Detector struct {
			Endpoint string `json:"endpoint"`
			Model    string `json:"model"`
			Enabled  bool   `json:"enabled"`
		} `json:"detector"`
	}

	resp := response{
		Status:   "running",
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		APIPort:  s.cfg.APIPort,
		Store:    s.cfg.StoreBackend,
		Entities: s.entities.All(),
	}
	resp.Detector.Endpoint = s.cfg.DetectorEndpoint
	resp.Detector.Model = s.cfg.DetectorModel
	resp.Detector.Enabled = s.cfg.UseAIDetection

	writeJSON(w, http.StatusOK, resp)
}

// decodeType reads and validates a {"type":"..."} request body.
func decodeType(w http.ResponseWriter, r *http.Request) (detect.EntityType, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return "", false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		http.Error(w, "invalid request: need {\"type\":\"...\"}", http.StatusBadRequest)
		return "", false
	}
	t := detect.EntityType(req.Type)
	if !t.Known() {
		http.Error(w, "unknown entity type", http.StatusBadRequest)
		return "", false
	}
	return t, true
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	t, ok := decodeType(w, r)
	if !ok {
		return
	}
	s.entities.Enable(t)
	log.Printf("[MANAGEMENT] Enabled entity type: %s", t)
	writeJSON(w, http.StatusOK, map[string]string{"enabled": string(t)})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	t, ok := decodeType(w, r)
	if !ok {
		return
	}
	s.entities.Disable(t)
	log.Printf("[MANAGEMENT] Disabled entity type: %s", t)
	writeJSON(w, http.StatusOK, map[string]string{"disabled": string(t)})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[MANAGEMENT] JSON encode error: %v", err)
	}
}

// ListenAndServe starts the management HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ManagementPort)
	log.Printf("[MANAGEMENT] Listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
