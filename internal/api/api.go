// Package api exposes the document masking pipeline over HTTP.
//
// Endpoints:
//
//	POST /v1/mask    - body is the raw document; returns the masked document
//	POST /v1/unmask  - {"documentId","maskedText"?}; returns the restored text
//
// The server speaks HTTP/2 cleartext (h2c) alongside HTTP/1.1 so bulk
// document traffic can multiplex on one connection.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/panteleyshmelev/pii-anon-3/internal/config"
	"github.com/panteleyshmelev/pii-anon-3/internal/layout"
	"github.com/panteleyshmelev/pii-anon-3/internal/logger"
	"github.com/panteleyshmelev/pii-anon-3/internal/mask"
	"github.com/panteleyshmelev/pii-anon-3/internal/metrics"
	"github.com/panteleyshmelev/pii-anon-3/internal/service"
)

// Server is the document API server.
type Server struct {
	cfg     *config.Config
	svc     *service.Service
	metrics *metrics.Metrics
	log     *logger.Logger
	token   string // bearer token for auth; empty = no auth
}

// New creates an API server around the masking service.
func New(cfg *config.Config, svc *service.Service, m *metrics.Metrics, log *logger.Logger) *Server {
	return &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: m,
		log:     log,
		token:   cfg.APIToken,
	}
}

type maskResponse struct {
	DocumentID string `json:"documentId"`
	MaskedText string `json:"maskedText"`
	Entities   int    `json:"entities"`
}

type unmaskRequest struct {
	DocumentID string `json:"documentId"`
	MaskedText string `json:"maskedText,omitempty"`
}

type unmaskResponse struct {
	DocumentID string `json:"documentId"`
	Text       string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP handler for the document API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/mask", s.handleMask)
	mux.HandleFunc("/v1/unmask", s.handleUnmask)
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
			s.metrics.AuthFailures.Add(1)
			s.log.Warnf("auth", "unauthorized request from %s to %s", r.RemoteAddr, r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "POST only"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxDocumentBytes)
	document, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "document too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read document: " + err.Error()})
		return
	}
	if len(document) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty document"})
		return
	}

	res, err := s.svc.Mask(r.Context(), document)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, maskResponse{
		DocumentID: res.DocID,
		MaskedText: res.MaskedText,
		Entities:   res.Entities,
	})
}

func (s *Server) handleUnmask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "POST only"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxDocumentBytes)
	var req unmaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: need {\"documentId\":\"...\"}"})
		return
	}

	res, err := s.svc.Unmask(r.Context(), req.DocumentID, []byte(req.MaskedText))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, unmaskResponse{DocumentID: res.DocID, Text: res.Text})
}

// writeError maps pipeline failures onto HTTP statuses: a text-less document
// is bad input (400), detection and rendering failures are upstream problems
// (502), a missing mapping is a client-visible absence (404), everything else
// is internal (500).
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.log.Errorf("request", "pipeline error: %v", err)
	switch {
	case errors.Is(err, layout.ErrNoText):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, mask.ErrMissingMapping):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, mask.ErrDetection), errors.Is(err, mask.ErrRendering):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	case errors.Is(err, mask.ErrConsistency):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the API server with h2c support.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.APIPort)
	s.log.Infof("server", "listening on %s", addr)

	h2srv := &http2.Server{}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(s.Handler(), h2srv),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
