// Package server exposes the anonymization service over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hannes/textanon/anonymize"
	"github.com/hannes/textanon/anonymizer"
	"github.com/hannes/textanon/config"
	"github.com/hannes/textanon/ner"
	"github.com/hannes/textanon/store"
)

// maxUploadBytes bounds the file anonymization endpoint.
const maxUploadBytes = 10 << 20 // 10MB

// Server represents the HTTP server.
type Server struct {
	config  *config.Config
	service *anonymizer.Service
	manager *ner.Manager
	audit   store.AuditStore
	limiter *clientLimiter
}

// NewServer creates a new server instance. manager may be nil when the
// configured detector has no reloadable model.
func NewServer(cfg *config.Config, svc *anonymizer.Service, manager *ner.Manager, audit store.AuditStore) *Server {
	return &Server{
		config:  cfg,
		service: svc,
		manager: manager,
		audit:   audit,
		limiter: newClientLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
}

// Start starts the HTTP server and blocks until it fails.
func (s *Server) Start() error {
	log.Printf("Starting anonymization service on %s", s.config.ListenAddr)
	log.Printf("Detector: %s", s.config.Detector)
	if s.config.Database.Enabled {
		log.Println("Database audit storage enabled")
	} else {
		log.Println("Using in-memory audit storage")
	}

	server := &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// StartWithErrorHandling starts the server and exits the process on failure.
func (s *Server) StartWithErrorHandling() {
	if err := s.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// Handler returns the full route set, wrapped with panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/anonymize", s.handleAnonymize)
	mux.HandleFunc("/v1/anonymize/file", s.handleAnonymizeFile)
	mux.HandleFunc("/api/model/reload", s.handleModelReload)
	mux.HandleFunc("/api/audit/recent", s.handleAuditRecent)
	return s.recoverPanics(mux)
}

// recoverPanics turns handler panics into 500s and reports them to Sentry
// when a DSN is configured.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				sentry.CurrentHub().Recover(rec)
				log.Printf("panic in %s %s: %v", r.Method, r.URL.Path, rec)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type anonymizeRequest struct {
	Text string `json:"text"`
}

// handleAnonymize serves POST /v1/anonymize.
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.corsHandler(w, r)
		w.WriteHeader(http.StatusOK)
		return
	}
	s.corsHandler(w, r)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow(r.RemoteAddr) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	var req anonymizeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "Field 'text' is required", http.StatusBadRequest)
		return
	}

	result, err := s.service.Anonymize(r.Context(), req.Text)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if s.config.Logging.LogRequests {
		log.Printf("[%s] anonymized %d bytes, %d entities", result.RequestID, len(req.Text), len(result.Entities))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// handleAnonymizeFile serves POST /v1/anonymize/file: a multipart text file
// in, the anonymized text back out as a download.
func (s *Server) handleAnonymizeFile(w http.ResponseWriter, r *http.Request) {
	s.corsHandler(w, r)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow(r.RemoteAddr) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Field 'file' is required", http.StatusBadRequest)
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Printf("Failed to close upload: %v", err)
		}
	}()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}
	if len(content) == 0 {
		http.Error(w, "Uploaded file is empty", http.StatusBadRequest)
		return
	}

	result, err := s.service.Anonymize(r.Context(), string(content))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=anonymized.txt")
	w.Header().Set("X-Request-Id", result.RequestID)
	if _, err := w.Write([]byte(result.Text)); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// writeServiceError maps service failures to status codes: provider
// contract violations are the caller's fault (422), everything else means
// the detector path is down (503).
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, anonymize.ErrInvalidSpan) || errors.Is(err, anonymize.ErrOverlappingSpans) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	sentry.CaptureException(err)
	log.Printf("anonymization failed for %s %s: %v", r.Method, r.URL.Path, err)
	http.Error(w, "Anonymization unavailable", http.StatusServiceUnavailable)
}

// handleHealth provides a simple health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.corsHandler(w, r)

	status := "healthy"
	if s.manager != nil && !s.manager.Healthy() {
		status = "degraded"
	}

	storage := "memory"
	if s.config.Database.Enabled {
		storage = "postgres"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := map[string]string{
		"status":   status,
		"service":  "textanon",
		"detector": s.config.Detector,
		"storage":  storage,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Failed to write health check response: %v", err)
	}
}

type reloadRequest struct {
	Directory string `json:"directory"`
}

// handleModelReload serves POST /api/model/reload.
func (s *Server) handleModelReload(w http.ResponseWriter, r *http.Request) {
	s.corsHandler(w, r)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.manager == nil {
		http.Error(w, "Detector has no reloadable model", http.StatusServiceUnavailable)
		return
	}

	var req reloadRequest
	if r.Body != nil {
		// Body is optional; an empty request reloads the configured directory.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	dir := req.Directory
	if dir == "" {
		dir = s.config.ModelDir
	}

	if err := s.manager.Reload(dir); err != nil {
		sentry.CaptureException(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "reloaded", "directory": dir}); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// handleAuditRecent serves GET /api/audit/recent?limit=N.
func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	s.corsHandler(w, r)

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.audit == nil {
		http.Error(w, "Audit trail disabled", http.StatusNotFound)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("Failed to query audit entries: %v", err)
		http.Error(w, "Failed to query audit entries", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"entries": entries}); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// corsHandler adds CORS headers to the response.
func (s *Server) corsHandler(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "false")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}
