// Package api exposes the HTTP surface: job submission, job visibility,
// artifact links, and tenant usage.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/MediaVault/internal/admission"
	"github.com/dharsanguruparan/MediaVault/internal/artifact"
	"github.com/dharsanguruparan/MediaVault/internal/config"
	"github.com/dharsanguruparan/MediaVault/internal/job"
	"github.com/dharsanguruparan/MediaVault/internal/orchestrator"
	"github.com/dharsanguruparan/MediaVault/internal/quota"
	"github.com/dharsanguruparan/MediaVault/internal/signing"
)

// JobStore is the persistence surface the API needs.
type JobStore interface {
	CreateJob(ctx context.Context, rec *job.Record) error
	GetJob(ctx context.Context, id string) (*job.Record, error)
	SaveJob(ctx context.Context, rec *job.Record) error
}

// Server wires the admission gate, job store, and artifact leases behind
// HTTP handlers.
type Server struct {
	cfg       *config.Config
	gate      *admission.Gate
	jobs      JobStore
	ledger    *quota.Ledger
	queue     orchestrator.WorkQueue
	leaser    *artifact.Leaser
	artifacts orchestrator.ArtifactStore
	signer    *signing.Signer
	server    *http.Server
	once      sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, gate *admission.Gate, jobs JobStore, ledger *quota.Ledger,
	queue orchestrator.WorkQueue, leaser *artifact.Leaser, artifacts orchestrator.ArtifactStore,
	signer *signing.Signer) *Server {
	return &Server{
		cfg:       cfg,
		gate:      gate,
		jobs:      jobs,
		ledger:    ledger,
		queue:     queue,
		leaser:    leaser,
		artifacts: artifacts,
		signer:    signer,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/jobs", s.handleJobs)
		mux.HandleFunc("/jobs/", s.handleJobRoute)
		mux.HandleFunc("/tenants/", s.handleTenantRoute)
		mux.HandleFunc("/download", s.handleDownload)
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: corsMiddleware(loggingMiddleware(mux)),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handleSubmit(w, r)
}

type submitRequest struct {
	SourceRef string `json:"sourceRef"`
	Tenant    string `json:"tenant"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Tenant) == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}

	rec, err := s.gate.Admit(ctx, req.SourceRef, req.Tenant)
	if err != nil {
		if rej, ok := admission.AsRejection(err); ok {
			status := http.StatusUnprocessableEntity
			if rej.Reason != admission.ReasonInvalidReference {
				status = http.StatusTooManyRequests
			}
			respondJSON(w, status, map[string]string{
				"reason": string(rej.Reason),
				"detail": rej.Detail,
			})
			return
		}
		log.Printf("admission failed: %v", err)
		http.Error(w, "admission failed", http.StatusInternalServerError)
		return
	}
	if err := s.jobs.CreateJob(ctx, rec); err != nil {
		http.Error(w, "failed to store job", http.StatusInternalServerError)
		return
	}
	if err := s.queue.Enqueue(ctx, rec.ID, 0); err != nil {
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     rec.ID,
		"status": string(rec.Status),
	})
}

func (s *Server) handleJobRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleJob(w, r, id)
		return
	}
	switch parts[1] {
	case "retry":
		s.handleRetry(w, r, id)
	case "audio-url":
		s.handleArtifactURL(w, r, id, func(rec *job.Record) string { return rec.AudioKey })
	case "transcript-url":
		s.handleArtifactURL(w, r, id, func(rec *job.Record) string { return rec.TranscriptKey })
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleRetry re-dispatches a Failed job that still has retry budget. The
// orchestrator performs the Failed -> Processing transition on delivery.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	rec, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if rec.Status != job.StatusFailed || rec.Terminal() {
		http.Error(w, "job is not retryable", http.StatusConflict)
		return
	}
	if err := s.queue.Enqueue(ctx, rec.ID, 0); err != nil {
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     rec.ID,
		"status": string(rec.Status),
	})
}

// handleArtifactURL returns a signed download link for one of the job's
// artifacts, refreshing the lease when the previous URL expired.
func (s *Server) handleArtifactURL(w http.ResponseWriter, r *http.Request, id string, keyOf func(*job.Record) string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	rec, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	key := keyOf(rec)
	if key == "" {
		http.Error(w, "artifact unavailable", http.StatusNotFound)
		return
	}
	lease, issued, err := s.leaser.Fresh(ctx, rec, key)
	if err != nil {
		log.Printf("lease for %s failed: %v", key, err)
		http.Error(w, "failed to generate url", http.StatusInternalServerError)
		return
	}
	if issued {
		if err := s.jobs.SaveJob(ctx, rec); err != nil {
			log.Printf("persist lease expiry for %s: %v", rec.ID, err)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"url":         lease.URL,
		"expiresAt":   lease.ExpiresAt,
		"downloadUrl": s.downloadLink(key, lease.ExpiresAt),
	})
}

// downloadLink builds the stable application-level link that proxies to a
// fresh presigned URL on access.
func (s *Server) downloadLink(key string, expiresAt time.Time) string {
	exp := expiresAt.Unix()
	q := url.Values{}
	q.Set("key", key)
	q.Set("expires", strconv.FormatInt(exp, 10))
	q.Set("sig", s.signer.Sign(key, exp))
	return "/download?" + q.Encode()
}

// handleDownload validates a signed link and redirects to a presigned object
// URL.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Query().Get("key")
	expires := r.URL.Query().Get("expires")
	sig := r.URL.Query().Get("sig")
	if key == "" || expires == "" || sig == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}
	if !s.signer.Validate(key, expires, sig) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || time.Now().Unix() > exp {
		http.Error(w, "link expired", http.StatusForbidden)
		return
	}
	target, _, err := s.artifacts.IssueSignedURL(r.Context(), key, s.cfg.SignedURLTTL)
	if err != nil {
		http.Error(w, "failed to generate url", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleTenantRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tenants/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "usage" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.ledger.Usage(r.Context(), parts[0])
	if err != nil {
		log.Printf("usage lookup for %s failed: %v", parts[0], err)
		http.Error(w, "failed to load usage", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
