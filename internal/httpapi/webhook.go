package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentworkforce/kbsync/internal/kbsync"
	"github.com/agentworkforce/kbsync/internal/metrics"
)

const WebhookPath = "/webhook/notion"

type ServerConfig struct {
	// SigningSecret verifies inbound webhook signatures. Empty disables
	// verification; callers decide that explicitly and should log it.
	SigningSecret string
	MaxBodyBytes  int64
}

type Server struct {
	pipeline kbsync.Pipeline
	cfg      ServerConfig
}

func NewServer(pipeline kbsync.Pipeline) *Server {
	return NewServerWithConfig(pipeline, ServerConfig{})
}

func NewServerWithConfig(pipeline kbsync.Pipeline, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{pipeline: pipeline, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/metrics" && r.Method == http.MethodGet {
		promhttp.Handler().ServeHTTP(w, r)
		return
	}
	if r.URL.Path == WebhookPath {
		s.handleWebhook(w, r)
		return
	}
	writeError(w, http.StatusNotFound, "route not found")
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	// The raw bytes must be captured before any JSON parse: the signature is
	// an HMAC over exactly what was transmitted.
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	metrics.EnvelopesReceived.Inc()

	if field, value, ok := kbsync.DetectHandshake(body); ok {
		metrics.HandshakesServed.Inc()
		log.Printf("webhook handshake received (%s)", field)
		writeJSON(w, http.StatusOK, map[string]string{field: value})
		return
	}

	if s.cfg.SigningSecret != "" {
		if !kbsync.VerifySignature([]byte(s.cfg.SigningSecret), body, r.Header.Get(kbsync.SignatureHeader)) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	result, err := s.pipeline.ProcessEnvelope(r.Context(), body)
	if err != nil {
		if errors.Is(err, kbsync.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("webhook pipeline failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.Failed > 0 {
		log.Printf("webhook processed with %d failed dispatch(es) out of %d event(s)", result.Failed, result.Events)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
