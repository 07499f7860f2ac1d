package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/privacyshield-ai/privacyshield/internal/finding"
	"github.com/privacyshield-ai/privacyshield/internal/policy"
	"github.com/privacyshield-ai/privacyshield/internal/reachability"
	"github.com/privacyshield-ai/privacyshield/internal/scan"
)

// maxRequestBytes caps analyze request bodies.
const maxRequestBytes = 1 << 20

// defaultRevisionWait bounds how long /v1/analyze waits for the revised
// decision before answering with the initial one.
const defaultRevisionWait = 10 * time.Second

// Server exposes the engine over HTTP.
type Server struct {
	mux          *http.ServeMux
	orchestrator *scan.Orchestrator
	monitor      *reachability.Monitor
	revisionWait time.Duration
	version      string
	started      time.Time
}

// New creates a server with all routes registered.
func New(orchestrator *scan.Orchestrator, monitor *reachability.Monitor, version string) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		orchestrator: orchestrator,
		monitor:      monitor,
		revisionWait: defaultRevisionWait,
		version:      version,
		started:      time.Now(),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/v1/analyze", s.handleAnalyze)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthResponse struct {
	Status     string `json:"status"`
	Classifier string `json:"classifier"`
	Version    string `json:"version,omitempty"`
	UptimeSec  int64  `json:"uptime_sec"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	classifier := string(reachability.StateUnknown)
	if s.monitor != nil {
		classifier = string(s.monitor.Snapshot())
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Classifier: classifier,
		Version:    s.version,
		UptimeSec:  int64(time.Since(s.started).Seconds()),
	})
}

type analyzeRequest struct {
	Text string `json:"text"`
}

type analyzeResponse struct {
	ScanID   string            `json:"scan_id"`
	Outcome  policy.Outcome    `json:"outcome"`
	Blocking []finding.Finding `json:"blocking,omitempty"`
	Warning  []finding.Finding `json:"warning,omitempty"`
	Revised  bool              `json:"revised"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	res := s.orchestrator.Evaluate(r.Context(), req.Text)
	decision := res.Initial
	revisedApplied := false

	timer := time.NewTimer(s.revisionWait)
	defer timer.Stop()
	select {
	case d, ok := <-res.Revised:
		if ok {
			decision = d
			revisedApplied = true
		}
	case <-timer.C:
	case <-r.Context().Done():
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		ScanID:   res.ScanID,
		Outcome:  decision.Outcome,
		Blocking: decision.Blocking,
		Warning:  decision.Warning,
		Revised:  revisedApplied,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
