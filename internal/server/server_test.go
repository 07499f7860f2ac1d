package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/privacyshield-ai/privacyshield/internal/entity"
	"github.com/privacyshield-ai/privacyshield/internal/finding"
	"github.com/privacyshield-ai/privacyshield/internal/pattern"
	"github.com/privacyshield-ai/privacyshield/internal/policy"
	"github.com/privacyshield-ai/privacyshield/internal/reachability"
	"github.com/privacyshield-ai/privacyshield/internal/scan"
)

type stubClassifier struct {
	tokens []entity.Token
	err    error
}

func (s *stubClassifier) Classify(context.Context, string) ([]entity.Token, error) {
	return s.tokens, s.err
}

func (s *stubClassifier) Healthy(context.Context) (bool, error) {
	return s.err == nil, s.err
}

func testServer(cls *stubClassifier, monitor *reachability.Monitor) *Server {
	rules := policy.Table{
		"email":  {ID: "email", DetectEnabled: true, BlockOnMatch: true, Severity: policy.SeverityHigh},
		"person": {ID: "person", DetectEnabled: true, BlockOnMatch: false, Severity: policy.SeverityMedium},
	}
	cfg := scan.Config{
		Matcher: pattern.NewMatcher(pattern.DefaultConfig()),
		Monitor: monitor,
		Rules:   rules,
	}
	if cls != nil {
		cfg.Classifier = cls
	}
	return New(scan.NewOrchestrator(cfg), monitor, "test")
}

func postAnalyze(t *testing.T, s *Server, body string) (*httptest.ResponseRecorder, analyzeResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp analyzeResponse
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, resp
}

func TestHealthReportsClassifierState(t *testing.T) {
	monitor := reachability.NewMonitor(nil)
	monitor.BeginLoading()
	s := testServer(nil, monitor)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Classifier != "loading" {
		t.Fatalf("unexpected health %+v", resp)
	}
}

func TestHealthRejectsPost(t *testing.T) {
	s := testServer(nil, reachability.NewMonitor(nil))
	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestAnalyzeBlocksOnPatternMatch(t *testing.T) {
	s := testServer(nil, reachability.NewMonitor(nil))

	rec, resp := postAnalyze(t, s, `{"text":"mail me at alice@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Outcome != policy.OutcomeBlock {
		t.Fatalf("expected block, got %s", resp.Outcome)
	}
	if resp.ScanID == "" {
		t.Fatalf("expected scan id")
	}
	if len(resp.Blocking) != 1 || resp.Blocking[0].RuleID != "email" {
		t.Fatalf("unexpected blocking %+v", resp.Blocking)
	}
	if resp.Revised {
		t.Fatalf("expected pattern-only decision without classifier")
	}
}

func TestAnalyzeAppliesRevisedDecision(t *testing.T) {
	monitor := reachability.NewMonitor(nil)
	monitor.SetReady()
	cls := &stubClassifier{tokens: []entity.Token{
		{Tag: entity.TagBegin, Category: entity.CategoryPerson, Span: finding.Span{Start: 0, End: 4}, Confidence: 0.95, Text: "John"},
	}}
	s := testServer(cls, monitor)

	rec, resp := postAnalyze(t, s, `{"text":"John wrote this note"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !resp.Revised {
		t.Fatalf("expected revised decision applied")
	}
	if resp.Outcome != policy.OutcomeWarn {
		t.Fatalf("expected warn, got %s", resp.Outcome)
	}
	if len(resp.Warning) != 1 || resp.Warning[0].RuleID != "person" {
		t.Fatalf("unexpected warning %+v", resp.Warning)
	}
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	s := testServer(nil, reachability.NewMonitor(nil))

	rec, _ := postAnalyze(t, s, `{bad json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}

	rec, _ = postAnalyze(t, s, `{"text":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/analyze", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}
