package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/privacyshield-ai/privacyshield/internal/entity"
	"github.com/privacyshield-ai/privacyshield/internal/finding"
)

// HTTPClassifier calls a remote analyzer speaking the engine's JSON contract:
// POST {base}/analyze with {"text": ...} returning per-token classifications.
type HTTPClassifier struct {
	baseURL          string
	client           *http.Client
	firstLoadTimeout time.Duration
	steadyTimeout    time.Duration
	maxResponseBytes int64
	warmed           atomic.Bool
}

// HTTPOptions configures the remote classifier client.
type HTTPOptions struct {
	// FirstLoadTimeout bounds the first call, which may trigger model load on
	// the collaborator side. Defaults to 30s.
	FirstLoadTimeout time.Duration
	// SteadyTimeout bounds every later call. Defaults to 5s.
	SteadyTimeout    time.Duration
	MaxResponseBytes int64
}

// NewHTTP creates a classifier client for the given base URL.
func NewHTTP(baseURL string, opts HTTPOptions) *HTTPClassifier {
	if opts.FirstLoadTimeout <= 0 {
		opts.FirstLoadTimeout = 30 * time.Second
	}
	if opts.SteadyTimeout <= 0 {
		opts.SteadyTimeout = 5 * time.Second
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = 4 * 1024 * 1024
	}
	return &HTTPClassifier{
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		firstLoadTimeout: opts.FirstLoadTimeout,
		steadyTimeout:    opts.SteadyTimeout,
		maxResponseBytes: opts.MaxResponseBytes,
		client:           &http.Client{},
	}
}

type analyzeRequest struct {
	Text string `json:"text"`
}

// wireToken mirrors a token-classification pipeline entry: BIO label, token
// text (possibly a ## continuation piece), character span, and score.
type wireToken struct {
	Entity string  `json:"entity"`
	Word   string  `json:"word"`
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Score  float32 `json:"score"`
}

type analyzeResponse struct {
	Tokens []wireToken `json:"tokens"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Classify posts the text and converts the wire tokens to the engine's token
// model. Network errors, timeouts, and non-2xx statuses all surface as
// ErrUnavailable so the orchestrator can degrade uniformly.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) ([]entity.Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := c.steadyTimeout
	if !c.warmed.Load() {
		timeout = c.firstLoadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(analyzeRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.maxResponseBytes+1)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if int64(len(respBody)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%w: response exceeded limit (%d bytes)", ErrUnavailable, c.maxResponseBytes)
	}

	if resp.StatusCode >= 400 {
		var errBody errorResponse
		if jsonErr := json.Unmarshal(respBody, &errBody); jsonErr == nil && errBody.Error != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, errBody.Error)
		}
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	c.warmed.Store(true)
	return tokensFromWire(parsed.Tokens), nil
}

// Healthy probes GET {base}/health.
func (c *HTTPClassifier) Healthy(ctx context.Context) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("create health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func tokensFromWire(in []wireToken) []entity.Token {
	if len(in) == 0 {
		return nil
	}
	out := make([]entity.Token, 0, len(in))
	for _, wt := range in {
		tag, rawCategory := entity.SplitLabel(wt.Entity)
		out = append(out, entity.Token{
			Tag:        tag,
			Category:   entity.CategoryFromLabel(rawCategory),
			Subword:    strings.HasPrefix(wt.Word, "##"),
			Span:       finding.Span{Start: wt.Start, End: wt.End},
			Confidence: wt.Score,
			Text:       wt.Word,
		})
	}
	return out
}
