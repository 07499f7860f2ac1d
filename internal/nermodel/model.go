package nermodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/privacyshield-ai/privacyshield/internal/entity"
	"github.com/privacyshield-ai/privacyshield/internal/finding"
)

// Model runs a local ONNX token-classification model, avoiding the network
// hop of the HTTP collaborator. It satisfies the same Classifier contract.
type Model struct {
	session   *ort.AdvancedSession
	tokenizer *WordPieceTokenizer
	labels    []string
	seqLen    int

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	output        *ort.Tensor[float32]

	mu sync.Mutex
}

// Load initializes the ONNX session and tokenizer from a model bundle
// directory holding model.onnx, label_map.json, and tokenizer/vocab.txt.
func Load(bundleDir string, seqLen int) (*Model, error) {
	if bundleDir == "" {
		return nil, errors.New("bundleDir is empty")
	}
	if seqLen <= 0 {
		seqLen = 256
	}

	libPath := resolveSharedLibraryPath(bundleDir)
	if libPath == "" {
		return nil, fmt.Errorf("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	modelPath := filepath.Join(bundleDir, "model.onnx")
	labelsPath := filepath.Join(bundleDir, "label_map.json")
	vocabPath := filepath.Join(bundleDir, "tokenizer", "vocab.txt")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	labels, err := loadLabels(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}

	// NER vocabularies are cased.
	tokenizer, err := LoadTokenizer(vocabPath, false)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	inputShape := ort.NewShape(1, int64(seqLen))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	outputShape := ort.NewShape(1, int64(seqLen), int64(len(labels)))
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate logits tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]ort.Value{inputIDs, attnMask},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &Model{
		session:       session,
		tokenizer:     tokenizer,
		labels:        labels,
		seqLen:        seqLen,
		inputIDs:      inputIDs,
		attentionMask: attnMask,
		output:        output,
	}, nil
}

// Classify tokenizes text, runs the model, and returns per-token
// classifications for every non-special position.
func (m *Model) Classify(ctx context.Context, text string) ([]entity.Token, error) {
	if m == nil || m.session == nil || m.tokenizer == nil {
		return nil, errors.New("ner model not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, attn, pieces := m.tokenizer.Encode(text, m.seqLen)

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.inputIDs.GetData(), ids)
	copy(m.attentionMask.GetData(), attn)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	return m.decode(text, attn, pieces, m.output.GetData()), nil
}

// Healthy reports whether the session is loaded. A local model has no
// transport to probe.
func (m *Model) Healthy(context.Context) (bool, error) {
	if m == nil || m.session == nil {
		return false, errors.New("ner model not initialized")
	}
	return true, nil
}

func (m *Model) decode(text string, attn []int64, pieces []Piece, logits []float32) []entity.Token {
	numLabels := len(m.labels)
	var tokens []entity.Token
	for i, p := range pieces {
		if i >= len(attn) || attn[i] == 0 || p.Start < 0 {
			continue
		}
		row := logits[i*numLabels : (i+1)*numLabels]
		best, conf := argmaxSoftmax(row)
		label := m.labels[best]
		tag, rawCategory := entity.SplitLabel(label)
		if tag == entity.TagOutside {
			continue
		}
		pieceText := text[p.Start:p.End]
		if p.Continuation {
			pieceText = continuationMarker + pieceText
		}
		tokens = append(tokens, entity.Token{
			Tag:        tag,
			Category:   entity.CategoryFromLabel(rawCategory),
			Subword:    p.Continuation,
			Span:       finding.Span{Start: p.Start, End: p.End},
			Confidence: conf,
			Text:       pieceText,
		})
	}
	return tokens
}

// argmaxSoftmax returns the winning index and its softmax probability,
// computed with the max subtracted for numeric stability.
func argmaxSoftmax(logits []float32) (int, float32) {
	if len(logits) == 0 {
		return 0, 0
	}
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - logits[best]))
	}
	if sum == 0 {
		return best, 0
	}
	return best, float32(1.0 / sum)
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return arr, nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	out := make([]string, len(m))
	for k, v := range m {
		idx, convErr := strconv.Atoi(k)
		if convErr != nil {
			return nil, fmt.Errorf("invalid label index %q: %w", k, convErr)
		}
		if idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("label index %d out of range", idx)
		}
		out[idx] = v
	}
	return out, nil
}

// resolveSharedLibraryPath locates the onnxruntime shared library. The
// ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable wins; otherwise
// common names and locations are probed.
func resolveSharedLibraryPath(bundleDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		bundleDir,
		filepath.Join(bundleDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
