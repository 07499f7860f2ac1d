package nermodel

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

const continuationMarker = "##"

// Piece is one WordPiece token aligned to the input text. Start/End are byte
// offsets; special tokens and padding carry -1. Continuation marks pieces
// that extend the previous piece of the same word.
type Piece struct {
	ID           int64
	Start        int
	End          int
	Continuation bool
}

// WordPieceTokenizer is a minimal BERT-compatible tokenizer. NER models are
// typically cased, so lowercasing is opt-in.
type WordPieceTokenizer struct {
	vocab     map[string]int64
	lowerCase bool
	clsID     int64
	sepID     int64
	padID     int64
	unkID     int64
}

// LoadTokenizer builds the tokenizer from a vocab.txt file, one token per
// line, line number as id.
func LoadTokenizer(path string, lowerCase bool) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		token := strings.TrimSpace(sc.Text())
		if token == "" {
			continue
		}
		vocab[token] = idx
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan vocab: %w", err)
	}

	return &WordPieceTokenizer{
		vocab:     vocab,
		lowerCase: lowerCase,
		clsID:     vocab["[CLS]"],
		sepID:     vocab["[SEP]"],
		padID:     vocab["[PAD]"],
		unkID:     vocab["[UNK]"],
	}, nil
}

// Encode tokenizes text into ids, attention mask, and aligned pieces, all of
// length seqLen. Words past the sequence budget are dropped.
func (t *WordPieceTokenizer) Encode(text string, seqLen int) ([]int64, []int64, []Piece) {
	if seqLen <= 0 {
		return nil, nil, nil
	}

	ids := []int64{t.clsID}
	pieces := []Piece{{ID: t.clsID, Start: -1, End: -1}}

	for _, w := range splitWords(text) {
		token := w.text
		if t.lowerCase {
			token = strings.ToLower(token)
		}
		for _, p := range t.wordPiece(token) {
			p.Start += w.start
			p.End += w.start
			ids = append(ids, p.ID)
			pieces = append(pieces, p)
			if len(ids) >= seqLen-1 {
				break
			}
		}
		if len(ids) >= seqLen-1 {
			break
		}
	}

	ids = append(ids, t.sepID)
	pieces = append(pieces, Piece{ID: t.sepID, Start: -1, End: -1})

	attn := make([]int64, seqLen)
	for i := 0; i < len(ids) && i < seqLen; i++ {
		attn[i] = 1
	}
	for len(ids) < seqLen {
		ids = append(ids, t.padID)
		pieces = append(pieces, Piece{ID: t.padID, Start: -1, End: -1})
	}

	return ids, attn, pieces
}

// wordPiece splits one word into vocabulary pieces with offsets relative to
// the word. Unmatchable words map to a single [UNK] covering the whole word.
func (t *WordPieceTokenizer) wordPiece(token string) []Piece {
	if id, ok := t.vocab[token]; ok {
		return []Piece{{ID: id, Start: 0, End: len(token)}}
	}

	var pieces []Piece
	start := 0
	for start < len(token) {
		end := len(token)
		matched := false
		for end > start {
			sub := token[start:end]
			if start > 0 {
				sub = continuationMarker + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, Piece{
					ID:           id,
					Start:        start,
					End:          end,
					Continuation: start > 0,
				})
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			return []Piece{{ID: t.unkID, Start: 0, End: len(token)}}
		}
	}
	if len(pieces) == 0 {
		return []Piece{{ID: t.unkID, Start: 0, End: len(token)}}
	}
	return pieces
}

type word struct {
	text  string
	start int
}

func splitWords(text string) []word {
	if text == "" {
		return nil
	}
	var words []word
	start := -1
	for idx, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, word{text: text[start:idx], start: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = idx
		}
	}
	if start >= 0 {
		words = append(words, word{text: text[start:], start: start})
	}
	return words
}
