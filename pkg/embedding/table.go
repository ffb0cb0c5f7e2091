package embedding

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrDimensionMismatch is returned when a token vector has the wrong length.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

	// ErrNegativeIDF is returned when an IDF table holds a negative weight.
	ErrNegativeIDF = errors.New("embedding: negative idf weight")
)

// Table holds pretrained token vectors and the token IDF weights used to
// combine them into phrase vectors.
type Table struct {
	dim     int
	vectors map[string][]float64
	idf     map[string]float64
}

// NewTable creates a table of the given dimension.
func NewTable(dim int) *Table {
	return &Table{
		dim:     dim,
		vectors: make(map[string][]float64),
		idf:     make(map[string]float64),
	}
}

// Dim returns the vector dimension.
func (t *Table) Dim() int { return t.dim }

// Len returns the number of tokens with a vector.
func (t *Table) Len() int { return len(t.vectors) }

// SetVector registers the vector for token.
func (t *Table) SetVector(token string, vec []float64) error {
	if len(vec) != t.dim {
		return fmt.Errorf("%w: token %q has %d values, want %d", ErrDimensionMismatch, token, len(vec), t.dim)
	}
	t.vectors[token] = vec
	return nil
}

// SetIDF registers the IDF weight for token.
func (t *Table) SetIDF(token string, w float64) error {
	if w < 0 {
		return fmt.Errorf("%w: %q=%g", ErrNegativeIDF, token, w)
	}
	t.idf[token] = w
	return nil
}

// Vector returns the vector registered for token.
func (t *Table) Vector(token string) ([]float64, bool) {
	vec, ok := t.vectors[token]
	return vec, ok
}

// IDF returns the weight registered for token.
func (t *Table) IDF(token string) (float64, bool) {
	w, ok := t.idf[token]
	return w, ok
}

// Tokens returns every token that has a vector or a weight, sorted.
func (t *Table) Tokens() []string {
	seen := make(map[string]struct{}, len(t.vectors))
	for tok := range t.vectors {
		seen[tok] = struct{}{}
	}
	for tok := range t.idf {
		seen[tok] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// lookup returns the vector and weight for token; ok is false unless both exist.
func (t *Table) lookup(token string) ([]float64, float64, bool) {
	vec, ok := t.vectors[token]
	if !ok {
		return nil, 0, false
	}
	w, ok := t.idf[token]
	if !ok {
		return nil, 0, false
	}
	return vec, w, true
}

// ReadWord2Vec reads vectors in word2vec text format: one token per line
// followed by its values. A leading "<count> <dim>" header is optional.
func ReadWord2Vec(r io.Reader) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var t *Table
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if line == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				dim, err := strconv.Atoi(fields[1])
				if err != nil {
					return nil, fmt.Errorf("embedding: bad header: %w", err)
				}
				t = NewTable(dim)
				continue
			}
		}

		if t == nil {
			t = NewTable(len(fields) - 1)
		}
		vec := make([]float64, len(fields)-1)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("embedding: line %d: %w", line, err)
			}
			vec[i] = v
		}
		if err := t.SetVector(fields[0], vec); err != nil {
			return nil, fmt.Errorf("embedding: line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("embedding: read vectors: %w", err)
	}
	if t == nil {
		return nil, errors.New("embedding: no vectors")
	}
	return t, nil
}

// ReadIDF loads a JSON object of token -> weight into t.
func (t *Table) ReadIDF(r io.Reader) error {
	var weights map[string]float64
	if err := json.NewDecoder(r).Decode(&weights); err != nil {
		return fmt.Errorf("embedding: decode idf: %w", err)
	}
	for token, w := range weights {
		if err := t.SetIDF(token, w); err != nil {
			return err
		}
	}
	return nil
}
