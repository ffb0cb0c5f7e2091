package interpret

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"

	"github.com/hack-pad/hackpadfs"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/pkg/embedding"
	"github.com/Kelaxon/opinedb-public/pkg/vector"
)

// Backend selects the nearest-neighbour implementation.
type Backend string

const (
	BackendAuto  Backend = "auto"
	BackendExact Backend = "exact"
	BackendHNSW  Backend = "hnsw"
)

// IndexConfig configures the nearest-neighbour index.
type IndexConfig struct {
	Backend Backend `mapstructure:"backend" yaml:"backend"`
	// ExactLimit is the largest entry count served by the exact backend in auto mode.
	ExactLimit int `mapstructure:"exact_limit" yaml:"exact_limit"`
	// Candidates is the number of HNSW neighbours re-ranked exactly.
	Candidates int `mapstructure:"candidates" yaml:"candidates"`
	// Snapshot is an optional HNSW snapshot path, relative to the snapshot filesystem.
	Snapshot string `mapstructure:"snapshot" yaml:"snapshot"`
}

// DefaultIndexConfig returns the default index settings.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		Backend:    BackendAuto,
		ExactLimit: 20000,
		Candidates: 16,
	}
}

// Entry is a catalogued phrase and the attribute it belongs to.
type Entry struct {
	Attribute string
	Phrase    string
}

// Index finds the catalogued phrase nearest to a vector.
type Index interface {
	// Nearest returns the closest entry and its Euclidean distance; ok is
	// false for an empty index.
	Nearest(vec []float64) (Entry, float64, bool)
	Len() int
}

// ExactIndex scans every entry. Ties go to the earliest entry.
type ExactIndex struct {
	entries []Entry
	vectors [][]float64
}

// NewExactIndex creates an exact index; entries and vectors are parallel.
func NewExactIndex(entries []Entry, vectors [][]float64) *ExactIndex {
	return &ExactIndex{entries: entries, vectors: vectors}
}

func (x *ExactIndex) Len() int { return len(x.entries) }

func (x *ExactIndex) Nearest(vec []float64) (Entry, float64, bool) {
	best, dist := -1, 0.0
	for i, v := range x.vectors {
		if d := embedding.Distance(vec, v); best < 0 || d < dist {
			best, dist = i, d
		}
	}
	if best < 0 {
		return Entry{}, 0, false
	}
	return x.entries[best], dist, true
}

// nearestAmong scans only the given positions, in ascending order.
func (x *ExactIndex) nearestAmong(vec []float64, ids []int) (Entry, float64, bool) {
	best, dist := -1, 0.0
	for _, i := range ids {
		if d := embedding.Distance(vec, x.vectors[i]); best < 0 || d < dist || (d == dist && i < best) {
			best, dist = i, d
		}
	}
	if best < 0 {
		return Entry{}, 0, false
	}
	return x.entries[best], dist, true
}

// HNSWIndex searches an HNSW graph for candidates and re-ranks them exactly.
// Zero vectors cannot be placed on the cosine graph and are always scanned.
type HNSWIndex struct {
	exact      *ExactIndex
	store      *vector.Store
	zero       []int
	candidates int
}

// NewHNSWIndex builds a graph over the non-zero vectors, or reuses store when
// its fingerprint matches entries and vectors.
func NewHNSWIndex(entries []Entry, vectors [][]float64, store *vector.Store, candidates int) (*HNSWIndex, error) {
	if store == nil {
		store = vector.New()
	}
	if candidates <= 0 {
		candidates = 1
	}
	x := &HNSWIndex{
		exact:      NewExactIndex(entries, vectors),
		store:      store,
		candidates: candidates,
	}

	var live int
	for i, v := range vectors {
		if isZero(v) {
			x.zero = append(x.zero, i)
			continue
		}
		live++
	}
	fp := fingerprint(entries, vectors)
	if store.Len() == live && store.Fingerprint == fp {
		return x, nil
	}
	if store.Len() != 0 {
		// Stale snapshot: rebuild from scratch.
		store.Reset()
	}
	store.Fingerprint = fp
	for i, v := range vectors {
		if isZero(v) {
			continue
		}
		if err := store.Add(uint32(i), embedding.ToFloat32(v)); err != nil {
			return nil, fmt.Errorf("interpret: index %q: %w", entries[i].Phrase, err)
		}
	}
	return x, nil
}

func (x *HNSWIndex) Len() int { return x.exact.Len() }

func (x *HNSWIndex) Nearest(vec []float64) (Entry, float64, bool) {
	if isZero(vec) {
		return x.exact.Nearest(vec)
	}
	keys, err := x.store.Search(embedding.ToFloat32(vec), x.candidates)
	if err != nil {
		return x.exact.Nearest(vec)
	}
	ids := make([]int, 0, len(keys)+len(x.zero))
	for _, k := range keys {
		if int(k) < x.exact.Len() {
			ids = append(ids, int(k))
		}
	}
	ids = append(ids, x.zero...)
	return x.exact.nearestAmong(vec, ids)
}

// Store returns the underlying vector store.
func (x *HNSWIndex) Store() *vector.Store { return x.store }

// fingerprint hashes the entries and their vectors in order.
func fingerprint(entries []Entry, vectors [][]float64) string {
	h := sha256.New()
	var buf [8]byte
	for i, e := range entries {
		fmt.Fprintf(h, "%q %q %d\n", e.Attribute, e.Phrase, len(vectors[i]))
		for _, f := range vectors[i] {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func isZero(v []float64) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// BuildIndex embeds every catalogued phrase and builds the index selected by
// cfg. snapshotFS may be nil; with a snapshot path set it backs the HNSW graph.
func BuildIndex(phrases []catalog.PhraseOwner, embed func(string) []float64, cfg IndexConfig, snapshotFS hackpadfs.FS, logger *slog.Logger) (Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries := make([]Entry, len(phrases))
	vectors := make([][]float64, len(phrases))
	for i, p := range phrases {
		entries[i] = Entry{Attribute: p.Attribute, Phrase: p.Phrase}
		vectors[i] = embed(p.Phrase)
	}

	backend := cfg.Backend
	if backend == BackendAuto || backend == "" {
		backend = BackendExact
		if len(entries) > cfg.ExactLimit {
			backend = BackendHNSW
		}
	}

	switch backend {
	case BackendExact:
		logger.Debug("built exact phrase index", "entries", len(entries))
		return NewExactIndex(entries, vectors), nil

	case BackendHNSW:
		var store *vector.Store
		if snapshotFS != nil && cfg.Snapshot != "" {
			s, err := vector.NewStore(snapshotFS, cfg.Snapshot)
			if err != nil {
				return nil, fmt.Errorf("interpret: open snapshot: %w", err)
			}
			store = s
		}
		x, err := NewHNSWIndex(entries, vectors, store, cfg.Candidates)
		if err != nil {
			return nil, err
		}
		if snapshotFS != nil && cfg.Snapshot != "" {
			if err := x.store.Save(); err != nil {
				return nil, fmt.Errorf("interpret: save snapshot: %w", err)
			}
		}
		logger.Debug("built hnsw phrase index", "entries", len(entries), "zero", len(x.zero))
		return x, nil
	}
	return nil, fmt.Errorf("interpret: unknown index backend %q", cfg.Backend)
}
