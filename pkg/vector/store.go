// Package vector wraps an HNSW graph over float32 vectors with snapshot
// persistence through a hackpadfs filesystem.
package vector

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector"
	"github.com/hack-pad/hackpadfs"
	"github.com/klauspost/compress/zstd"
	kvector "github.com/kshard/vector"
)

var (
	// ErrNotInitialized is returned when the store has no graph.
	ErrNotInitialized = errors.New("vector: index not initialized")

	// ErrDimensionMismatch is returned when a vector does not match the graph dimension.
	ErrDimensionMismatch = errors.New("vector: dimension mismatch")

	// ErrNoFilesystem is returned by Save and Load on a store without a filesystem.
	ErrNoFilesystem = errors.New("vector: no filesystem")
)

// Store manages the HNSW index and its persistence.
type Store struct {
	Index *hnsw.HNSW[vector.VF32]
	FS    hackpadfs.FS
	Path  string
	// Fingerprint identifies the data the graph was built from. It is saved
	// with the snapshot; callers compare it before reusing a loaded graph.
	Fingerprint string
	dim         int
	mu          sync.RWMutex
}

// snapshot is the persisted form of a Store.
type snapshot struct {
	Dim         int
	Fingerprint string
	Nodes       hnsw.Nodes[vector.VF32]
}

// New creates an empty in-memory store using the cosine surface.
func New() *Store {
	return &Store{Index: newGraph()}
}

// NewStore creates a store backed by path on fs. An existing snapshot is
// loaded; a missing one yields an empty graph.
func NewStore(fs hackpadfs.FS, path string) (*Store, error) {
	s := &Store{
		FS:   fs,
		Path: path,
	}

	if err := s.Load(); err != nil {
		if !errors.Is(err, hackpadfs.ErrNotExist) {
			return nil, err
		}
		s.Index = newGraph()
	}

	return s, nil
}

func newGraph() *hnsw.HNSW[vector.VF32] {
	return hnsw.New[vector.VF32](vector.SurfaceVF32(kvector.Cosine()))
}

// Dim returns the width of the stored vectors, 0 for an empty graph.
func (s *Store) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Len returns the number of vectors in the graph.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Index == nil {
		return 0
	}
	return s.Index.Size()
}

// Reset replaces the graph with an empty one.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Index = newGraph()
	s.Fingerprint = ""
	s.dim = 0
}

// Add inserts a vector with an ID.
func (s *Store) Add(id uint32, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Index == nil {
		return ErrNotInitialized
	}
	if err := s.checkDim(vec); err != nil {
		return err
	}
	if s.Index.Size() == 0 {
		s.dim = len(vec)
	}

	s.Index.Insert(vector.VF32{Key: id, Vec: pad(vec)})
	return nil
}

// Search returns up to k nearest IDs, closest first.
func (s *Store) Search(vec []float32, k int) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Index == nil {
		return nil, ErrNotInitialized
	}
	if s.Index.Size() == 0 || k <= 0 {
		return nil, nil
	}
	if err := s.checkDim(vec); err != nil {
		return nil, err
	}
	vec = pad(vec)

	ef := k * 2
	if ef < 100 {
		ef = 100
	}

	results := s.Index.Search(vector.VF32{Vec: vec}, k, ef)

	ids := make([]uint32, len(results))
	for i, r := range results {
		ids[i] = r.Key
	}
	return ids, nil
}

// lane is the vector length multiple required by the cosine kernels.
const lane = 4

// pad zero-extends vec to a multiple of lane. Cosine is unchanged by
// trailing zeros.
func pad(vec []float32) []float32 {
	n := (len(vec) + lane - 1) / lane * lane
	if n == len(vec) {
		return vec
	}
	out := make([]float32, n)
	copy(out, vec)
	return out
}

func (s *Store) checkDim(vec []float32) error {
	if s.Index.Size() == 0 {
		return nil
	}
	if len(vec) != s.dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dim, len(vec))
	}
	return nil
}

// Save persists the graph as a zstd-compressed gob snapshot.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FS == nil {
		return ErrNoFilesystem
	}
	if s.Index == nil {
		return nil
	}

	var buf bytes.Buffer
	snap := snapshot{Dim: s.dim, Fingerprint: s.Fingerprint, Nodes: s.Index.Nodes()}
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}
	defer enc.Close()
	packed := enc.EncodeAll(buf.Bytes(), nil)

	if err := hackpadfs.WriteFullFile(s.FS, s.Path, packed, 0644); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	return nil
}

// Load reads the snapshot from FS, replacing the current graph.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FS == nil {
		return ErrNoFilesystem
	}

	content, err := hackpadfs.ReadFile(s.FS, s.Path)
	if err != nil {
		return err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(content, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress index: %w", err)
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode index: %w", err)
	}

	s.Index = hnsw.FromNodes[vector.VF32](
		vector.SurfaceVF32(kvector.Cosine()),
		snap.Nodes,
	)
	s.dim = snap.Dim
	s.Fingerprint = snap.Fingerprint
	return nil
}
