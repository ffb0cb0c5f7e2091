package store

import (
	"sort"
	"sync"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
)

// MemStore is an in-memory implementation of Storer for testing.
type MemStore struct {
	mu        sync.RWMutex
	entities  map[string]*catalog.Entity
	objective []*ObjectiveRecord
	reviews   []*catalog.Review
	sentiment map[string]float64
	labels    []*catalog.Label
	tokens    map[string]*TokenRecord
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		entities:  make(map[string]*catalog.Entity),
		sentiment: make(map[string]float64),
		tokens:    make(map[string]*TokenRecord),
	}
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error {
	return nil
}

// =============================================================================
// Entities
// =============================================================================

func (s *MemStore) UpsertEntity(entity *catalog.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities[entity.ID] = cloneEntity(entity)
	return nil
}

func (s *MemStore) GetEntity(id string) (*catalog.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	out := cloneEntity(e)
	for _, rec := range s.objective {
		if rec.EntityID != id {
			continue
		}
		v, err := catalog.ParseValue(rec.Type, rec.Value)
		if err != nil {
			return nil, err
		}
		out.Objective[rec.Attribute] = v
	}
	return out, nil
}

func (s *MemStore) DeleteEntity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entities, id)
	kept := s.objective[:0]
	for _, rec := range s.objective {
		if rec.EntityID != id {
			kept = append(kept, rec)
		}
	}
	s.objective = kept
	return nil
}

func (s *MemStore) ListEntityIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemStore) CountEntities() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), nil
}

// =============================================================================
// Objective values
// =============================================================================

func (s *MemStore) AppendObjective(rec *ObjectiveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *rec
	copy.Seq = int64(len(s.objective) + 1)
	s.objective = append(s.objective, &copy)
	return nil
}

func (s *MemStore) ListObjective() ([]*ObjectiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ObjectiveRecord, len(s.objective))
	for i, rec := range s.objective {
		copy := *rec
		out[i] = &copy
	}
	return out, nil
}

// =============================================================================
// Reviews
// =============================================================================

func (s *MemStore) AppendReview(review *catalog.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reviews = append(s.reviews, cloneReview(review))
	return nil
}

func (s *MemStore) ListReviews() ([]*catalog.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*catalog.Review, len(s.reviews))
	for i, r := range s.reviews {
		out[i] = cloneReview(r)
	}
	return out, nil
}

func (s *MemStore) CountReviews() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reviews), nil
}

// =============================================================================
// Phrase sentiment
// =============================================================================

func (s *MemStore) UpsertPhraseSentiment(phrase string, sentiment float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sentiment[phrase] = sentiment
	return nil
}

func (s *MemStore) ListPhraseSentiments() (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.sentiment))
	for k, v := range s.sentiment {
		out[k] = v
	}
	return out, nil
}

// =============================================================================
// Labels
// =============================================================================

func (s *MemStore) AppendLabel(label *catalog.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *label
	s.labels = append(s.labels, &copy)
	return nil
}

func (s *MemStore) ListLabels() ([]*catalog.Label, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*catalog.Label, len(s.labels))
	for i, l := range s.labels {
		copy := *l
		out[i] = &copy
	}
	return out, nil
}

// =============================================================================
// Embedding table
// =============================================================================

func (s *MemStore) UpsertToken(token *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token.Token] = cloneToken(token)
	return nil
}

func (s *MemStore) ListTokens() ([]*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TokenRecord, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, cloneToken(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

// =============================================================================
// Deep copies
// =============================================================================

func cloneEntity(e *catalog.Entity) *catalog.Entity {
	out := &catalog.Entity{
		ID:         e.ID,
		Histograms: make(map[string]map[string]float64, len(e.Histograms)),
		Summaries:  make(map[string][]catalog.Marker, len(e.Summaries)),
		Objective:  make(map[string]catalog.Value),
	}
	for attr, h := range e.Histograms {
		hc := make(map[string]float64, len(h))
		for p, n := range h {
			hc[p] = n
		}
		out.Histograms[attr] = hc
	}
	for attr, markers := range e.Summaries {
		mc := make([]catalog.Marker, len(markers))
		for i, m := range markers {
			m.Center = append([]float64(nil), m.Center...)
			mc[i] = m
		}
		out.Summaries[attr] = mc
	}
	return out
}

func cloneReview(r *catalog.Review) *catalog.Review {
	out := *r
	out.Extractions = append([]catalog.Extraction(nil), r.Extractions...)
	if r.Sentiment != nil {
		v := *r.Sentiment
		out.Sentiment = &v
	}
	return &out
}

func cloneToken(t *TokenRecord) *TokenRecord {
	out := &TokenRecord{Token: t.Token}
	if t.Vector != nil {
		out.Vector = append([]float64(nil), t.Vector...)
	}
	if t.IDF != nil {
		v := *t.IDF
		out.IDF = &v
	}
	return out
}
