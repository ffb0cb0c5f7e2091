// Package embedding turns phrases into fixed-length vectors by summing
// pretrained token vectors weighted by token IDF and normalizing the result.
package embedding

import (
	"github.com/Kelaxon/opinedb-public/pkg/memo"
	"github.com/Kelaxon/opinedb-public/pkg/tokenize"
)

// Service embeds phrases against a Table and memoizes the vectors.
// Returned slices are shared with the cache and must not be modified.
type Service struct {
	table *Table
	cache *memo.Cache[string, []float64]
}

// NewService creates an embedding service over table.
func NewService(table *Table) *Service {
	return &Service{
		table: table,
		cache: memo.New[string, []float64](),
	}
}

// Dim returns the vector dimension.
func (s *Service) Dim() int { return s.table.dim }

// Embed returns the unit-norm phrase vector, or the zero vector when no token
// of phrase has both a vector and an IDF weight. The cache key is the phrase
// exactly as given.
func (s *Service) Embed(phrase string) []float64 {
	return s.cache.GetOrCompute(phrase, func() []float64 {
		return s.compute(phrase)
	})
}

func (s *Service) compute(phrase string) []float64 {
	res := make([]float64, s.table.dim)
	for _, tok := range tokenize.Tokenize(phrase) {
		vec, w, ok := s.table.lookup(tok)
		if !ok {
			continue
		}
		for i, x := range vec {
			res[i] += x * w
		}
	}
	Normalize(res)
	return res
}

// CacheLen reports the number of memoized phrases.
func (s *Service) CacheLen() int { return s.cache.Len() }

// ClearCache drops every memoized vector.
func (s *Service) ClearCache() { s.cache.Reset() }
