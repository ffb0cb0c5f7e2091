package resorank

import (
	"sort"
	"sync"
)

// Scorer is a BM25 index over tokenized documents. Documents are addressed by
// their insertion order.
//
// Add is not safe to call concurrently with scoring; scoring methods may run
// concurrently once indexing is done.
type Scorer struct {
	Config      Config
	CorpusStats CorpusStatistics

	docs     []DocumentMetadata
	docFreq  map[string]int
	totalLen int

	mu  sync.Mutex
	idf map[string]float64 // nil when stale
}

// NewScorer creates a new scorer
func NewScorer(config Config) *Scorer {
	return &Scorer{
		Config:  config,
		docFreq: make(map[string]int),
	}
}

// Add indexes a tokenized document and returns its index.
func (s *Scorer) Add(tokens []string) int {
	meta := DocumentMetadata{
		Length:    len(tokens),
		Frequency: make(map[string]int),
		Positions: make(map[string][]int),
	}
	for pos, tok := range tokens {
		meta.Frequency[tok]++
		meta.Positions[tok] = append(meta.Positions[tok], pos)
	}
	for tok := range meta.Frequency {
		s.docFreq[tok]++
	}
	s.docs = append(s.docs, meta)
	s.totalLen += len(tokens)

	s.CorpusStats.TotalDocuments = len(s.docs)
	s.CorpusStats.AverageDocLength = float64(s.totalLen) / float64(len(s.docs))

	s.mu.Lock()
	s.idf = nil
	s.mu.Unlock()
	return len(s.docs) - 1
}

// Len returns the number of indexed documents.
func (s *Scorer) Len() int { return len(s.docs) }

// Positions returns the token positions of term in document doc.
func (s *Scorer) Positions(doc int, term string) []int {
	if doc < 0 || doc >= len(s.docs) {
		return nil
	}
	return s.docs[doc].Positions[term]
}

// Document returns the metadata of document doc.
func (s *Scorer) Document(doc int) (DocumentMetadata, bool) {
	if doc < 0 || doc >= len(s.docs) {
		return DocumentMetadata{}, false
	}
	return s.docs[doc], true
}

// IDF returns the floored IDF of term, 0 when the term is not indexed.
func (s *Scorer) IDF(term string) float64 {
	return s.idfTable()[term]
}

// Score calculates the BM25 relevance of doc for the query tokens.
func (s *Scorer) Score(query []string, doc int) float64 {
	if doc < 0 || doc >= len(s.docs) {
		return 0.0
	}
	return s.score(query, s.docs[doc], s.idfTable())
}

// Scores returns the score of every document, in insertion order.
func (s *Scorer) Scores(query []string) []float64 {
	idf := s.idfTable()
	out := make([]float64, len(s.docs))
	for i, doc := range s.docs {
		out[i] = s.score(query, doc, idf)
	}
	return out
}

// Search returns the documents with a positive score, best first. Ties keep
// insertion order.
func (s *Scorer) Search(query []string, limit int) []SearchResult {
	var results []SearchResult
	for i, score := range s.Scores(query) {
		if score > 0 {
			results = append(results, SearchResult{Doc: i, Score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (s *Scorer) score(query []string, doc DocumentMetadata, idf map[string]float64) float64 {
	total := 0.0
	for _, term := range query {
		tf := doc.Frequency[term]
		if tf == 0 {
			continue
		}
		ntf := NormalizedTermFrequency(tf, doc.Length, s.CorpusStats.AverageDocLength, s.Config.B)
		total += idf[term] * Saturate(ntf, s.Config.K1)
	}
	return total
}

func (s *Scorer) idfTable() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idf != nil {
		return s.idf
	}
	n := float64(len(s.docs))
	idf := make(map[string]float64, len(s.docFreq))
	for term, df := range s.docFreq {
		idf[term] = CalculateIDF(n, df)
	}
	FloorIDF(idf, s.Config.Epsilon)
	s.idf = idf
	return idf
}
