package resorank

// Config holds scoring parameters
type Config struct {
	K1      float64 `json:"k1" mapstructure:"k1" yaml:"k1"`
	B       float64 `json:"b" mapstructure:"b" yaml:"b"`
	Epsilon float64 `json:"epsilon" mapstructure:"epsilon" yaml:"epsilon"` // floor for negative IDF, as a fraction of the average
}

// DefaultConfig returns the Okapi BM25 parameters used for review search.
func DefaultConfig() Config {
	return Config{
		K1:      1.5,
		B:       0.75,
		Epsilon: 0.25,
	}
}

// DocumentMetadata tracks one indexed document.
type DocumentMetadata struct {
	Length    int              `json:"length"`
	Frequency map[string]int   `json:"frequency"`
	Positions map[string][]int `json:"positions"`
}

// SearchResult represents a scored match
type SearchResult struct {
	Doc   int     `json:"doc"`
	Score float64 `json:"score"`
}

// CorpusStatistics tracks global stats
type CorpusStatistics struct {
	TotalDocuments   int     `json:"totalDocuments"`
	AverageDocLength float64 `json:"averageDocumentLength"`
}
