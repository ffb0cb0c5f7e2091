// Package sentiment scores review text polarity with VADER. The co-occurrence
// interpreter uses it for reviews that arrive without a precomputed
// sentiment score.
package sentiment

import (
	"strings"

	"github.com/jonreiter/govader"
)

// Analyzer returns a polarity in [-1, 1] for a piece of text.
type Analyzer interface {
	Polarity(text string) float64
}

// Config configures the VADER analyzer.
type Config struct {
	// Lexicon adds or overrides word valences, on VADER's -4..4 scale.
	Lexicon map[string]float64 `mapstructure:"lexicon" yaml:"lexicon,omitempty"`
}

// DefaultConfig returns the stock VADER lexicon.
func DefaultConfig() Config {
	return Config{}
}

// VaderAnalyzer is an Analyzer returning VADER's compound score. Safe for
// concurrent use once created.
type VaderAnalyzer struct {
	sia *govader.SentimentIntensityAnalyzer
}

// NewVaderAnalyzer loads the VADER lexicon and applies config's overrides.
func NewVaderAnalyzer(config Config) *VaderAnalyzer {
	sia := govader.NewSentimentIntensityAnalyzer()
	for word, v := range config.Lexicon {
		sia.Lexicon[strings.ToLower(word)] = v
	}
	return &VaderAnalyzer{sia: sia}
}

// Polarity returns the compound score of text.
func (a *VaderAnalyzer) Polarity(text string) float64 {
	return a.sia.PolarityScores(text).Compound
}
