// Package interpret maps free-text query terms to subjective attributes: a
// nearest-neighbour lookup over catalogued phrases, falling back to review
// co-occurrence when the match is weak.
package interpret

import (
	"log/slog"

	"github.com/Kelaxon/opinedb-public/pkg/embedding"
	"github.com/Kelaxon/opinedb-public/pkg/memo"
	"github.com/Kelaxon/opinedb-public/pkg/tokenize"
)

// Config configures the interpretation pipeline.
type Config struct {
	// FallbackThreshold is the cosine similarity below which the
	// co-occurrence interpreter is consulted.
	FallbackThreshold float64 `mapstructure:"fallback_threshold" yaml:"fallback_threshold"`
	// SingleTokenFallback also consults it for one-token terms.
	SingleTokenFallback bool          `mapstructure:"single_token_fallback" yaml:"single_token_fallback"`
	Cooccur             CooccurConfig `mapstructure:"cooccur" yaml:"cooccur"`
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		FallbackThreshold:   0.4,
		SingleTokenFallback: true,
		Cooccur:             DefaultCooccurConfig(),
	}
}

// Source tells which stage produced a Result.
type Source string

const (
	SourceNone    Source = ""
	SourceNearest Source = "nearest"
	SourceCooccur Source = "cooccur"
)

// Result is the interpretation of a term. Attribute is empty when the
// catalog had nothing to match.
type Result struct {
	Attribute  string
	Phrase     string
	Similarity float64
	Source     Source
}

// Interpreter runs the two-stage pipeline. Safe for concurrent use.
type Interpreter struct {
	cfg    Config
	embed  *embedding.Service
	index  Index
	cooc   *Cooccur
	cache  *memo.Cache[string, Result]
	logger *slog.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) { i.logger = l }
}

// New creates an interpreter. cooc may be nil, which disables the fallback.
func New(embed *embedding.Service, index Index, cooc *Cooccur, cfg Config, opts ...Option) *Interpreter {
	i := &Interpreter{
		cfg:    cfg,
		embed:  embed,
		index:  index,
		cooc:   cooc,
		cache:  memo.New[string, Result](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Interpret maps term to an attribute. Results are memoized by the raw term.
func (i *Interpreter) Interpret(term string) Result {
	return i.cache.GetOrCompute(term, func() Result { return i.interpret(term) })
}

func (i *Interpreter) interpret(term string) Result {
	var res Result
	vec := i.embed.Embed(term)
	if entry, _, ok := i.index.Nearest(vec); ok {
		res = Result{
			Attribute:  entry.Attribute,
			Phrase:     entry.Phrase,
			Similarity: embedding.Cosine(vec, i.embed.Embed(entry.Phrase)),
			Source:     SourceNearest,
		}
	}

	if i.cooc == nil || !i.shouldFallback(term, res) {
		return res
	}
	if attr, phrase, ok := i.cooc.Interpret(term); ok {
		i.logger.Debug("co-occurrence fallback", "term", term, "attribute", attr, "similarity", res.Similarity)
		res.Attribute = attr
		res.Phrase = phrase
		res.Source = SourceCooccur
	}
	return res
}

func (i *Interpreter) shouldFallback(term string, res Result) bool {
	if res.Source == SourceNone || res.Similarity < i.cfg.FallbackThreshold {
		return true
	}
	return i.cfg.SingleTokenFallback && tokenize.Count(term) == 1
}

// CacheLen returns the number of memoized terms.
func (i *Interpreter) CacheLen() int { return i.cache.Len() }

// ClearCache drops memoized interpretations of both stages.
func (i *Interpreter) ClearCache() {
	i.cache.Reset()
	if i.cooc != nil {
		i.cooc.ClearCache()
	}
}
