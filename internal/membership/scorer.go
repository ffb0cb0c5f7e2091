// Package membership estimates how strongly an entity exhibits a subjective
// attribute, as the positive-class probability of a logistic model over
// marker or histogram features.
package membership

import (
	"fmt"
	"log/slog"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/query"
	"github.com/Kelaxon/opinedb-public/pkg/embedding"
	"github.com/Kelaxon/opinedb-public/pkg/memo"
)

// KeyMode controls whether objective predicates take part in scoring and in
// the membership cache key.
type KeyMode string

const (
	// KeyAuto turns objective mode on when the catalog has objective attributes.
	KeyAuto KeyMode = "auto"
	KeyOn   KeyMode = "on"
	KeyOff  KeyMode = "off"
)

// Resolve returns the objective flag for a catalog.
func (k KeyMode) Resolve(hasObjective bool) (bool, error) {
	switch k {
	case KeyAuto, "":
		return hasObjective, nil
	case KeyOn:
		return true, nil
	case KeyOff:
		return false, nil
	}
	return false, fmt.Errorf("membership: unknown objective mode %q", string(k))
}

// Config configures feature extraction and scoring.
type Config struct {
	MaxMarkers          int     `mapstructure:"max_markers" yaml:"max_markers"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	// FallbackScore is returned when an entity has no data for an attribute.
	FallbackScore float64 `mapstructure:"fallback_score" yaml:"fallback_score"`
	Objective     KeyMode `mapstructure:"objective" yaml:"objective"`
}

// DefaultConfig returns the default scoring settings.
func DefaultConfig() Config {
	return Config{
		MaxMarkers:          10,
		SimilarityThreshold: 0.8,
		FallbackScore:       1e-6,
		Objective:           KeyAuto,
	}
}

// Classifier maps a feature vector to a positive-class probability.
// *logreg.Model implements it.
type Classifier interface {
	Probability(x []float64) float64
}

type cacheKey struct {
	mode   Mode
	entity string
	attr   string
	term   string
	pred   string
}

// Scorer computes memoized membership scores. Safe for concurrent use.
type Scorer struct {
	cat       *catalog.Catalog
	extractor *Extractor
	models    map[Mode]Classifier
	objective bool
	fallback  float64
	cache     *memo.Cache[cacheKey, float64]
	logger    *slog.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) { s.logger = l }
}

// NewScorer creates a scorer over cat using the marker and histogram
// classifiers. The objective mode is resolved here, once.
func NewScorer(cat *catalog.Catalog, embed *embedding.Service, marker, histogram Classifier, cfg Config, opts ...Option) (*Scorer, error) {
	objective, err := cfg.Objective.Resolve(cat.HasObjective())
	if err != nil {
		return nil, err
	}
	s := &Scorer{
		cat:       cat,
		extractor: NewExtractor(cat, embed, cfg, objective),
		models:    map[Mode]Classifier{ModeMarker: marker, ModeHistogram: histogram},
		objective: objective,
		fallback:  cfg.FallbackScore,
		cache:     memo.New[cacheKey, float64](),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for mode, m := range s.models {
		if m == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoModel, mode)
		}
	}
	return s, nil
}

// Objective reports whether objective predicates are part of the features
// and the cache key.
func (s *Scorer) Objective() bool { return s.objective }

// Extractor returns the feature extractor.
func (s *Scorer) Extractor() *Extractor { return s.extractor }

// Membership returns the probability that the entity exhibits attr as
// described by term. pred is only considered in objective mode. Unknown
// entities, an empty attribute and missing data yield the fallback score.
func (s *Scorer) Membership(mode Mode, entityID, attr, term string, pred query.Predicate) float64 {
	key := cacheKey{mode: mode, entity: entityID, attr: attr, term: term}
	if s.objective && pred != nil {
		key.pred = pred.String()
	}
	if !s.objective {
		pred = nil
	}
	return s.cache.GetOrCompute(key, func() float64 {
		return s.score(mode, entityID, attr, term, pred)
	})
}

func (s *Scorer) score(mode Mode, entityID, attr, term string, pred query.Predicate) float64 {
	model, ok := s.models[mode]
	if !ok || attr == "" {
		return s.fallback
	}
	e, ok := s.cat.Entity(entityID)
	if !ok {
		return s.fallback
	}
	x, ok := s.extractor.Features(mode, e, attr, term, pred)
	if !ok {
		return s.fallback
	}
	return model.Probability(x)
}

// CacheLen returns the number of memoized scores.
func (s *Scorer) CacheLen() int { return s.cache.Len() }

// ClearCache drops memoized scores.
func (s *Scorer) ClearCache() { s.cache.Reset() }
