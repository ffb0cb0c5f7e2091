// Package engine ranks catalog entities for queries mixing free-text
// subjective terms and objective predicates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hack-pad/hackpadfs"
	"github.com/panjf2000/ants/v2"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/combine"
	"github.com/Kelaxon/opinedb-public/internal/interpret"
	"github.com/Kelaxon/opinedb-public/internal/membership"
	"github.com/Kelaxon/opinedb-public/internal/query"
	"github.com/Kelaxon/opinedb-public/pkg/embedding"
	"github.com/Kelaxon/opinedb-public/pkg/sentiment"
)

var (
	// ErrUnknownEntity is returned when a candidate id is not in the catalog.
	ErrUnknownEntity = catalog.ErrUnknownEntity

	// ErrNoEmbeddings is returned by Build for a catalog without an embedding table.
	ErrNoEmbeddings = errors.New("engine: catalog has no embedding table")
)

// Config gathers the settings of every component the engine wires.
type Config struct {
	// Workers is the size of the per-entity scoring pool. Zero means
	// runtime.NumCPU().
	Workers int `mapstructure:"workers" yaml:"workers"`
	// Models is the path of the model file on the engine filesystem. When
	// set, existing models are loaded and freshly trained ones are saved.
	Models     string                    `mapstructure:"models" yaml:"models"`
	Index      interpret.IndexConfig     `mapstructure:"index" yaml:"index"`
	Interpret  interpret.Config          `mapstructure:"interpret" yaml:"interpret"`
	Sentiment  sentiment.Config          `mapstructure:"sentiment" yaml:"sentiment"`
	Membership membership.Config         `mapstructure:"membership" yaml:"membership"`
	Training   membership.TrainingConfig `mapstructure:"training" yaml:"training"`
	Combine    combine.Config            `mapstructure:"combine" yaml:"combine"`
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		Index:      interpret.DefaultIndexConfig(),
		Interpret:  interpret.DefaultConfig(),
		Sentiment:  sentiment.DefaultConfig(),
		Membership: membership.DefaultConfig(),
		Training:   membership.DefaultTrainingConfig(),
		Combine:    combine.DefaultConfig(),
	}
}

// Scored is a ranked entity.
type Scored struct {
	ID    string
	Score float64
}

// Engine is a ranking session over a sealed catalog. Safe for concurrent use.
type Engine struct {
	cfg      Config
	cat      *catalog.Catalog
	embed    *embedding.Service
	interp   *interpret.Interpreter
	scorer   *membership.Scorer
	combiner *combine.Combiner
	models   *membership.Models
	pool     *ants.Pool
	fs       hackpadfs.FS
	session  string
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithFS sets the filesystem holding the model file and the index snapshot.
func WithFS(fs hackpadfs.FS) Option {
	return func(e *Engine) error {
		e.fs = fs
		return nil
	}
}

// WithModels uses already trained models instead of training.
func WithModels(m *membership.Models) Option {
	return func(e *Engine) error {
		if m == nil || m.Marker == nil || m.Histogram == nil {
			return membership.ErrNoModel
		}
		e.models = m
		return nil
	}
}

// Build wires the components over cat and trains or loads the membership
// models. cat is sealed if it is not already.
func Build(ctx context.Context, cat *catalog.Catalog, cfg Config, opts ...Option) (*Engine, error) {
	if cat.Embeddings == nil {
		return nil, ErrNoEmbeddings
	}
	if !cat.Sealed() {
		cat.Seal()
	}
	e := &Engine{
		cfg:     cfg,
		cat:     cat,
		session: uuid.NewString(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("session", e.session)
	start := time.Now()

	e.embed = embedding.NewService(cat.Embeddings)
	index, err := interpret.BuildIndex(cat.Phrases(), e.embed.Embed, cfg.Index, e.fs, e.logger)
	if err != nil {
		return nil, err
	}
	analyzer := sentiment.NewVaderAnalyzer(cfg.Sentiment)
	cooc := interpret.NewCooccur(cat.Reviews(), analyzer, cfg.Interpret.Cooccur)
	e.interp = interpret.New(e.embed, index, cooc, cfg.Interpret, interpret.WithLogger(e.logger))
	e.combiner = combine.New(cat.Schema(), cfg.Combine)

	objective, err := cfg.Membership.Objective.Resolve(cat.HasObjective())
	if err != nil {
		return nil, err
	}
	extractor := membership.NewExtractor(cat, e.embed, cfg.Membership, objective)
	if e.models == nil {
		if e.models, err = e.loadOrTrain(ctx, extractor); err != nil {
			return nil, err
		}
	}
	if err := e.models.Check(extractor); err != nil {
		return nil, err
	}
	e.scorer, err = membership.NewScorer(cat, e.embed, e.models.Marker, e.models.Histogram,
		cfg.Membership, membership.WithLogger(e.logger))
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if e.pool, err = ants.NewPool(workers); err != nil {
		return nil, fmt.Errorf("engine: create pool: %w", err)
	}

	e.logger.Info("engine ready",
		"entities", cat.Len(),
		"phrases", index.Len(),
		"reviews", len(cat.Reviews()),
		"objective", objective,
		"workers", workers,
		"elapsed", time.Since(start),
	)
	return e, nil
}

func (e *Engine) loadOrTrain(ctx context.Context, extractor *membership.Extractor) (*membership.Models, error) {
	persist := e.fs != nil && e.cfg.Models != ""
	if persist {
		m, err := membership.LoadModels(e.fs, e.cfg.Models)
		switch {
		case err == nil:
			checkErr := m.Check(extractor)
			if checkErr == nil {
				checkErr = m.CheckCatalog(e.cat)
			}
			if checkErr == nil {
				e.logger.Info("loaded membership models", "path", e.cfg.Models)
				return m, nil
			}
			e.logger.Warn("retraining stale membership models", "path", e.cfg.Models, "error", checkErr)
		case !errors.Is(err, hackpadfs.ErrNotExist):
			return nil, err
		}
	}

	trainer := membership.NewTrainer(e.cat, e.interp, extractor, e.cfg.Training, e.logger)
	m, err := trainer.Train(ctx)
	if err != nil {
		return nil, err
	}
	if persist {
		if err := membership.SaveModels(e.fs, e.cfg.Models, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Session returns the id of this engine instance, attached to its logs.
func (e *Engine) Session() string { return e.session }

// Catalog returns the catalog the engine ranks.
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// Models returns the membership models in use.
func (e *Engine) Models() *membership.Models { return e.models }

// Interpret maps a free-text term to a subjective attribute.
func (e *Engine) Interpret(term string) interpret.Result {
	return e.interp.Interpret(term)
}

// Membership returns the membership score of an entity for an interpreted
// attribute and term, optionally in the context of pred.
func (e *Engine) Membership(mode membership.Mode, entityID, attr, term string, pred query.Predicate) float64 {
	return e.scorer.Membership(mode, entityID, attr, term, pred)
}

// Marker returns the verbalization of the marker of attr closest to phrase
// across all entities. Later markers win ties.
func (e *Engine) Marker(attr, phrase string) (string, bool) {
	vec := e.embed.Embed(phrase)
	best, bestSim, found := "", 0.0, false
	for _, m := range e.cat.Markers(attr) {
		sim := embedding.Cosine(vec, m.Center)
		if !found || sim >= bestSim {
			best, bestSim, found = m.Verbalized, sim, true
		}
	}
	return best, found
}

// Rank orders candidates by descending score for the query terms. A nil
// candidate list ranks every entity in id order. Ties keep input order.
func (e *Engine) Rank(ctx context.Context, terms, candidates []string, mode membership.Mode, policy combine.Policy) ([]string, error) {
	scored, err := e.RankScored(ctx, terms, candidates, mode, policy)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.ID
	}
	return ids, nil
}

// RankScored is Rank with the scores.
func (e *Engine) RankScored(ctx context.Context, terms, candidates []string, mode membership.Mode, policy combine.Policy) ([]Scored, error) {
	if _, err := membership.ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if _, err := combine.ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	q, err := query.Parse(terms)
	if err != nil {
		return nil, err
	}

	subjective := make([]combine.Term, len(q.Subjective))
	for i, t := range q.Subjective {
		t = strings.ToLower(t)
		subjective[i] = combine.Term{Text: t, Attribute: e.interp.Interpret(t).Attribute}
	}

	entities, err := e.resolve(candidates)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	scores := make([]float64, len(entities))
	var wg sync.WaitGroup
	for i, ent := range entities {
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			scores[i] = e.score(ent, subjective, q.Objective, mode, policy)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("engine: submit: %w", err)
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Scored, len(entities))
	for i, ent := range entities {
		out[i] = Scored{ID: ent.ID, Score: scores[i]}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})

	e.logger.Debug("ranked",
		"terms", len(terms),
		"candidates", len(entities),
		"mode", mode,
		"policy", policy,
		"elapsed", time.Since(start),
	)
	return out, nil
}

func (e *Engine) resolve(candidates []string) ([]*catalog.Entity, error) {
	if candidates == nil {
		candidates = e.cat.IDs()
	}
	out := make([]*catalog.Entity, len(candidates))
	for i, id := range candidates {
		ent, ok := e.cat.Entity(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
		}
		out[i] = ent
	}
	return out, nil
}

func (e *Engine) score(ent *catalog.Entity, terms []combine.Term, preds []query.Predicate, mode membership.Mode, policy combine.Policy) float64 {
	score := 1.0
	for _, t := range terms {
		score *= e.scorer.Membership(mode, ent.ID, t.Attribute, t.Text, nil)
	}
	membershipFn := func(id, attr, term string, pred query.Predicate) float64 {
		return e.scorer.Membership(mode, id, attr, term, pred)
	}
	// The policy was validated by the caller.
	score, _ = e.combiner.Apply(policy, score, ent, preds, terms, membershipFn)
	return score
}

// ClearCache drops every memoized phrase vector, interpretation and
// membership score. Indices and models are kept.
func (e *Engine) ClearCache() {
	e.embed.ClearCache()
	e.interp.ClearCache()
	e.scorer.ClearCache()
}

// Close releases the worker pool.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Release()
	}
}
