// Package eval measures ranking quality with NDCG over generated queries.
//
// Relevance of an entity for a query is the number of query terms it
// satisfies: a subjective term counts when a label marks the entity
// relevant for it, a predicate counts when the entity's value satisfies it.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/combine"
	"github.com/Kelaxon/opinedb-public/internal/membership"
	"github.com/Kelaxon/opinedb-public/internal/query"
	"github.com/Kelaxon/opinedb-public/pkg/memo"
)

// QuerySet describes one generated query set.
type QuerySet struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Subjective int    `mapstructure:"subjective" yaml:"subjective"`
	Objective  int    `mapstructure:"objective" yaml:"objective"`
}

// Setting is a (mode, policy) pair to evaluate.
type Setting struct {
	Mode   membership.Mode `mapstructure:"mode" yaml:"mode"`
	Policy combine.Policy  `mapstructure:"policy" yaml:"policy"`
}

func (s Setting) String() string { return string(s.Mode) + "_" + string(s.Policy) }

// Config configures an evaluation.
type Config struct {
	// Queries is the file of subjective query terms.
	Queries  string     `mapstructure:"queries" yaml:"queries"`
	N        int        `mapstructure:"n" yaml:"n"`
	Seed     uint64     `mapstructure:"seed" yaml:"seed"`
	K        int        `mapstructure:"k" yaml:"k"`
	Sets     []QuerySet `mapstructure:"sets" yaml:"sets"`
	Settings []Setting  `mapstructure:"settings" yaml:"settings"`
}

// DefaultConfig returns the easy/medium/hard sets over the five standard
// settings.
func DefaultConfig() Config {
	return Config{
		N:    100,
		Seed: 123,
		K:    10,
		Sets: []QuerySet{
			{Name: "easy", Subjective: 3, Objective: 3},
			{Name: "medium", Subjective: 5, Objective: 5},
			{Name: "hard", Subjective: 7, Objective: 7},
		},
		Settings: []Setting{
			{membership.ModeMarker, combine.Sensitive},
			{membership.ModeHistogram, combine.Sensitive},
			{membership.ModeMarker, combine.Agnostic},
			{membership.ModeMarker, combine.Boolean},
			{membership.ModeMarker, combine.Ignore},
		},
	}
}

type labelKey struct {
	entity string
	term   string
}

// Run holds the state of one evaluation: ground truth and the memoized
// ideal DCG of every query seen.
type Run struct {
	ID    string
	cat   *catalog.Catalog
	k     int
	truth map[labelKey]float64
	ideal *memo.Cache[string, float64]
}

// NewRun creates a run over cat's labels, scoring the top k of each ranking.
func NewRun(cat *catalog.Catalog, k int) *Run {
	r := &Run{
		ID:    uuid.NewString(),
		cat:   cat,
		k:     k,
		truth: make(map[labelKey]float64),
		ideal: memo.New[string, float64](),
	}
	for _, l := range cat.Labels() {
		v := 0.0
		if l.Relevant {
			v = 1
		}
		r.truth[labelKey{l.EntityID, strings.ToLower(l.Term)}] = v
	}
	return r
}

// Relevance returns the graded relevance of entity id for q.
func (r *Run) Relevance(id string, q []string) float64 {
	e, ok := r.cat.Entity(id)
	total := 0.0
	for _, term := range q {
		score := r.truth[labelKey{id, term}]
		if query.IsPredicate(term) && ok {
			if p, err := query.ParsePredicate(term); err == nil {
				if v, has := e.Value(p.Attribute()); has {
					score = 0
					if p.Satisfied(v) {
						score = 1
					}
				}
			}
		}
		total += score
	}
	return total
}

// DCG returns the discounted cumulative gain of ranked for q.
func (r *Run) DCG(q, ranked []string) float64 {
	score := 0.0
	for i, id := range ranked {
		score += r.Relevance(id, q) / math.Log2(float64(i+2))
	}
	return score
}

// IdealDCG returns the DCG of the best top-k ranking over every entity.
func (r *Run) IdealDCG(q []string) float64 {
	return r.ideal.GetOrCompute(strings.Join(q, "\x00"), func() float64 {
		ids := r.cat.IDs()
		rel := make(map[string]float64, len(ids))
		for _, id := range ids {
			rel[id] = r.Relevance(id, q)
		}
		sort.SliceStable(ids, func(a, b int) bool { return rel[ids[a]] > rel[ids[b]] })
		return r.DCG(q, truncate(ids, r.k))
	})
}

// NDCG returns DCG(ranked) / IdealDCG, or 1 when no entity is relevant.
func (r *Run) NDCG(q, ranked []string) float64 {
	best := r.IdealDCG(q)
	if best == 0 {
		return 1
	}
	return r.DCG(q, ranked) / best
}

func truncate(ids []string, k int) []string {
	if k > 0 && len(ids) > k {
		return ids[:k]
	}
	return ids
}

// Ranker is the ranking interface evaluated. *engine.Engine implements it.
type Ranker interface {
	Rank(ctx context.Context, terms, candidates []string, mode membership.Mode, policy combine.Policy) ([]string, error)
	ClearCache()
}

// Result is the mean NDCG of one setting on one query set.
type Result struct {
	Set     string
	Setting Setting
	NDCG    float64
	Elapsed time.Duration
}

// Evaluate ranks every query of every set under every setting, clearing the
// ranker's caches before each setting. Queries are generated once per set.
func Evaluate(ctx context.Context, ranker Ranker, run *Run, terms []string, cfg Config, logger *slog.Logger) ([]Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run", run.ID)
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))

	sets := make([][][]string, len(cfg.Sets))
	for i, s := range cfg.Sets {
		sets[i] = Generate(rng, terms, run.cat.Schema(), cfg.N, s.Subjective, s.Objective)
	}

	var results []Result
	for i, s := range cfg.Sets {
		for _, setting := range cfg.Settings {
			ranker.ClearCache()
			start := time.Now()
			total := 0.0
			for _, q := range sets[i] {
				ranked, err := ranker.Rank(ctx, q, nil, setting.Mode, setting.Policy)
				if err != nil {
					return nil, fmt.Errorf("eval: %s %s: %w", s.Name, setting, err)
				}
				total += run.NDCG(q, truncate(ranked, run.k))
			}
			res := Result{Set: s.Name, Setting: setting, Elapsed: time.Since(start)}
			if len(sets[i]) > 0 {
				res.NDCG = total / float64(len(sets[i]))
			}
			logger.Info("evaluated",
				"set", s.Name,
				"setting", setting.String(),
				"ndcg", res.NDCG,
				"elapsed", res.Elapsed,
			)
			results = append(results, res)
		}
	}
	return results, nil
}
