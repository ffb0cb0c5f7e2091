package membership

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/interpret"
	"github.com/Kelaxon/opinedb-public/internal/query"
	"github.com/Kelaxon/opinedb-public/pkg/logreg"
)

// TrainingConfig configures classifier training.
type TrainingConfig struct {
	Samples   int     `mapstructure:"samples" yaml:"samples"`
	TestSplit float64 `mapstructure:"test_split" yaml:"test_split"`
	Seed      uint64  `mapstructure:"seed" yaml:"seed"`
	// MaxAttempts bounds the number of (entity, term) draws. Zero means
	// 100 draws per requested sample.
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	LogReg      logreg.Config `mapstructure:"logreg" yaml:"logreg"`
}

// DefaultTrainingConfig returns the default training settings.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Samples:   1500,
		TestSplit: 0.33,
		Seed:      123,
		LogReg:    logreg.DefaultConfig(),
	}
}

// Interpreter maps a query term to a subjective attribute.
type Interpreter interface {
	Interpret(term string) interpret.Result
}

// Models holds the two trained classifiers.
type Models struct {
	Marker    *logreg.Model `json:"marker"`
	Histogram *logreg.Model `json:"histogram"`
	// Objective records whether the features carry the objective block.
	Objective bool `json:"objective"`
	// Catalog is the Fingerprint of the training catalog.
	Catalog string `json:"catalog"`
}

// Dataset is a labelled feature matrix.
type Dataset struct {
	X [][]float64
	Y []int
}

func (d *Dataset) add(x []float64, label bool) {
	d.X = append(d.X, x)
	y := 0
	if label {
		y = 1
	}
	d.Y = append(d.Y, y)
}

// Trainer samples labelled (entity, term) pairs and fits the classifiers.
type Trainer struct {
	cat       *catalog.Catalog
	interp    Interpreter
	extractor *Extractor
	cfg       TrainingConfig
	logger    *slog.Logger
}

// NewTrainer creates a trainer. extractor decides whether objective
// features are generated.
func NewTrainer(cat *catalog.Catalog, interp Interpreter, extractor *Extractor, cfg TrainingConfig, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{
		cat:       cat,
		interp:    interp,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
	}
}

type pair struct {
	entity string
	term   string
}

// Sample draws the training sets for both feature schemes. A draw is
// accepted when the entity has markers for the interpreted attribute.
func (t *Trainer) Sample(ctx context.Context, rng *rand.Rand) (marker, histogram Dataset, err error) {
	truth := make(map[pair]bool)
	var ids, terms []string
	seenID := make(map[string]bool)
	seenTerm := make(map[string]bool)
	for _, l := range t.cat.Labels() {
		if _, ok := t.cat.Entity(l.EntityID); !ok {
			continue
		}
		truth[pair{l.EntityID, l.Term}] = l.Relevant
		if !seenID[l.EntityID] {
			seenID[l.EntityID] = true
			ids = append(ids, l.EntityID)
		}
		if !seenTerm[l.Term] {
			seenTerm[l.Term] = true
			terms = append(terms, l.Term)
		}
	}

	want := t.cfg.Samples
	if len(ids) == 0 {
		return Dataset{}, Dataset{}, fmt.Errorf("%w: no labels", ErrInsufficientExamples)
	}
	attempts := t.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 100 * want
	}

	schema := t.cat.Schema()
	sampled := 0
	for n := 0; sampled < want; n++ {
		if n >= attempts {
			return Dataset{}, Dataset{}, fmt.Errorf("%w: %d of %d after %d draws",
				ErrInsufficientExamples, sampled, want, attempts)
		}
		if err := ctx.Err(); err != nil {
			return Dataset{}, Dataset{}, err
		}

		id := ids[rng.IntN(len(ids))]
		term := terms[rng.IntN(len(terms))]
		attr := t.interp.Interpret(term).Attribute
		e, _ := t.cat.Entity(id)
		markers, ok := e.Summary(attr)
		if !ok {
			continue
		}
		sampled++
		hist, _ := e.Histogram(attr)
		mf := t.extractor.MarkerFeatures(markers, term)
		hf := t.extractor.HistogramFeatures(hist, term)
		relevant := truth[pair{id, term}]

		if !t.extractor.objective {
			marker.add(mf, relevant)
			histogram.add(hf, relevant)
			continue
		}

		placeholder := t.extractor.ObjectiveBlock(e, nil)
		marker.add(concat(placeholder, mf), relevant)
		histogram.add(concat(placeholder, hf), relevant)

		for _, name := range schema.Attributes() {
			v, ok := e.Value(name)
			if !ok {
				continue
			}
			a, _ := schema.Attribute(name)
			pred := randomPredicate(rng, name, a)
			block := t.extractor.ObjectiveBlock(e, pred)
			label := relevant || pred.Satisfied(v)
			marker.add(concat(block, mf), label)
			histogram.add(concat(block, hf), label)
		}
	}
	return marker, histogram, nil
}

// Train samples, splits and fits both classifiers, logging held-out accuracy.
func (t *Trainer) Train(ctx context.Context) (*Models, error) {
	rng := rand.New(rand.NewPCG(t.cfg.Seed, t.cfg.Seed))
	markerSet, histSet, err := t.Sample(ctx, rng)
	if err != nil {
		return nil, err
	}

	markerModel, markerAcc, err := t.fit(markerSet, rng)
	if err != nil {
		return nil, fmt.Errorf("membership: fit marker model: %w", err)
	}
	histModel, histAcc, err := t.fit(histSet, rng)
	if err != nil {
		return nil, fmt.Errorf("membership: fit histogram model: %w", err)
	}

	t.logger.Info("trained membership models",
		"samples", len(markerSet.X),
		"objective", t.extractor.objective,
		"marker_accuracy", markerAcc,
		"histogram_accuracy", histAcc,
	)
	return &Models{
		Marker:    markerModel,
		Histogram: histModel,
		Objective: t.extractor.objective,
		Catalog:   Fingerprint(t.cat),
	}, nil
}

func (t *Trainer) fit(d Dataset, rng *rand.Rand) (*logreg.Model, float64, error) {
	trainX, trainY, testX, testY := logreg.Split(d.X, d.Y, t.cfg.TestSplit, rng)
	m, err := logreg.Fit(trainX, trainY, t.cfg.LogReg)
	if err != nil {
		return nil, 0, err
	}
	return m, m.Accuracy(testX, testY), nil
}

// randomPredicate draws a predicate on attribute name: a random truth value,
// a random observed category, or a random integer bound in the observed
// range with a random comparison.
func randomPredicate(rng *rand.Rand, name string, a catalog.AttrSchema) query.Predicate {
	switch a.Type {
	case catalog.Bool:
		return query.BoolPredicate{Attr: name, Want: rng.IntN(2) == 0}
	case catalog.Cate:
		return query.CatePredicate{Attr: name, Want: a.Values[rng.IntN(len(a.Values))]}
	default:
		lo, hi := int(a.Min), int(a.Max)
		bound := lo + rng.IntN(hi-lo+1)
		op := query.Lt
		if rng.IntN(2) == 1 {
			op = query.Gt
		}
		return query.NumPredicate{Attr: name, Op: op, Bound: float64(bound)}
	}
}

func concat(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
