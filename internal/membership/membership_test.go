package membership

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/interpret"
	"github.com/Kelaxon/opinedb-public/internal/query"
	"github.com/Kelaxon/opinedb-public/pkg/embedding"
	"github.com/Kelaxon/opinedb-public/pkg/logreg"
)

func newFixture(t *testing.T, objective bool) (*catalog.Catalog, *embedding.Service) {
	t.Helper()
	table, err := embedding.ReadWord2Vec(strings.NewReader(`clean 1 0 0
dirty -1 0.2 0
quiet 0 1 0
noisy 0 -1 0.2
`))
	require.NoError(t, err)
	require.NoError(t, table.ReadIDF(strings.NewReader(`{"clean": 1, "dirty": 1, "quiet": 1, "noisy": 1}`)))

	cat := catalog.New()
	cat.Embeddings = table
	require.NoError(t, cat.AddEntity(&catalog.Entity{
		ID: "A",
		Histograms: map[string]map[string]float64{
			"cleanliness": {"very clean": 5, "dirty": 1},
		},
		Summaries: map[string][]catalog.Marker{
			"cleanliness": {
				{Center: []float64{1, 0, 0}, Verbalized: "very clean", SumSentiment: 4, Size: 5},
				{Center: []float64{-1, 0, 0}, Verbalized: "dirty", SumSentiment: -1, Size: 1},
			},
		},
	}))
	require.NoError(t, cat.AddEntity(&catalog.Entity{
		ID: "B",
		Histograms: map[string]map[string]float64{
			"noise": {"quiet": 2},
		},
		Summaries: map[string][]catalog.Marker{
			"noise": {{Center: []float64{0, 1, 0}, Verbalized: "quiet", SumSentiment: 1.5, Size: 2}},
		},
	}))
	require.NoError(t, cat.AddEntity(&catalog.Entity{
		ID: "C",
		Histograms: map[string]map[string]float64{
			"cleanliness": {"dirty": 4},
		},
		Summaries: map[string][]catalog.Marker{
			"cleanliness": {{Center: []float64{-1, 0, 0}, Verbalized: "dirty", SumSentiment: -3, Size: 4}},
		},
	}))
	require.NoError(t, cat.SetPhraseSentiment("very clean", 0.8))
	require.NoError(t, cat.SetPhraseSentiment("dirty", -0.5))
	require.NoError(t, cat.SetPhraseSentiment("quiet", 0.6))

	if objective {
		require.NoError(t, cat.SetObjective("A", "has_wifi", catalog.BoolValue(false)))
		require.NoError(t, cat.SetObjective("A", "cuisine", catalog.CateValue("thai")))
		require.NoError(t, cat.SetObjective("A", "price", catalog.NumValue(150)))
		require.NoError(t, cat.SetObjective("B", "has_wifi", catalog.BoolValue(true)))
		require.NoError(t, cat.SetObjective("B", "cuisine", catalog.CateValue("pizza")))
		require.NoError(t, cat.SetObjective("B", "price", catalog.NumValue(50)))
		require.NoError(t, cat.SetObjective("C", "has_wifi", catalog.BoolValue(true)))
		require.NoError(t, cat.SetObjective("C", "cuisine", catalog.CateValue("thai")))
		require.NoError(t, cat.SetObjective("C", "price", catalog.NumValue(100)))
	}

	for _, l := range []catalog.Label{
		{EntityID: "A", Term: "clean", Relevant: true},
		{EntityID: "B", Term: "clean", Relevant: false},
		{EntityID: "A", Term: "quiet", Relevant: false},
		{EntityID: "B", Term: "quiet", Relevant: true},
		{EntityID: "C", Term: "clean", Relevant: false},
		{EntityID: "ghost", Term: "quiet", Relevant: true},
	} {
		require.NoError(t, cat.AddLabel(l))
	}
	cat.Seal()
	return cat, embedding.NewService(table)
}

type stubInterpreter map[string]string

func (s stubInterpreter) Interpret(term string) interpret.Result {
	return interpret.Result{Attribute: s[term], Source: interpret.SourceNearest}
}

var testInterpreter = stubInterpreter{"clean": "cleanliness", "quiet": "noise"}

type countingClassifier struct {
	calls atomic.Int64
	p     float64
}

func (c *countingClassifier) Probability([]float64) float64 {
	c.calls.Add(1)
	return c.p
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// =============================================================================
// Features
// =============================================================================

func TestMarkerFeatures(t *testing.T) {
	cat, svc := newFixture(t, false)
	x := NewExtractor(cat, svc, DefaultConfig(), false)
	e, _ := cat.Entity("A")
	markers, _ := e.Summary("cleanliness")

	f := x.MarkerFeatures(markers, "clean")
	require.Len(t, f, 50)

	// Lowest mean sentiment first.
	assert.InDeltaSlice(t, []float64{-1, 1, -0.5, -1, 0.5}, f[0:5], 1e-9)
	assert.InDeltaSlice(t, []float64{4, 5, 4.0 / 6, 1, 4.0 / 6}, f[5:10], 1e-9)
	for _, v := range f[10:] {
		assert.Zero(t, v)
	}

	// The catalog's slice keeps its order.
	assert.Equal(t, "very clean", markers[0].Verbalized)
}

func TestMarkerFeatures_Truncates(t *testing.T) {
	cat, svc := newFixture(t, false)
	cfg := DefaultConfig()
	cfg.MaxMarkers = 1
	x := NewExtractor(cat, svc, cfg, false)
	e, _ := cat.Entity("A")
	markers, _ := e.Summary("cleanliness")

	f := x.MarkerFeatures(markers, "clean")
	require.Len(t, f, 5)
	assert.Equal(t, -1.0, f[0])
	assert.Equal(t, 5, x.Width(ModeMarker))
}

func TestHistogramFeatures(t *testing.T) {
	cat, svc := newFixture(t, false)
	x := NewExtractor(cat, svc, DefaultConfig(), false)
	e, _ := cat.Entity("A")
	hist, _ := e.Histogram("cleanliness")

	f := x.HistogramFeatures(hist, "clean")
	require.Len(t, f, HistogramWidth)
	assert.InDelta(t, 6, f[0], 1e-9)     // 1 + 5 similar occurrences
	assert.InDelta(t, 4.0/6, f[1], 1e-9) // 5 * 0.8 / 6
	assert.InDelta(t, 3.5/7, f[2], 1e-9) // (4 - 0.5) / (1 + 6)
	assert.InDelta(t, 5, f[3], 1e-9)     // positive
	assert.InDelta(t, 1, f[4], 1e-9)     // negative
	assert.InDelta(t, 5, f[5], 1e-9)     // positive similar
	assert.InDelta(t, 0, f[6], 1e-9)     // negative similar
	assert.Greater(t, f[7], 0.99)
	assert.LessOrEqual(t, f[7], 1.0)
}

func TestHistogramFeatures_UnknownSentimentIsPositive(t *testing.T) {
	cat, svc := newFixture(t, false)
	x := NewExtractor(cat, svc, DefaultConfig(), false)

	f := x.HistogramFeatures(map[string]float64{"spotless clean": 3}, "clean")
	assert.InDelta(t, 4, f[0], 1e-9)
	assert.InDelta(t, 0, f[1], 1e-9)
	assert.InDelta(t, 3, f[3], 1e-9)
	assert.InDelta(t, 3, f[5], 1e-9)
}

func TestHistogramFeatures_Empty(t *testing.T) {
	cat, svc := newFixture(t, false)
	x := NewExtractor(cat, svc, DefaultConfig(), false)

	f := x.HistogramFeatures(nil, "clean")
	assert.Equal(t, []float64{1, 0, 0, 0, 0, 0, 0, 0}, f)
}

func TestObjectiveBlock(t *testing.T) {
	cat, svc := newFixture(t, true)
	x := NewExtractor(cat, svc, DefaultConfig(), true)
	a, _ := cat.Entity("A")

	// [bool] ++ [thai, pizza] ++ [abs, rel]
	require.Equal(t, 5, query.BlockSize(cat.Schema()))

	assert.Equal(t, []float64{0, 0, 0, 0, 0}, x.ObjectiveBlock(a, nil))
	assert.Equal(t, []float64{1, 0, 0, 0, 0},
		x.ObjectiveBlock(a, query.BoolPredicate{Attr: "has_wifi", Want: true}))
	assert.Equal(t, []float64{0, 0, 0, 0, 0},
		x.ObjectiveBlock(a, query.BoolPredicate{Attr: "has_wifi", Want: false}))
	assert.Equal(t, []float64{0, 1, -1, 0, 0},
		x.ObjectiveBlock(a, query.CatePredicate{Attr: "cuisine", Want: "pizza"}))
	assert.InDeltaSlice(t, []float64{0, 0, 0, 50, 50.0 / 101},
		x.ObjectiveBlock(a, query.NumPredicate{Attr: "price", Op: query.Lt, Bound: 100}), 1e-12)
	assert.Equal(t, []float64{0, 0, 0, 0, 0},
		x.ObjectiveBlock(a, query.NumPredicate{Attr: "price", Op: query.Gt, Bound: 100}))
	assert.Equal(t, []float64{0, 0, 0, 0, 0},
		x.ObjectiveBlock(a, query.BoolPredicate{Attr: "parking", Want: true}))
}

func TestFeatures(t *testing.T) {
	cat, svc := newFixture(t, true)
	x := NewExtractor(cat, svc, DefaultConfig(), true)
	a, _ := cat.Entity("A")
	pred := query.BoolPredicate{Attr: "has_wifi", Want: true}

	f, ok := x.Features(ModeHistogram, a, "cleanliness", "clean", pred)
	require.True(t, ok)
	assert.Len(t, f, x.Width(ModeHistogram))
	assert.Equal(t, 5+HistogramWidth, len(f))
	assert.Equal(t, 1.0, f[0])

	f, ok = x.Features(ModeMarker, a, "cleanliness", "clean", nil)
	require.True(t, ok)
	assert.Len(t, f, 5+50)

	_, ok = x.Features(ModeMarker, a, "noise", "quiet", nil)
	assert.False(t, ok)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("histogram")
	require.NoError(t, err)
	assert.Equal(t, ModeHistogram, m)

	_, err = ParseMode("bm25")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

// =============================================================================
// Scorer
// =============================================================================

func TestKeyModeResolve(t *testing.T) {
	for _, tc := range []struct {
		mode KeyMode
		has  bool
		want bool
	}{
		{KeyAuto, true, true},
		{KeyAuto, false, false},
		{"", true, true},
		{KeyOn, false, true},
		{KeyOff, true, false},
	} {
		got, err := tc.mode.Resolve(tc.has)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s/%t", tc.mode, tc.has)
	}
	_, err := KeyMode("sometimes").Resolve(true)
	assert.Error(t, err)
}

func TestMembership_Cached(t *testing.T) {
	cat, svc := newFixture(t, false)
	clf := &countingClassifier{p: 0.7}
	s, err := NewScorer(cat, svc, clf, clf, DefaultConfig())
	require.NoError(t, err)

	first := s.Membership(ModeMarker, "A", "cleanliness", "clean", nil)
	second := s.Membership(ModeMarker, "A", "cleanliness", "clean", nil)
	assert.Equal(t, 0.7, first)
	assert.Equal(t, math.Float64bits(first), math.Float64bits(second))
	assert.Equal(t, int64(1), clf.calls.Load())
	assert.Equal(t, 1, s.CacheLen())

	// Modes are cached separately.
	s.Membership(ModeHistogram, "A", "cleanliness", "clean", nil)
	assert.Equal(t, int64(2), clf.calls.Load())

	s.ClearCache()
	assert.Equal(t, 0, s.CacheLen())
	s.Membership(ModeMarker, "A", "cleanliness", "clean", nil)
	assert.Equal(t, int64(3), clf.calls.Load())
}

func TestMembership_Fallback(t *testing.T) {
	cat, svc := newFixture(t, false)
	clf := &countingClassifier{p: 0.7}
	s, err := NewScorer(cat, svc, clf, clf, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 1e-6, s.Membership(ModeMarker, "B", "cleanliness", "clean", nil))
	assert.Equal(t, 1e-6, s.Membership(ModeHistogram, "B", "cleanliness", "clean", nil))
	assert.Equal(t, 1e-6, s.Membership(ModeMarker, "nobody", "cleanliness", "clean", nil))
	assert.Equal(t, 1e-6, s.Membership(ModeMarker, "A", "", "clean", nil))
	assert.Zero(t, clf.calls.Load())
}

func TestMembership_PredicateInKey(t *testing.T) {
	wifi := query.BoolPredicate{Attr: "has_wifi", Want: true}
	price := query.NumPredicate{Attr: "price", Op: query.Lt, Bound: 100}

	cat, svc := newFixture(t, true)
	clf := &countingClassifier{p: 0.4}
	s, err := NewScorer(cat, svc, clf, clf, DefaultConfig())
	require.NoError(t, err)
	require.True(t, s.Objective())

	s.Membership(ModeMarker, "A", "cleanliness", "clean", nil)
	s.Membership(ModeMarker, "A", "cleanliness", "clean", wifi)
	s.Membership(ModeMarker, "A", "cleanliness", "clean", price)
	s.Membership(ModeMarker, "A", "cleanliness", "clean", wifi)
	assert.Equal(t, int64(3), clf.calls.Load())

	cfg := DefaultConfig()
	cfg.Objective = KeyOff
	clf = &countingClassifier{p: 0.4}
	s, err = NewScorer(cat, svc, clf, clf, cfg)
	require.NoError(t, err)
	require.False(t, s.Objective())

	s.Membership(ModeMarker, "A", "cleanliness", "clean", nil)
	s.Membership(ModeMarker, "A", "cleanliness", "clean", wifi)
	s.Membership(ModeMarker, "A", "cleanliness", "clean", price)
	assert.Equal(t, int64(1), clf.calls.Load())
}

func TestMembership_UsesObjectiveFeatures(t *testing.T) {
	cat, svc := newFixture(t, true)
	// Weight only the bool disagreement flag.
	width := query.BlockSize(cat.Schema()) + HistogramWidth
	w := make([]float64, width)
	w[0] = -10
	model := &logreg.Model{Weights: w, Intercept: 5}
	s, err := NewScorer(cat, svc, model, model, DefaultConfig())
	require.NoError(t, err)

	agree := s.Membership(ModeHistogram, "A", "cleanliness", "clean", query.BoolPredicate{Attr: "has_wifi", Want: false})
	disagree := s.Membership(ModeHistogram, "A", "cleanliness", "clean", query.BoolPredicate{Attr: "has_wifi", Want: true})
	assert.Greater(t, agree, 0.99)
	assert.Less(t, disagree, 0.01)
}

func TestNewScorer_NilModel(t *testing.T) {
	cat, svc := newFixture(t, false)
	_, err := NewScorer(cat, svc, &countingClassifier{}, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoModel)
}

// =============================================================================
// Training
// =============================================================================

func trainingConfig() TrainingConfig {
	cfg := DefaultTrainingConfig()
	cfg.Samples = 60
	return cfg
}

func TestTrain(t *testing.T) {
	cat, svc := newFixture(t, false)
	x := NewExtractor(cat, svc, DefaultConfig(), false)

	models, err := NewTrainer(cat, testInterpreter, x, trainingConfig(), nil).Train(context.Background())
	require.NoError(t, err)
	require.NoError(t, models.Check(x))
	assert.False(t, models.Objective)
	assert.Equal(t, 50, models.Marker.Dim())
	assert.Equal(t, HistogramWidth, models.Histogram.Dim())
}

func TestTrain_Deterministic(t *testing.T) {
	cat, svc := newFixture(t, true)
	x := NewExtractor(cat, svc, DefaultConfig(), true)

	a, err := NewTrainer(cat, testInterpreter, x, trainingConfig(), nil).Train(context.Background())
	require.NoError(t, err)
	b, err := NewTrainer(cat, testInterpreter, x, trainingConfig(), nil).Train(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSample_ObjectiveRows(t *testing.T) {
	cat, svc := newFixture(t, true)
	x := NewExtractor(cat, svc, DefaultConfig(), true)
	tr := NewTrainer(cat, testInterpreter, x, trainingConfig(), nil)

	marker, histogram, err := tr.Sample(context.Background(), newRand(7))
	require.NoError(t, err)
	// A placeholder row plus one row per objective attribute for each sample.
	assert.Len(t, marker.X, 60*4)
	assert.Len(t, histogram.X, 60*4)
	for _, row := range marker.X {
		assert.Len(t, row, x.Width(ModeMarker))
	}

	// A satisfied synthetic predicate is always a positive example.
	positives := 0
	for _, y := range histogram.Y {
		positives += y
	}
	assert.Greater(t, positives, 0)
}

func TestSample_Insufficient(t *testing.T) {
	cat, svc := newFixture(t, false)
	x := NewExtractor(cat, svc, DefaultConfig(), false)
	cfg := trainingConfig()
	cfg.MaxAttempts = 50

	// No term maps to an attribute any entity has markers for.
	nowhere := stubInterpreter{"clean": "parking", "quiet": "parking"}
	_, err := NewTrainer(cat, nowhere, x, cfg, nil).Train(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientExamples)
}

func TestSample_NoLabels(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.AddEntity(&catalog.Entity{ID: "A"}))
	cat.Seal()
	table := embedding.NewTable(3)
	svc := embedding.NewService(table)
	x := NewExtractor(cat, svc, DefaultConfig(), false)

	_, err := NewTrainer(cat, testInterpreter, x, trainingConfig(), nil).Train(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientExamples)
}

func TestSample_Cancelled(t *testing.T) {
	cat, svc := newFixture(t, false)
	x := NewExtractor(cat, svc, DefaultConfig(), false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTrainer(cat, testInterpreter, x, trainingConfig(), nil).Train(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

// =============================================================================
// Model files
// =============================================================================

func TestSaveLoadModels(t *testing.T) {
	cat, svc := newFixture(t, false)
	x := NewExtractor(cat, svc, DefaultConfig(), false)
	models, err := NewTrainer(cat, testInterpreter, x, trainingConfig(), nil).Train(context.Background())
	require.NoError(t, err)

	fs, err := mem.NewFS()
	require.NoError(t, err)
	require.NoError(t, SaveModels(fs, "models/opine.json", models))

	loaded, err := LoadModels(fs, "models/opine.json")
	require.NoError(t, err)
	assert.Equal(t, models, loaded)
	require.NoError(t, loaded.Check(x))

	// The same models do not fit a catalog with objective features.
	objCat, objSvc := newFixture(t, true)
	err = loaded.Check(NewExtractor(objCat, objSvc, DefaultConfig(), true))
	assert.ErrorIs(t, err, ErrModelShape)

	_, err = LoadModels(fs, "models/missing.json")
	assert.Error(t, err)
}

func TestModelsCheckCatalog(t *testing.T) {
	cat, svc := newFixture(t, false)
	x := NewExtractor(cat, svc, DefaultConfig(), false)
	models, err := NewTrainer(cat, testInterpreter, x, trainingConfig(), nil).Train(context.Background())
	require.NoError(t, err)
	require.NoError(t, models.CheckCatalog(cat))

	again, _ := newFixture(t, false)
	assert.Equal(t, Fingerprint(cat), Fingerprint(again))
	require.NoError(t, models.CheckCatalog(again))

	// A single flipped label is enough to reject the models.
	flipped := catalog.New()
	flipped.Embeddings = cat.Embeddings
	for _, id := range cat.IDs() {
		e, _ := cat.Entity(id)
		require.NoError(t, flipped.AddEntity(e))
	}
	for _, l := range cat.Labels() {
		if l.EntityID == "C" {
			l.Relevant = !l.Relevant
		}
		require.NoError(t, flipped.AddLabel(l))
	}
	flipped.Seal()
	assert.ErrorIs(t, models.CheckCatalog(flipped), ErrStaleModel)

	objCat, _ := newFixture(t, true)
	assert.ErrorIs(t, models.CheckCatalog(objCat), ErrStaleModel)
}

