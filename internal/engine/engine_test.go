package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/combine"
	"github.com/Kelaxon/opinedb-public/internal/membership"
	"github.com/Kelaxon/opinedb-public/internal/query"
	"github.com/Kelaxon/opinedb-public/pkg/embedding"
	"github.com/Kelaxon/opinedb-public/pkg/logreg"
)

func testTable(t *testing.T) *embedding.Table {
	t.Helper()
	table, err := embedding.ReadWord2Vec(strings.NewReader(`clean 1 0 0
dirty -1 0.2 0
quiet 0 1 0
noisy 0 -1 0.2
`))
	require.NoError(t, err)
	require.NoError(t, table.ReadIDF(strings.NewReader(`{"clean": 1, "dirty": 1, "quiet": 1, "noisy": 1}`)))
	return table
}

// scenarioCatalog has two entities: A with a "cleanliness" histogram and
// marker, B with nothing for that attribute.
func scenarioCatalog(t *testing.T, objective bool) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	cat.Embeddings = testTable(t)
	require.NoError(t, cat.AddEntity(&catalog.Entity{
		ID:         "A",
		Histograms: map[string]map[string]float64{"cleanliness": {"very clean": 5}},
		Summaries: map[string][]catalog.Marker{
			"cleanliness": {
				{Center: []float64{1, 0, 0}, Verbalized: "spotless rooms", SumSentiment: 4, Size: 5},
				{Center: []float64{-1, 0, 0}, Verbalized: "dusty corners", SumSentiment: -1, Size: 1},
			},
		},
	}))
	require.NoError(t, cat.AddEntity(&catalog.Entity{
		ID:         "B",
		Histograms: map[string]map[string]float64{"noise": {"quiet": 2}},
		Summaries: map[string][]catalog.Marker{
			"noise": {{Center: []float64{0, 1, 0}, Verbalized: "quiet street", SumSentiment: 1, Size: 2}},
		},
	}))
	require.NoError(t, cat.SetPhraseSentiment("very clean", 0.8))
	if objective {
		require.NoError(t, cat.SetObjective("A", "has_wifi", catalog.BoolValue(true)))
		require.NoError(t, cat.SetObjective("A", "price", catalog.NumValue(50)))
		require.NoError(t, cat.SetObjective("B", "has_wifi", catalog.BoolValue(false)))
		require.NoError(t, cat.SetObjective("B", "price", catalog.NumValue(150)))
	}
	cat.Seal()
	return cat
}

// neutralModels gives every feature vector probability 0.5.
func neutralModels(cat *catalog.Catalog) *membership.Models {
	cfg := membership.DefaultConfig()
	x := membership.NewExtractor(cat, embedding.NewService(cat.Embeddings), cfg, cat.HasObjective())
	return &membership.Models{
		Marker:    &logreg.Model{Weights: make([]float64, x.Width(membership.ModeMarker))},
		Histogram: &logreg.Model{Weights: make([]float64, x.Width(membership.ModeHistogram))},
		Objective: cat.HasObjective(),
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.Training.Samples = 80
	return cfg
}

func newEngine(t *testing.T, cat *catalog.Catalog) *Engine {
	t.Helper()
	e, err := Build(context.Background(), cat, testConfig(), WithModels(neutralModels(cat)))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

// =============================================================================
// Scenarios
// =============================================================================

func TestRank_HistogramClean(t *testing.T) {
	e := newEngine(t, scenarioCatalog(t, false))

	scored, err := e.RankScored(context.Background(), []string{"clean"}, nil, membership.ModeHistogram, combine.Sensitive)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "A", scored[0].ID)
	assert.Equal(t, "B", scored[1].ID)
	assert.Greater(t, scored[0].Score, 1e-6)
	assert.Equal(t, 1e-6, scored[1].Score)
}

func TestRank_BooleanWifi(t *testing.T) {
	e := newEngine(t, scenarioCatalog(t, true))

	scored, err := e.RankScored(context.Background(), []string{"bool:has_wifi = True"}, []string{"B", "A"},
		membership.ModeMarker, combine.Boolean)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "A", scored[0].ID)
	assert.Equal(t, "B", scored[1].ID)
	assert.InDelta(t, 1e-15*scored[0].Score, scored[1].Score, 1e-27)
}

func TestRank_AgnosticPrice(t *testing.T) {
	e := newEngine(t, scenarioCatalog(t, true))

	scored, err := e.RankScored(context.Background(), []string{"num:price < 100"}, []string{"B", "A"},
		membership.ModeMarker, combine.Agnostic)
	require.NoError(t, err)
	assert.Equal(t, "A", scored[0].ID)
	assert.Greater(t, scored[0].Score, scored[1].Score)
	for _, s := range scored {
		assert.Greater(t, s.Score, 0.0)
		assert.Less(t, s.Score, 1.0)
	}
}

func TestRank_BooleanOrdering(t *testing.T) {
	e := newEngine(t, scenarioCatalog(t, true))

	// A matches "clean" but violates the predicate; B satisfies it.
	ids, err := e.Rank(context.Background(), []string{"clean", "bool:has_wifi = false"}, nil,
		membership.ModeMarker, combine.Boolean)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, ids)
}

func TestRank_Sensitive(t *testing.T) {
	e := newEngine(t, scenarioCatalog(t, true))

	scored, err := e.RankScored(context.Background(), []string{"clean", "bool:has_wifi = true"}, nil,
		membership.ModeMarker, combine.Sensitive)
	require.NoError(t, err)
	assert.Equal(t, "A", scored[0].ID)
	assert.InDelta(t, 0.25, scored[0].Score, 1e-12)
	assert.InDelta(t, 1e-12, scored[1].Score, 1e-20)
}

func TestRank_Deterministic(t *testing.T) {
	e := newEngine(t, scenarioCatalog(t, true))
	terms := []string{"Clean", "quiet", "num:price > 80"}

	first, err := e.RankScored(context.Background(), terms, nil, membership.ModeHistogram, combine.Agnostic)
	require.NoError(t, err)
	e.ClearCache()
	second, err := e.RankScored(context.Background(), terms, nil, membership.ModeHistogram, combine.Agnostic)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRank_TiesKeepInputOrder(t *testing.T) {
	e := newEngine(t, scenarioCatalog(t, false))

	ids, err := e.Rank(context.Background(), nil, []string{"B", "A"}, membership.ModeMarker, combine.Ignore)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, ids)

	ids, err = e.Rank(context.Background(), nil, nil, membership.ModeMarker, combine.Ignore)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)
}

func TestRank_Errors(t *testing.T) {
	e := newEngine(t, scenarioCatalog(t, true))
	ctx := context.Background()

	_, err := e.Rank(ctx, []string{"clean"}, []string{"A", "Z"}, membership.ModeMarker, combine.Boolean)
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = e.Rank(ctx, []string{"bool:has_wifi  = true"}, nil, membership.ModeMarker, combine.Boolean)
	assert.ErrorIs(t, err, query.ErrMalformedPredicate)

	_, err = e.Rank(ctx, []string{"text:has_wifi = true"}, nil, membership.ModeMarker, combine.Boolean)
	assert.ErrorIs(t, err, query.ErrUnknownType)

	_, err = e.Rank(ctx, []string{"clean"}, nil, "bm25", combine.Boolean)
	assert.ErrorIs(t, err, membership.ErrUnknownMode)

	_, err = e.Rank(ctx, []string{"clean"}, nil, membership.ModeMarker, "fuzzy")
	assert.ErrorIs(t, err, combine.ErrUnknownPolicy)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Rank(cancelled, []string{"clean"}, nil, membership.ModeMarker, combine.Boolean)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Operations
// =============================================================================

func TestInterpret(t *testing.T) {
	e := newEngine(t, scenarioCatalog(t, false))

	res := e.Interpret("very clean")
	assert.Equal(t, "cleanliness", res.Attribute)
	assert.Equal(t, "very clean", res.Phrase)
	assert.InDelta(t, 1, res.Similarity, 1e-9)
}

func TestMembership_Cached(t *testing.T) {
	e := newEngine(t, scenarioCatalog(t, false))

	a := e.Membership(membership.ModeMarker, "A", "cleanliness", "clean", nil)
	b := e.Membership(membership.ModeMarker, "A", "cleanliness", "clean", nil)
	assert.Equal(t, a, b)
	assert.InDelta(t, 0.5, a, 1e-12)
	assert.Equal(t, 1e-6, e.Membership(membership.ModeMarker, "B", "cleanliness", "clean", nil))
}

func TestMarker(t *testing.T) {
	e := newEngine(t, scenarioCatalog(t, false))

	m, ok := e.Marker("cleanliness", "clean")
	require.True(t, ok)
	assert.Equal(t, "spotless rooms", m)

	m, ok = e.Marker("cleanliness", "dirty")
	require.True(t, ok)
	assert.Equal(t, "dusty corners", m)

	_, ok = e.Marker("parking", "clean")
	assert.False(t, ok)
}

func TestBuild_NoEmbeddings(t *testing.T) {
	cat := catalog.New()
	cat.Seal()
	_, err := Build(context.Background(), cat, testConfig())
	assert.ErrorIs(t, err, ErrNoEmbeddings)
}

func TestBuild_WrongModels(t *testing.T) {
	cat := scenarioCatalog(t, true)
	models := neutralModels(scenarioCatalog(t, false))
	_, err := Build(context.Background(), cat, testConfig(), WithModels(models))
	assert.ErrorIs(t, err, membership.ErrModelShape)
}

// =============================================================================
// Training
// =============================================================================

func trainingCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	cat.Embeddings = testTable(t)
	entities := map[string]float64{"A": 0.9, "C": -0.7, "D": 0.6, "E": -0.4}
	for _, id := range []string{"A", "C", "D", "E"} {
		s := entities[id]
		phrase := "very clean"
		center := []float64{1, 0, 0}
		if s < 0 {
			phrase = "dirty"
			center = []float64{-1, 0.2, 0}
		}
		require.NoError(t, cat.AddEntity(&catalog.Entity{
			ID:         id,
			Histograms: map[string]map[string]float64{"cleanliness": {phrase: 3}},
			Summaries: map[string][]catalog.Marker{
				"cleanliness": {{Center: center, Verbalized: phrase, SumSentiment: 3 * s, Size: 3}},
			},
		}))
		require.NoError(t, cat.AddLabel(catalog.Label{EntityID: id, Term: "clean", Relevant: s > 0}))
	}
	require.NoError(t, cat.SetPhraseSentiment("very clean", 0.8))
	require.NoError(t, cat.SetPhraseSentiment("dirty", -0.6))
	cat.Seal()
	return cat
}

func TestBuild_TrainsAndPersists(t *testing.T) {
	fs, err := mem.NewFS()
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Models = "models/opine.json"

	first, err := Build(context.Background(), trainingCatalog(t), cfg, WithFS(fs))
	require.NoError(t, err)
	defer first.Close()
	require.NotNil(t, first.Models())

	// The trained models rank relevant entities first.
	ids, err := first.Rank(context.Background(), []string{"clean"}, nil, membership.ModeMarker, combine.Ignore)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "D"}, ids[:2])

	loaded, err := membership.LoadModels(fs, cfg.Models)
	require.NoError(t, err)
	assert.Equal(t, first.Models(), loaded)

	second, err := Build(context.Background(), trainingCatalog(t), cfg, WithFS(fs))
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, first.Models(), second.Models())
	assert.NotEqual(t, first.Session(), second.Session())
}

func TestBuild_RetrainsForAnotherCatalog(t *testing.T) {
	fs, err := mem.NewFS()
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Models = "models/opine.json"

	first, err := Build(context.Background(), trainingCatalog(t), cfg, WithFS(fs))
	require.NoError(t, err)
	defer first.Close()

	// Same entities and feature widths, but C is now labelled relevant.
	other := catalog.New()
	src := trainingCatalog(t)
	other.Embeddings = src.Embeddings
	for _, id := range src.IDs() {
		ent, _ := src.Entity(id)
		require.NoError(t, other.AddEntity(ent))
	}
	for _, l := range src.Labels() {
		if l.EntityID == "C" {
			l.Relevant = true
		}
		require.NoError(t, other.AddLabel(l))
	}
	for phrase, v := range src.PhraseSentiments() {
		require.NoError(t, other.SetPhraseSentiment(phrase, v))
	}
	other.Seal()

	second, err := Build(context.Background(), other, cfg, WithFS(fs))
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, membership.Fingerprint(other), second.Models().Catalog)
	assert.NotEqual(t, first.Models().Catalog, second.Models().Catalog)

	saved, err := membership.LoadModels(fs, cfg.Models)
	require.NoError(t, err)
	assert.Equal(t, second.Models(), saved)
}

func TestBuild_TrainingShortfall(t *testing.T) {
	cat := scenarioCatalog(t, false)
	_, err := Build(context.Background(), cat, testConfig())
	assert.ErrorIs(t, err, membership.ErrInsufficientExamples)
}
