package eval

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"testing"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/combine"
	"github.com/Kelaxon/opinedb-public/internal/membership"
	"github.com/Kelaxon/opinedb-public/internal/query"
)

func evalCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, cat.AddEntity(&catalog.Entity{ID: id}))
	}
	set := func(id, attr string, v catalog.Value) {
		require.NoError(t, cat.SetObjective(id, attr, v))
	}
	set("A", "price", catalog.NumValue(50))
	set("B", "price", catalog.NumValue(100))
	set("C", "price", catalog.NumValue(150))
	set("A", "has_wifi", catalog.BoolValue(true))
	set("B", "has_wifi", catalog.BoolValue(false))
	set("A", "area", catalog.CateValue("downtown"))
	set("B", "area", catalog.CateValue("old town"))

	for _, l := range []catalog.Label{
		{EntityID: "A", Term: "clean", Relevant: true},
		{EntityID: "B", Term: "clean", Relevant: false},
		{EntityID: "C", Term: "CLEAN", Relevant: true},
		{EntityID: "A", Term: "quiet", Relevant: true},
	} {
		require.NoError(t, cat.AddLabel(l))
	}
	cat.Seal()
	return cat
}

func TestRelevance(t *testing.T) {
	run := NewRun(evalCatalog(t), 10)
	q := []string{"clean", "num:price < 80"}

	assert.Equal(t, 2.0, run.Relevance("A", q))
	assert.Equal(t, 0.0, run.Relevance("B", q))
	assert.Equal(t, 1.0, run.Relevance("C", q), "label terms are lower-cased")

	// C has no wifi value, so the predicate scores nothing.
	assert.Equal(t, 0.0, run.Relevance("C", []string{"bool:has_wifi = True"}))
	assert.Equal(t, 1.0, run.Relevance("B", []string{"bool:has_wifi = False"}))
	assert.Equal(t, 0.0, run.Relevance("missing", q))
}

func TestDCGAndNDCG(t *testing.T) {
	run := NewRun(evalCatalog(t), 10)
	q := []string{"clean", "num:price < 80"}

	best := 2 + 1/math.Log2(3)
	assert.InDelta(t, best, run.DCG(q, []string{"A", "C", "B"}), 1e-12)
	assert.InDelta(t, best, run.IdealDCG(q), 1e-12)
	assert.InDelta(t, 1.0, run.NDCG(q, []string{"A", "C", "B"}), 1e-12)

	worst := 1/math.Log2(3) + 2/math.Log2(4)
	assert.InDelta(t, worst/best, run.NDCG(q, []string{"B", "C", "A"}), 1e-12)
}

func TestNDCGNothingRelevant(t *testing.T) {
	run := NewRun(evalCatalog(t), 10)
	assert.Equal(t, 1.0, run.NDCG([]string{"romantic"}, []string{"B", "A"}))
}

func TestIdealDCGTopK(t *testing.T) {
	run := NewRun(evalCatalog(t), 1)
	q := []string{"clean", "num:price < 80"}

	assert.InDelta(t, 2.0, run.IdealDCG(q), 1e-12)
	assert.InDelta(t, 0.5, run.NDCG(q, []string{"C"}), 1e-12)
}

func TestIdealDCGMemoized(t *testing.T) {
	run := NewRun(evalCatalog(t), 10)
	run.IdealDCG([]string{"clean"})
	run.IdealDCG([]string{"clean"})
	run.IdealDCG([]string{"quiet"})
	assert.Equal(t, 2, run.ideal.Len())
}

func TestReadQueryTerms(t *testing.T) {
	fs, err := mem.NewFS()
	require.NoError(t, err)
	require.NoError(t, hackpadfs.WriteFullFile(fs, "terms.txt", []byte("Clean Room\n\n  quiet \nFRIENDLY staff\n"), 0644))

	terms, err := ReadQueryTerms(fs, "terms.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"clean room", "quiet", "friendly staff"}, terms)

	_, err = ReadQueryTerms(fs, "missing.txt")
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	cat := evalCatalog(t)
	terms := []string{"clean", "quiet", "friendly staff"}

	qs := Generate(rand.New(rand.NewPCG(1, 1)), terms, cat.Schema(), 50, 3, 4)
	require.Len(t, qs, 50)
	for _, q := range qs {
		// "old town" is never drawn, so an area draw can only be "downtown".
		assert.Len(t, q, 7)
		for _, term := range q[:3] {
			assert.Contains(t, terms, term)
		}
		for _, term := range q[3:] {
			p, err := query.ParsePredicate(term)
			require.NoError(t, err, term)
			switch p := p.(type) {
			case query.BoolPredicate:
				assert.True(t, strings.HasSuffix(term, "True") || strings.HasSuffix(term, "False"))
			case query.CatePredicate:
				assert.Equal(t, "downtown", p.Want)
			case query.NumPredicate:
				assert.GreaterOrEqual(t, p.Bound, 50.0)
				assert.LessOrEqual(t, p.Bound, 150.0)
			}
		}
	}

	again := Generate(rand.New(rand.NewPCG(1, 1)), terms, cat.Schema(), 50, 3, 4)
	assert.Equal(t, qs, again)
}

func TestGenerateSkipsUnwritableCategories(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.AddEntity(&catalog.Entity{ID: "A"}))
	require.NoError(t, cat.SetObjective("A", "area", catalog.CateValue("old town")))
	cat.Seal()

	qs := Generate(rand.New(rand.NewPCG(1, 1)), []string{"clean"}, cat.Schema(), 5, 1, 2)
	for _, q := range qs {
		assert.Equal(t, []string{"clean"}, q)
	}
}

// oracle ranks by true relevance, so every query scores NDCG 1.
type oracle struct {
	run     *Run
	cleared int
	err     error
}

func (o *oracle) Rank(_ context.Context, terms, _ []string, _ membership.Mode, _ combine.Policy) ([]string, error) {
	if o.err != nil {
		return nil, o.err
	}
	ids := o.run.cat.IDs()
	sort.SliceStable(ids, func(a, b int) bool {
		return o.run.Relevance(ids[a], terms) > o.run.Relevance(ids[b], terms)
	})
	return ids, nil
}

func (o *oracle) ClearCache() { o.cleared++ }

func TestEvaluate(t *testing.T) {
	run := NewRun(evalCatalog(t), 10)
	cfg := DefaultConfig()
	cfg.N = 10
	ranker := &oracle{run: run}

	results, err := Evaluate(context.Background(), ranker, run, []string{"clean", "quiet"}, cfg, nil)
	require.NoError(t, err)
	require.Len(t, results, len(cfg.Sets)*len(cfg.Settings))
	assert.Equal(t, len(results), ranker.cleared)

	assert.Equal(t, "easy", results[0].Set)
	assert.Equal(t, "marker_sensitive", results[0].Setting.String())
	assert.Equal(t, "hard", results[len(results)-1].Set)
	for _, r := range results {
		assert.InDelta(t, 1.0, r.NDCG, 1e-12, "%s %s", r.Set, r.Setting)
	}
}

func TestEvaluateRankError(t *testing.T) {
	run := NewRun(evalCatalog(t), 10)
	boom := errors.New("boom")
	_, err := Evaluate(context.Background(), &oracle{run: run, err: boom}, run, []string{"clean"}, DefaultConfig(), nil)
	assert.ErrorIs(t, err, boom)
}
