package embedding

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	src := `4 3
clean 1 0 0
very 0 1 0
dirty -1 0 0.2
quiet 0 0 1
`
	table, err := ReadWord2Vec(strings.NewReader(src))
	require.NoError(t, err)
	require.NoError(t, table.ReadIDF(strings.NewReader(`{"clean": 2.0, "very": 0.5, "dirty": 1.5}`)))
	return table
}

func TestReadWord2Vec(t *testing.T) {
	table := testTable(t)
	assert.Equal(t, 3, table.Dim())
	assert.Equal(t, 4, table.Len())
}

func TestReadWord2Vec_NoHeader(t *testing.T) {
	table, err := ReadWord2Vec(strings.NewReader("good 0.5 0.5\nbad -0.5 0.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, table.Dim())
}

func TestReadWord2Vec_DimensionMismatch(t *testing.T) {
	_, err := ReadWord2Vec(strings.NewReader("good 0.5 0.5\nbad -0.5\n"))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestReadIDF_Negative(t *testing.T) {
	table := NewTable(2)
	err := table.ReadIDF(strings.NewReader(`{"x": -1}`))
	assert.ErrorIs(t, err, ErrNegativeIDF)
}

func TestEmbed_Normalized(t *testing.T) {
	svc := NewService(testTable(t))

	for _, phrase := range []string{"clean", "very clean", "dirty", "very dirty clean", "quiet", "unknown", ""} {
		v := svc.Embed(phrase)
		n := 0.0
		for _, x := range v {
			n += x * x
		}
		n = math.Sqrt(n)
		assert.True(t, n < 1e-9 || math.Abs(n-1) < 1e-9, "phrase %q has norm %f", phrase, n)
	}
}

func TestEmbed_SkipsTokensMissingIDF(t *testing.T) {
	svc := NewService(testTable(t))

	// "quiet" has a vector but no idf weight.
	assert.Equal(t, []float64{0, 0, 0}, svc.Embed("quiet"))
	assert.Equal(t, svc.Embed("clean"), svc.Embed("clean quiet"))
}

func TestEmbed_IDFWeighting(t *testing.T) {
	svc := NewService(testTable(t))

	v := svc.Embed("very clean")
	// 2.0*clean + 0.5*very = (2, 0.5, 0), normalized.
	n := math.Sqrt(4 + 0.25)
	assert.InDelta(t, 2/n, v[0], 1e-9)
	assert.InDelta(t, 0.5/n, v[1], 1e-9)
	assert.InDelta(t, 0, v[2], 1e-9)
}

func TestEmbed_Memoized(t *testing.T) {
	svc := NewService(testTable(t))

	a := svc.Embed("very clean")
	b := svc.Embed("very clean")
	assert.Same(t, &a[0], &b[0])
	assert.Equal(t, 1, svc.CacheLen())

	svc.ClearCache()
	assert.Equal(t, 0, svc.CacheLen())
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 0}, []float64{2, 0}), 1e-12)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 3}), 1e-12)
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 0}))
	assert.Equal(t, 0.0, Cosine([]float64{1}, []float64{1, 0}))
}

func TestTableAccessors(t *testing.T) {
	table := testTable(t)

	assert.Equal(t, []string{"clean", "dirty", "quiet", "very"}, table.Tokens())

	vec, ok := table.Vector("quiet")
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0, 1}, vec)

	_, ok = table.IDF("quiet")
	assert.False(t, ok)
	w, ok := table.IDF("clean")
	require.True(t, ok)
	assert.Equal(t, 2.0, w)
}
