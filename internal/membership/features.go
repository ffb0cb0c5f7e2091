package membership

import (
	"cmp"
	"fmt"
	"slices"
	"sort"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/query"
	"github.com/Kelaxon/opinedb-public/pkg/embedding"
)

// Mode selects the feature scheme and classifier.
type Mode string

const (
	ModeMarker    Mode = "marker"
	ModeHistogram Mode = "histogram"
)

// ParseMode parses "marker" or "histogram".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeMarker, ModeHistogram:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

const markerWidth = 5

// HistogramWidth is the length of the histogram feature vector.
const HistogramWidth = 8

// Extractor builds classifier inputs for an entity and a query term.
type Extractor struct {
	embed     *embedding.Service
	sentiment func(phrase string) float64
	schema    *catalog.Schema
	objective bool

	maxMarkers int
	threshold  float64
}

// NewExtractor creates an extractor over cat. With objective set every
// feature vector is prefixed with the objective block.
func NewExtractor(cat *catalog.Catalog, embed *embedding.Service, cfg Config, objective bool) *Extractor {
	if cfg.MaxMarkers <= 0 {
		cfg.MaxMarkers = DefaultConfig().MaxMarkers
	}
	return &Extractor{
		embed:      embed,
		sentiment:  cat.PhraseSentiment,
		schema:     cat.Schema(),
		objective:  objective,
		maxMarkers: cfg.MaxMarkers,
		threshold:  cfg.SimilarityThreshold,
	}
}

// Width returns the length of feature vectors produced for mode.
func (x *Extractor) Width(mode Mode) int {
	n := HistogramWidth
	if mode == ModeMarker {
		n = markerWidth * x.maxMarkers
	}
	if x.objective {
		n += query.BlockSize(x.schema)
	}
	return n
}

// Features returns the feature vector of e for the attribute attr and the
// query term. ok is false when e has no data for attr under mode.
func (x *Extractor) Features(mode Mode, e *catalog.Entity, attr, term string, pred query.Predicate) ([]float64, bool) {
	var subjective []float64
	switch mode {
	case ModeMarker:
		markers, ok := e.Summary(attr)
		if !ok {
			return nil, false
		}
		subjective = x.MarkerFeatures(markers, term)
	case ModeHistogram:
		hist, ok := e.Histogram(attr)
		if !ok {
			return nil, false
		}
		subjective = x.HistogramFeatures(hist, term)
	default:
		return nil, false
	}
	if !x.objective {
		return subjective, true
	}
	return append(x.ObjectiveBlock(e, pred), subjective...), true
}

// MarkerFeatures emits [sum, size, mean, cos, mean*cos] for up to maxMarkers
// markers ordered by mean sentiment ascending, zero-padded. The input slice
// is not reordered.
func (x *Extractor) MarkerFeatures(markers []catalog.Marker, term string) []float64 {
	q := x.embed.Embed(term)
	sorted := slices.Clone(markers)
	slices.SortStableFunc(sorted, func(a, b catalog.Marker) int {
		return cmp.Compare(a.MeanSentiment(), b.MeanSentiment())
	})
	if len(sorted) > x.maxMarkers {
		sorted = sorted[:x.maxMarkers]
	}

	out := make([]float64, markerWidth*x.maxMarkers)
	for i, m := range sorted {
		sim := embedding.Cosine(m.Center, q)
		mean := m.MeanSentiment()
		f := out[i*markerWidth:]
		f[0] = m.SumSentiment
		f[1] = float64(m.Size)
		f[2] = mean
		f[3] = sim
		f[4] = mean * sim
	}
	return out
}

// HistogramFeatures summarizes a phrase histogram against the term:
//
//	[simCount, simSent/simCount, allSent/allCount, pos, neg, posSim, negSim, cos(q, Σ count·vec)]
//
// simCount and allCount start at 1. A phrase is similar when its cosine to
// the term exceeds the similarity threshold.
func (x *Extractor) HistogramFeatures(hist map[string]float64, term string) []float64 {
	q := x.embed.Embed(term)
	simCount, allCount := 1.0, 1.0
	var simSent, allSent, pos, neg, posSim, negSim float64
	sum := make([]float64, x.embed.Dim())

	phrases := make([]string, 0, len(hist))
	for p := range hist {
		phrases = append(phrases, p)
	}
	sort.Strings(phrases)

	for _, p := range phrases {
		n := hist[p]
		v := x.embed.Embed(p)
		for i := range sum {
			sum[i] += v[i] * n
		}
		s := x.sentiment(p)
		if embedding.Cosine(q, v) > x.threshold {
			simCount += n
			simSent += n * s
			if s >= 0 {
				posSim += n
			} else {
				negSim += n
			}
		}
		allSent += n * s
		allCount += n
		if s >= 0 {
			pos += n
		} else {
			neg += n
		}
	}

	return []float64{
		simCount,
		simSent / simCount,
		allSent / allCount,
		pos,
		neg,
		posSim,
		negSim,
		embedding.Cosine(q, sum),
	}
}

// ObjectiveBlock encodes pred against e's value. The block is all zero when
// pred is nil or e lacks the attribute.
func (x *Extractor) ObjectiveBlock(e *catalog.Entity, pred query.Predicate) []float64 {
	block := make([]float64, query.BlockSize(x.schema))
	if pred == nil {
		return block
	}
	v, ok := e.Value(pred.Attribute())
	if !ok {
		return block
	}
	pred.Encode(block, v, x.schema)
	return block
}
