package interpret

import (
	"math"
	"sort"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/pkg/memo"
	"github.com/Kelaxon/opinedb-public/pkg/resorank"
	"github.com/Kelaxon/opinedb-public/pkg/sentiment"
	"github.com/Kelaxon/opinedb-public/pkg/tokenize"
)

// CooccurConfig configures the co-occurrence interpreter.
type CooccurConfig struct {
	// TopReviews is the number of best-scoring reviews that vote.
	TopReviews int             `mapstructure:"top_reviews" yaml:"top_reviews"`
	BM25       resorank.Config `mapstructure:"bm25" yaml:"bm25"`
}

// DefaultCooccurConfig returns the default co-occurrence settings.
func DefaultCooccurConfig() CooccurConfig {
	return CooccurConfig{
		TopReviews: 10,
		BM25:       resorank.DefaultConfig(),
	}
}

type vote struct {
	attr   string
	phrase string
	ok     bool
}

// Cooccur interprets a term by finding the opinion extractions that sit
// closest to it in the reviews that mention it most positively.
type Cooccur struct {
	cfg      CooccurConfig
	index    *resorank.Scorer
	reviews  []catalog.Review
	polarity []float64
	attrIDF  map[string]float64
	cache    *memo.Cache[string, vote]
}

// NewCooccur indexes reviews. Reviews without a precomputed sentiment are
// scored with analyzer.
func NewCooccur(reviews []catalog.Review, analyzer sentiment.Analyzer, cfg CooccurConfig) *Cooccur {
	if cfg.TopReviews <= 0 {
		cfg.TopReviews = DefaultCooccurConfig().TopReviews
	}
	c := &Cooccur{
		cfg:      cfg,
		index:    resorank.NewScorer(cfg.BM25),
		reviews:  reviews,
		polarity: make([]float64, len(reviews)),
		attrIDF:  make(map[string]float64),
		cache:    memo.New[string, vote](),
	}

	counts := make(map[string]int)
	total := 0
	for i, r := range reviews {
		c.index.Add(tokenize.Tokenize(r.Text))
		if r.Sentiment != nil {
			c.polarity[i] = *r.Sentiment
		} else if analyzer != nil {
			c.polarity[i] = analyzer.Polarity(r.Text)
		}
		for _, x := range r.Extractions {
			counts[x.Attribute]++
			total++
		}
	}
	for attr, n := range counts {
		c.attrIDF[attr] = math.Log2(float64(total) / float64(n))
	}
	return c
}

// AttributeIDF returns log2(total extractions / extractions of attr).
func (c *Cooccur) AttributeIDF(attr string) float64 { return c.attrIDF[attr] }

// Interpret returns the attribute and representative phrase for term; ok is
// false when no review places an extraction near the term.
func (c *Cooccur) Interpret(term string) (attr, phrase string, ok bool) {
	v := c.cache.GetOrCompute(term, func() vote { return c.interpret(term) })
	return v.attr, v.phrase, v.ok
}

// ClearCache drops memoized interpretations.
func (c *Cooccur) ClearCache() { c.cache.Reset() }

func (c *Cooccur) interpret(term string) vote {
	termTokens := tokenize.Tokenize(term)
	scores := c.index.Scores(termTokens)

	signed := make([]float64, len(scores))
	order := make([]int, len(scores))
	for i, s := range scores {
		if s > 0 {
			signed[i] = s * c.polarity[i]
		}
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return signed[order[a]] > signed[order[b]]
	})
	if len(order) > c.cfg.TopReviews {
		order = order[:c.cfg.TopReviews]
	}

	var attrs []string
	votes := make(map[string]float64)
	phrases := make(map[string]string)
	for _, doc := range order {
		if signed[doc] <= 0 {
			continue
		}
		minDist, minAttr, minPhrase := -1, "", ""
		for _, x := range c.reviews[doc].Extractions {
			p := x.Phrase()
			d := c.index.TokenGap(doc, tokenize.Tokenize(p), termTokens)
			if d >= 0 && (minDist < 0 || d < minDist) {
				minDist, minAttr, minPhrase = d, x.Attribute, p
			}
		}
		if minDist < 0 {
			continue
		}
		if _, seen := votes[minAttr]; !seen {
			attrs = append(attrs, minAttr)
			phrases[minAttr] = minPhrase
		}
		votes[minAttr]++
	}

	best, bestScore := "", 0.0
	for _, a := range attrs {
		if s := votes[a] * c.attrIDF[a]; s > bestScore {
			best, bestScore = a, s
		}
	}
	if best == "" {
		return vote{}
	}
	return vote{attr: best, phrase: phrases[best], ok: true}
}
