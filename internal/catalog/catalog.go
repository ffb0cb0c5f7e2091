// Package catalog holds the entities, reviews and labels a ranking engine is
// built from, together with the objective attribute schema.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Kelaxon/opinedb-public/pkg/embedding"
)

// Marker summarizes a cluster of opinion phrases for one subjective attribute.
type Marker struct {
	Center       []float64 `json:"center"`
	Verbalized   string    `json:"verbalized"`
	SumSentiment float64   `json:"sum_senti"`
	Size         int       `json:"size"`
}

// MeanSentiment returns SumSentiment / (Size + 1).
func (m Marker) MeanSentiment() float64 {
	return m.SumSentiment / float64(m.Size+1)
}

// Entity is a rankable item with its opinion summaries and objective values.
type Entity struct {
	ID string `json:"-"`
	// Histograms maps attribute -> phrase -> count.
	Histograms map[string]map[string]float64 `json:"histogram"`
	// Summaries maps attribute -> markers.
	Summaries map[string][]Marker `json:"summaries"`
	Objective map[string]Value    `json:"-"`
}

// Histogram returns the phrase histogram of attr.
func (e *Entity) Histogram(attr string) (map[string]float64, bool) {
	h, ok := e.Histograms[attr]
	return h, ok
}

// Summary returns the markers of attr.
func (e *Entity) Summary(attr string) ([]Marker, bool) {
	m, ok := e.Summaries[attr]
	return m, ok
}

// Value returns the objective value of attr.
func (e *Entity) Value(attr string) (Value, bool) {
	v, ok := e.Objective[attr]
	return v, ok
}

// Extraction is an opinion extracted from a review.
type Extraction struct {
	Attribute string `json:"attribute"`
	Predicate string `json:"predicate"`
	Entity    string `json:"entity"`
}

// Phrase returns "predicate entity".
func (x Extraction) Phrase() string {
	return x.Predicate + " " + x.Entity
}

// Review is a raw review with its extractions. Sentiment is nil when the
// input did not carry a precomputed score.
type Review struct {
	ID          string       `json:"review_id"`
	EntityID    string       `json:"business_id"`
	Text        string       `json:"text"`
	Sentiment   *float64     `json:"sentiment,omitempty"`
	Extractions []Extraction `json:"extractions"`
}

// Label is a ground-truth relevance judgement for (entity, term).
type Label struct {
	EntityID string
	Term     string
	Relevant bool
}

// Catalog is the input of an engine. It is mutable while loading and
// read-only once sealed.
type Catalog struct {
	entities  map[string]*Entity
	ids       []string
	reviews   []Review
	sentiment map[string]float64
	labels    []Label
	objective []Assignment
	schema    *Schema
	sealed    bool

	// Embeddings holds the token vectors and IDF weights.
	Embeddings *embedding.Table
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		entities:  make(map[string]*Entity),
		sentiment: make(map[string]float64),
		schema:    newSchema(),
	}
}

// AddEntity registers e, replacing any entity with the same id.
func (c *Catalog) AddEntity(e *Entity) error {
	if c.sealed {
		return ErrSealed
	}
	if e.Histograms == nil {
		e.Histograms = make(map[string]map[string]float64)
	}
	if e.Summaries == nil {
		e.Summaries = make(map[string][]Marker)
	}
	if e.Objective == nil {
		e.Objective = make(map[string]Value)
	}
	if _, ok := c.entities[e.ID]; !ok {
		c.ids = nil
	}
	c.entities[e.ID] = e
	return nil
}

// Entity returns the entity with the given id.
func (c *Catalog) Entity(id string) (*Entity, bool) {
	e, ok := c.entities[id]
	return e, ok
}

// Len returns the number of entities.
func (c *Catalog) Len() int { return len(c.entities) }

// IDs returns entity ids in sorted order.
func (c *Catalog) IDs() []string {
	if c.ids == nil {
		ids := make([]string, 0, len(c.entities))
		for id := range c.entities {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if !c.sealed {
			return ids
		}
		c.ids = ids
	}
	return append([]string(nil), c.ids...)
}

// SetObjective records an objective value for an entity and updates the schema.
// Bool values are stored as-is; the caller decides case folding for categories.
func (c *Catalog) SetObjective(id, attr string, v Value) error {
	if c.sealed {
		return ErrSealed
	}
	e, ok := c.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	if err := c.schema.observe(attr, v); err != nil {
		return fmt.Errorf("%w: %s", err, attr)
	}
	e.Objective[attr] = v
	c.objective = append(c.objective, Assignment{EntityID: id, Attribute: attr, Value: v})
	return nil
}

// Assignment is one SetObjective call.
type Assignment struct {
	EntityID  string
	Attribute string
	Value     Value
}

// Assignments returns objective assignments in the order they were made.
// Replaying them into a new catalog rebuilds an identical schema.
func (c *Catalog) Assignments() []Assignment { return c.objective }

// Schema returns the objective schema.
func (c *Catalog) Schema() *Schema { return c.schema }

// HasObjective reports whether any objective attribute was loaded.
func (c *Catalog) HasObjective() bool { return c.schema.Len() > 0 }

// AddReview appends a review.
func (c *Catalog) AddReview(r Review) error {
	if c.sealed {
		return ErrSealed
	}
	c.reviews = append(c.reviews, r)
	return nil
}

// Reviews returns reviews in input order.
func (c *Catalog) Reviews() []Review { return c.reviews }

// SetPhraseSentiment records the sentiment of an extracted phrase.
func (c *Catalog) SetPhraseSentiment(phrase string, s float64) error {
	if c.sealed {
		return ErrSealed
	}
	c.sentiment[phrase] = s
	return nil
}

// PhraseSentiment returns the sentiment of phrase, 0 when unknown.
func (c *Catalog) PhraseSentiment(phrase string) float64 {
	return c.sentiment[phrase]
}

// PhraseSentiments returns a copy of the phrase sentiment table.
func (c *Catalog) PhraseSentiments() map[string]float64 {
	out := make(map[string]float64, len(c.sentiment))
	for k, v := range c.sentiment {
		out[k] = v
	}
	return out
}

// AddLabel appends a label.
func (c *Catalog) AddLabel(l Label) error {
	if c.sealed {
		return ErrSealed
	}
	c.labels = append(c.labels, l)
	return nil
}

// Labels returns the labels in input order.
func (c *Catalog) Labels() []Label { return c.labels }

// Restrict drops every entity not in ids, along with their reviews and labels.
func (c *Catalog) Restrict(ids []string) error {
	if c.sealed {
		return ErrSealed
	}
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	for id := range c.entities {
		if !keep[id] {
			delete(c.entities, id)
		}
	}
	c.ids = nil

	reviews := c.reviews[:0]
	for _, r := range c.reviews {
		if keep[r.EntityID] {
			reviews = append(reviews, r)
		}
	}
	c.reviews = reviews

	labels := c.labels[:0]
	for _, l := range c.labels {
		if keep[l.EntityID] {
			labels = append(labels, l)
		}
	}
	c.labels = labels

	objective := c.objective[:0]
	for _, a := range c.objective {
		if keep[a.EntityID] {
			objective = append(objective, a)
		}
	}
	c.objective = objective
	return nil
}

// Seal makes the catalog read-only.
func (c *Catalog) Seal() {
	c.sealed = true
	c.ids = nil
	c.IDs()
}

// Sealed reports whether Seal was called.
func (c *Catalog) Sealed() bool { return c.sealed }

// Phrases returns the distinct lower-cased histogram phrases with the first
// attribute that owns each, visiting entities in id order and attributes and
// phrases sorted.
func (c *Catalog) Phrases() []PhraseOwner {
	seen := make(map[string]bool)
	var out []PhraseOwner
	for _, id := range c.IDs() {
		e := c.entities[id]
		for _, attr := range sortedKeys(e.Histograms) {
			for _, phrase := range sortedKeys(e.Histograms[attr]) {
				p := strings.ToLower(phrase)
				if seen[p] {
					continue
				}
				seen[p] = true
				out = append(out, PhraseOwner{Attribute: attr, Phrase: p})
			}
		}
	}
	return out
}

// PhraseOwner pairs a histogram phrase with its attribute.
type PhraseOwner struct {
	Attribute string
	Phrase    string
}

// Markers returns every marker of attr across entities, in id order.
func (c *Catalog) Markers(attr string) []Marker {
	var out []Marker
	for _, id := range c.IDs() {
		out = append(out, c.entities[id].Summaries[attr]...)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
