package store

import (
	"fmt"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/pkg/embedding"
)

// Import copies every part of c into s.
func Import(s Storer, c *catalog.Catalog) error {
	for _, id := range c.IDs() {
		e, _ := c.Entity(id)
		if err := s.UpsertEntity(e); err != nil {
			return fmt.Errorf("store: entity %s: %w", id, err)
		}
	}
	for _, a := range c.Assignments() {
		rec := &ObjectiveRecord{
			EntityID:  a.EntityID,
			Attribute: a.Attribute,
			Type:      a.Value.Type(),
			Value:     a.Value.String(),
		}
		if err := s.AppendObjective(rec); err != nil {
			return fmt.Errorf("store: objective %s.%s: %w", a.EntityID, a.Attribute, err)
		}
	}
	for i := range c.Reviews() {
		r := c.Reviews()[i]
		if err := s.AppendReview(&r); err != nil {
			return fmt.Errorf("store: review %s: %w", r.ID, err)
		}
	}
	for phrase, v := range c.PhraseSentiments() {
		if err := s.UpsertPhraseSentiment(phrase, v); err != nil {
			return fmt.Errorf("store: phrase sentiment: %w", err)
		}
	}
	for i := range c.Labels() {
		l := c.Labels()[i]
		if err := s.AppendLabel(&l); err != nil {
			return fmt.Errorf("store: label: %w", err)
		}
	}
	if t := c.Embeddings; t != nil {
		for _, tok := range t.Tokens() {
			rec := &TokenRecord{Token: tok}
			if v, ok := t.Vector(tok); ok {
				rec.Vector = v
			}
			if w, ok := t.IDF(tok); ok {
				rec.IDF = &w
			}
			if err := s.UpsertToken(rec); err != nil {
				return fmt.Errorf("store: token %s: %w", tok, err)
			}
		}
	}
	return nil
}

// LoadCatalog rebuilds a sealed catalog from s.
func LoadCatalog(s Storer) (*catalog.Catalog, error) {
	c := catalog.New()

	ids, err := s.ListEntityIDs()
	if err != nil {
		return nil, fmt.Errorf("store: list entities: %w", err)
	}
	for _, id := range ids {
		e, err := s.GetEntity(id)
		if err != nil {
			return nil, fmt.Errorf("store: entity %s: %w", id, err)
		}
		if e == nil {
			continue
		}
		// Objective values are replayed below to rebuild the schema.
		e.Objective = nil
		if err := c.AddEntity(e); err != nil {
			return nil, err
		}
	}

	objective, err := s.ListObjective()
	if err != nil {
		return nil, fmt.Errorf("store: list objective: %w", err)
	}
	for _, rec := range objective {
		v, err := catalog.ParseValue(rec.Type, rec.Value)
		if err != nil {
			return nil, fmt.Errorf("store: objective %s.%s: %w", rec.EntityID, rec.Attribute, err)
		}
		if err := c.SetObjective(rec.EntityID, rec.Attribute, v); err != nil {
			return nil, err
		}
	}

	reviews, err := s.ListReviews()
	if err != nil {
		return nil, fmt.Errorf("store: list reviews: %w", err)
	}
	for _, r := range reviews {
		if err := c.AddReview(*r); err != nil {
			return nil, err
		}
	}

	sentiments, err := s.ListPhraseSentiments()
	if err != nil {
		return nil, fmt.Errorf("store: list phrase sentiment: %w", err)
	}
	for phrase, v := range sentiments {
		if err := c.SetPhraseSentiment(phrase, v); err != nil {
			return nil, err
		}
	}

	labels, err := s.ListLabels()
	if err != nil {
		return nil, fmt.Errorf("store: list labels: %w", err)
	}
	for _, l := range labels {
		if err := c.AddLabel(*l); err != nil {
			return nil, err
		}
	}

	tokens, err := s.ListTokens()
	if err != nil {
		return nil, fmt.Errorf("store: list tokens: %w", err)
	}
	if len(tokens) > 0 {
		dim := 0
		for _, t := range tokens {
			if len(t.Vector) > 0 {
				dim = len(t.Vector)
				break
			}
		}
		table := embedding.NewTable(dim)
		for _, t := range tokens {
			if t.Vector != nil {
				if err := table.SetVector(t.Token, t.Vector); err != nil {
					return nil, fmt.Errorf("store: %w", err)
				}
			}
			if t.IDF != nil {
				if err := table.SetIDF(t.Token, *t.IDF); err != nil {
					return nil, fmt.Errorf("store: %w", err)
				}
			}
		}
		c.Embeddings = table
	}

	c.Seal()
	return c, nil
}
