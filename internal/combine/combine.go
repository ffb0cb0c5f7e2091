// Package combine folds objective predicates into per-entity scores.
package combine

import (
	"errors"
	"fmt"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/query"
)

// Policy names a combination policy.
type Policy string

const (
	// Sensitive scores each predicate together with each subjective term.
	Sensitive Policy = "sensitive"
	// Agnostic applies closed-form penalties independent of the terms.
	Agnostic Policy = "agnostic"
	// Boolean treats predicates as a hard filter.
	Boolean Policy = "boolean"
	// Ignore leaves scores untouched.
	Ignore Policy = "ignore"
)

// ErrUnknownPolicy is returned by ParsePolicy.
var ErrUnknownPolicy = errors.New("combine: unknown policy")

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case Sensitive, Agnostic, Boolean, Ignore:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Config holds the policy constants.
type Config struct {
	BoolPenalty float64 `mapstructure:"bool_penalty" yaml:"bool_penalty"`
	CatePenalty float64 `mapstructure:"cate_penalty" yaml:"cate_penalty"`
	// BooleanFactor multiplies the score of an entity violating a predicate
	// under the boolean policy.
	BooleanFactor float64 `mapstructure:"boolean_factor" yaml:"boolean_factor"`
}

// DefaultConfig returns the default constants.
func DefaultConfig() Config {
	return Config{
		BoolPenalty:   0.5,
		CatePenalty:   0.3,
		BooleanFactor: 1e-15,
	}
}

// Term is an interpreted subjective term.
type Term struct {
	Text      string
	Attribute string
}

// MembershipFunc scores an entity for an interpreted term in the context of
// an objective predicate.
type MembershipFunc func(entityID, attr, term string, pred query.Predicate) float64

// Combiner applies a policy to one entity at a time.
type Combiner struct {
	cfg    Config
	schema *catalog.Schema
}

// New creates a combiner for entities described by schema.
func New(schema *catalog.Schema, cfg Config) *Combiner {
	return &Combiner{cfg: cfg, schema: schema}
}

// Apply multiplies score by the factors policy assigns to e for preds and
// returns the result. membership is only used by the sensitive policy.
func (c *Combiner) Apply(policy Policy, score float64, e *catalog.Entity, preds []query.Predicate, terms []Term, membership MembershipFunc) (float64, error) {
	switch policy {
	case Sensitive:
		for _, p := range preds {
			for _, t := range terms {
				score *= membership(e.ID, t.Attribute, t.Text, p)
			}
		}
	case Agnostic:
		pen := query.Penalties{Bool: c.cfg.BoolPenalty, Cate: c.cfg.CatePenalty}
		for _, p := range preds {
			if v, ok := e.Value(p.Attribute()); ok {
				score *= p.Penalty(v, c.schema, pen)
			}
		}
	case Boolean:
		for _, p := range preds {
			if v, ok := e.Value(p.Attribute()); ok && !p.Satisfied(v) {
				score *= c.cfg.BooleanFactor
			}
		}
	case Ignore:
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, string(policy))
	}
	return score, nil
}
