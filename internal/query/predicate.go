package query

import (
	"math"
	"strconv"
	"strings"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
)

// Predicate is an objective condition on one attribute. The three
// implementations are BoolPredicate, CatePredicate and NumPredicate.
type Predicate interface {
	Attribute() string
	Type() catalog.Type

	// Satisfied reports whether v meets the predicate. A value of another
	// type never does.
	Satisfied(v catalog.Value) bool

	// Penalty returns the closed-form multiplier of the context-agnostic
	// policy, in (0, 1].
	Penalty(v catalog.Value, schema *catalog.Schema, p Penalties) float64

	// Encode writes the objective feature block for an entity holding v.
	// block must be zeroed and BlockSize(schema) long.
	Encode(block []float64, v catalog.Value, schema *catalog.Schema)

	// String returns the canonical term, used as a cache key.
	String() string
}

// Penalties are the fixed multipliers of the context-agnostic policy.
type Penalties struct {
	Bool float64
	Cate float64
}

// BlockSize returns the length of the objective feature block:
// [boolDisagree] ++ one-hot over the categorical index ++ [absDiff, relDiff].
func BlockSize(schema *catalog.Schema) int {
	return 1 + schema.NumCategories() + 2
}

// BoolPredicate is "bool:<attr> = true|false".
type BoolPredicate struct {
	Attr string
	Want bool
}

func (p BoolPredicate) Attribute() string  { return p.Attr }
func (p BoolPredicate) Type() catalog.Type { return catalog.Bool }

func (p BoolPredicate) Satisfied(v catalog.Value) bool {
	b, ok := v.(catalog.BoolValue)
	return ok && bool(b) == p.Want
}

func (p BoolPredicate) Penalty(v catalog.Value, _ *catalog.Schema, pen Penalties) float64 {
	if p.Satisfied(v) {
		return 1
	}
	return pen.Bool
}

func (p BoolPredicate) Encode(block []float64, v catalog.Value, _ *catalog.Schema) {
	if !p.Satisfied(v) {
		block[0] = 1
	}
}

func (p BoolPredicate) String() string {
	return "bool:" + p.Attr + " = " + strconv.FormatBool(p.Want)
}

// CatePredicate is "cate:<attr> = <value>". Values compare case-sensitively.
type CatePredicate struct {
	Attr string
	Want string
}

func (p CatePredicate) Attribute() string  { return p.Attr }
func (p CatePredicate) Type() catalog.Type { return catalog.Cate }

func (p CatePredicate) Satisfied(v catalog.Value) bool {
	c, ok := v.(catalog.CateValue)
	return ok && string(c) == p.Want
}

func (p CatePredicate) Penalty(v catalog.Value, _ *catalog.Schema, pen Penalties) float64 {
	if p.Satisfied(v) {
		return 1
	}
	return pen.Cate
}

// Encode adds +1 at the entity's value and -1 at the operand. An operand
// outside the categorical index contributes nothing.
func (p CatePredicate) Encode(block []float64, v catalog.Value, schema *catalog.Schema) {
	if c, ok := v.(catalog.CateValue); ok {
		if i, ok := schema.CategoryIndex(string(c)); ok {
			block[1+i]++
		}
	}
	if i, ok := schema.CategoryIndex(p.Want); ok {
		block[1+i]--
	}
}

func (p CatePredicate) String() string {
	return "cate:" + p.Attr + " = " + p.Want
}

// NumPredicate is "num:<attr> < x" or "num:<attr> > x".
type NumPredicate struct {
	Attr  string
	Op    Op
	Bound float64
}

func (p NumPredicate) Attribute() string  { return p.Attr }
func (p NumPredicate) Type() catalog.Type { return catalog.Num }

func (p NumPredicate) Satisfied(v catalog.Value) bool {
	n, ok := v.(catalog.NumValue)
	if !ok {
		return false
	}
	if p.Op == Lt {
		return float64(n) < p.Bound
	}
	return float64(n) > p.Bound
}

// Penalty returns sigmoid((bound - value) / (range + 1)) for "<" and the
// mirrored value for ">", kept strictly inside (0, 1).
func (p NumPredicate) Penalty(v catalog.Value, schema *catalog.Schema, _ Penalties) float64 {
	n, ok := v.(catalog.NumValue)
	if !ok {
		return 1
	}
	diff := (p.Bound - float64(n)) / (p.span(schema) + 1)
	if p.Op == Gt {
		diff = -diff
	}
	return clampOpen(sigmoid(diff))
}

// Encode writes the violation amount and its range-normalized form; both
// are 0 when the predicate holds.
func (p NumPredicate) Encode(block []float64, v catalog.Value, schema *catalog.Schema) {
	n, ok := v.(catalog.NumValue)
	if !ok {
		return
	}
	abs := float64(n) - p.Bound
	if p.Op == Gt {
		abs = -abs
	}
	if abs < 0 {
		abs = 0
	}
	k := len(block)
	block[k-2] = abs
	block[k-1] = abs / (p.span(schema) + 1)
}

func (p NumPredicate) span(schema *catalog.Schema) float64 {
	if schema == nil {
		return 0
	}
	a, ok := schema.Attribute(p.Attr)
	if !ok {
		return 0
	}
	return a.Max - a.Min
}

func (p NumPredicate) String() string {
	return "num:" + p.Attr + " " + string(p.Op) + " " + strconv.FormatFloat(p.Bound, 'g', -1, 64)
}

const openEps = 1e-15

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clampOpen(x float64) float64 {
	if x < openEps {
		return openEps
	}
	if x > 1-openEps {
		return 1 - openEps
	}
	return x
}

// Canonical returns the canonical form of a term: predicates are
// re-rendered, free text is lower-cased.
func Canonical(term string) (string, error) {
	if !IsPredicate(term) {
		return strings.ToLower(term), nil
	}
	p, err := ParsePredicate(term)
	if err != nil {
		return "", err
	}
	return p.String(), nil
}
