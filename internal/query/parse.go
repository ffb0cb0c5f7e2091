// Package query splits query terms into free-text subjective terms and typed
// objective predicates.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
)

// Op is a comparison operator.
type Op string

const (
	Eq Op = "="
	Lt Op = "<"
	Gt Op = ">"
)

// Query is a parsed list of terms.
type Query struct {
	// Subjective holds the free-text terms in input order.
	Subjective []string
	// Objective holds the predicates in input order.
	Objective []Predicate
}

// IsPredicate reports whether term uses the structured grammar.
func IsPredicate(term string) bool {
	return strings.Contains(term, ":")
}

// Parse splits terms. Subjective terms are kept verbatim.
func Parse(terms []string) (Query, error) {
	var q Query
	for _, term := range terms {
		if !IsPredicate(term) {
			q.Subjective = append(q.Subjective, term)
			continue
		}
		p, err := ParsePredicate(term)
		if err != nil {
			return Query{}, err
		}
		q.Objective = append(q.Objective, p)
	}
	return q, nil
}

// ParsePredicate parses "<type>:<attribute> <op> <operand>". Fields are
// separated by exactly one space.
func ParsePredicate(term string) (Predicate, error) {
	if strings.ContainsAny(term, "\t\n\r\v\f") {
		return nil, fmt.Errorf("%w: %q: unexpected whitespace", ErrMalformedPredicate, term)
	}
	fields := strings.Split(term, " ")
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: %q: want 3 fields, got %d", ErrMalformedPredicate, term, len(fields))
	}
	for _, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("%w: %q: empty field", ErrMalformedPredicate, term)
		}
	}

	typ, attr, ok := strings.Cut(fields[0], ":")
	if !ok || typ == "" || attr == "" {
		return nil, fmt.Errorf("%w: %q: bad <type>:<attribute>", ErrMalformedPredicate, term)
	}
	op, operand := Op(fields[1]), fields[2]

	switch catalog.Type(typ) {
	case catalog.Bool:
		if op != Eq {
			return nil, fmt.Errorf("%w: %q: bool takes =", ErrMalformedPredicate, term)
		}
		var want bool
		switch strings.ToLower(operand) {
		case "true":
			want = true
		case "false":
			want = false
		default:
			return nil, fmt.Errorf("%w: %q: operand must be true or false", ErrMalformedPredicate, term)
		}
		return BoolPredicate{Attr: attr, Want: want}, nil

	case catalog.Cate:
		if op != Eq {
			return nil, fmt.Errorf("%w: %q: cate takes =", ErrMalformedPredicate, term)
		}
		return CatePredicate{Attr: attr, Want: operand}, nil

	case catalog.Num:
		if op != Lt && op != Gt {
			return nil, fmt.Errorf("%w: %q: num takes < or >", ErrMalformedPredicate, term)
		}
		bound, err := strconv.ParseFloat(operand, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: operand is not a number", ErrMalformedPredicate, term)
		}
		return NumPredicate{Attr: attr, Op: op, Bound: bound}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
}
