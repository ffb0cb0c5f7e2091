package query

import "errors"

var (
	// ErrMalformedPredicate is returned for a structured term that does not
	// match "<type>:<attribute> <op> <operand>".
	ErrMalformedPredicate = errors.New("query: malformed predicate")

	// ErrUnknownType is returned for a type tag other than bool, cate or num.
	ErrUnknownType = errors.New("query: unknown predicate type")
)
