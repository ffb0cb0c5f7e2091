package catalog

import "errors"

var (
	// ErrUnknownEntity is returned when an entity id is not in the catalog.
	ErrUnknownEntity = errors.New("catalog: unknown entity")

	// ErrUnknownType is returned for an objective type tag other than bool, cate or num.
	ErrUnknownType = errors.New("catalog: unknown attribute type")

	// ErrBadValue is returned when an objective value does not parse as its type.
	ErrBadValue = errors.New("catalog: bad attribute value")

	// ErrTypeConflict is returned when an attribute is set with two different types.
	ErrTypeConflict = errors.New("catalog: attribute type conflict")

	// ErrSealed is returned when a sealed catalog is modified.
	ErrSealed = errors.New("catalog: sealed")

	// ErrBadHeader is returned for a malformed objective CSV header.
	ErrBadHeader = errors.New("catalog: bad objective header")
)
