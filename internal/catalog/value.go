package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Type tags an objective attribute.
type Type string

const (
	Bool Type = "bool"
	Cate Type = "cate"
	Num  Type = "num"
)

// ParseType validates a type tag.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Bool, Cate, Num:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Value is an objective attribute value: BoolValue, CateValue or NumValue.
type Value interface {
	Type() Type
	String() string
}

// BoolValue is a boolean attribute value.
type BoolValue bool

func (BoolValue) Type() Type       { return Bool }
func (v BoolValue) String() string { return strconv.FormatBool(bool(v)) }

// CateValue is a categorical attribute value. Case is preserved.
type CateValue string

func (CateValue) Type() Type       { return Cate }
func (v CateValue) String() string { return string(v) }

// NumValue is a numeric attribute value.
type NumValue float64

func (NumValue) Type() Type       { return Num }
func (v NumValue) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }

// ParseValue decodes raw text as a value of type t. Bool accepts true/false
// in any case.
func ParseValue(t Type, raw string) (Value, error) {
	switch t {
	case Bool:
		switch strings.ToLower(raw) {
		case "true":
			return BoolValue(true), nil
		case "false":
			return BoolValue(false), nil
		}
		return nil, fmt.Errorf("%w: %q is not a boolean", ErrBadValue, raw)
	case Cate:
		return CateValue(raw), nil
	case Num:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrBadValue, raw)
		}
		return NumValue(f), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}
