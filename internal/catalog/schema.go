package catalog

import "slices"

// AttrSchema describes one objective attribute.
type AttrSchema struct {
	Type Type
	// Values holds the observed categorical values in first-seen order.
	Values []string
	// Min and Max bound the observed numeric values.
	Min, Max float64
}

// Schema describes the objective attributes of a catalog, with a global index
// over every categorical value that sizes the one-hot feature block.
type Schema struct {
	attrs      map[string]*AttrSchema
	order      []string
	cateIndex  map[string]int
	cateValues []string
}

func newSchema() *Schema {
	return &Schema{
		attrs:     make(map[string]*AttrSchema),
		cateIndex: make(map[string]int),
	}
}

// Len returns the number of objective attributes.
func (s *Schema) Len() int { return len(s.order) }

// Attributes returns attribute names in first-seen order.
func (s *Schema) Attributes() []string {
	return append([]string(nil), s.order...)
}

// Attribute returns the schema entry of name.
func (s *Schema) Attribute(name string) (AttrSchema, bool) {
	a, ok := s.attrs[name]
	if !ok {
		return AttrSchema{}, false
	}
	return *a, true
}

// NumCategories returns the size of the global categorical index.
func (s *Schema) NumCategories() int { return len(s.cateValues) }

// CategoryIndex returns the position of a categorical value in the global index.
func (s *Schema) CategoryIndex(v string) (int, bool) {
	i, ok := s.cateIndex[v]
	return i, ok
}

// Categories returns the global categorical index in order.
func (s *Schema) Categories() []string {
	return append([]string(nil), s.cateValues...)
}

func (s *Schema) observe(attr string, v Value) error {
	a, ok := s.attrs[attr]
	if !ok {
		a = &AttrSchema{Type: v.Type()}
		if n, isNum := v.(NumValue); isNum {
			a.Min, a.Max = float64(n), float64(n)
		}
		s.attrs[attr] = a
		s.order = append(s.order, attr)
	} else if a.Type != v.Type() {
		return ErrTypeConflict
	}

	switch val := v.(type) {
	case CateValue:
		str := string(val)
		if !slices.Contains(a.Values, str) {
			a.Values = append(a.Values, str)
		}
		if _, ok := s.cateIndex[str]; !ok {
			s.cateIndex[str] = len(s.cateValues)
			s.cateValues = append(s.cateValues, str)
		}
	case NumValue:
		f := float64(val)
		if f < a.Min {
			a.Min = f
		}
		if f > a.Max {
			a.Max = f
		}
	}
	return nil
}
