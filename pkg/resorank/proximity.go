package resorank

// MinDistance returns the smallest |p1 - p2| over the two position lists, or
// -1 when either list is empty.
func MinDistance(positions1, positions2 []int) int {
	result := -1
	for _, p1 := range positions1 {
		for _, p2 := range positions2 {
			d := p1 - p2
			if d < 0 {
				d = -d
			}
			if result < 0 || d < result {
				result = d
			}
		}
	}
	return result
}

// TokenGap returns the minimal distance between any token of phrase1 and any
// token of phrase2 inside document doc, or -1 when they do not co-occur.
func (s *Scorer) TokenGap(doc int, phrase1, phrase2 []string) int {
	return MinDistance(s.collect(doc, phrase1), s.collect(doc, phrase2))
}

func (s *Scorer) collect(doc int, tokens []string) []int {
	var out []int
	for _, tok := range tokens {
		out = append(out, s.Positions(doc, tok)...)
	}
	return out
}
