package eval

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/hack-pad/hackpadfs"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
)

// ReadQueryTerms reads one subjective query term per line, lower-cased.
// Blank lines are skipped.
func ReadQueryTerms(fs hackpadfs.FS, name string) ([]string, error) {
	data, err := hackpadfs.ReadFile(fs, name)
	if err != nil {
		return nil, fmt.Errorf("eval: read query terms: %w", err)
	}
	var terms []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			terms = append(terms, strings.ToLower(line))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("eval: read query terms: %w", err)
	}
	return terms, nil
}

// Generate draws n queries of numSubjective terms, drawn with replacement,
// followed by numObjective random predicates over the schema's attributes.
// Categorical values containing spaces cannot be written as predicates and
// are never drawn; an attribute with no usable value yields no predicate.
func Generate(rng *rand.Rand, terms []string, schema *catalog.Schema, n, numSubjective, numObjective int) [][]string {
	var attrs []string
	if schema != nil {
		attrs = schema.Attributes()
	}
	out := make([][]string, 0, n)
	for range n {
		q := make([]string, 0, numSubjective+numObjective)
		if len(terms) > 0 {
			for range numSubjective {
				q = append(q, terms[rng.IntN(len(terms))])
			}
		}
		if len(attrs) > 0 {
			for range numObjective {
				name := attrs[rng.IntN(len(attrs))]
				a, _ := schema.Attribute(name)
				if p, ok := randomPredicate(rng, name, a); ok {
					q = append(q, p)
				}
			}
		}
		out = append(out, q)
	}
	return out
}

func randomPredicate(rng *rand.Rand, name string, a catalog.AttrSchema) (string, bool) {
	switch a.Type {
	case catalog.Bool:
		val := "False"
		if rng.IntN(2) == 1 {
			val = "True"
		}
		return "bool:" + name + " = " + val, true
	case catalog.Cate:
		var values []string
		for _, v := range a.Values {
			if v != "" && !strings.ContainsAny(v, " \t\n\r\v\f") {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return "", false
		}
		return "cate:" + name + " = " + values[rng.IntN(len(values))], true
	default:
		op := "<"
		if rng.IntN(2) == 1 {
			op = ">"
		}
		lo, hi := int(a.Min), int(a.Max)
		bound := lo + rng.IntN(hi-lo+1)
		return "num:" + name + " " + op + " " + strconv.Itoa(bound), true
	}
}
