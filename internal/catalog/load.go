package catalog

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hack-pad/hackpadfs"

	"github.com/Kelaxon/opinedb-public/pkg/embedding"
)

// Files names the input files of a catalog on a filesystem. Empty names are
// skipped, except Entities which is required.
type Files struct {
	Entities  string `mapstructure:"entities" yaml:"entities"`
	Reviews   string `mapstructure:"reviews" yaml:"reviews"`
	Sentiment string `mapstructure:"sentiment" yaml:"sentiment"`
	Word2Vec  string `mapstructure:"word2vec" yaml:"word2vec"`
	IDF       string `mapstructure:"idf" yaml:"idf"`
	Labels    string `mapstructure:"labels" yaml:"labels"`
	Objective string `mapstructure:"objective" yaml:"objective"`
	// Restrict optionally names a JSON list of {"business_id": ...} rows
	// limiting the catalog to those entities.
	Restrict string `mapstructure:"restrict" yaml:"restrict"`
}

// Load reads every file in files from fs and returns a sealed catalog.
func Load(fs hackpadfs.FS, files Files) (*Catalog, error) {
	if files.Entities == "" {
		return nil, errors.New("catalog: no entities file")
	}
	c := New()

	steps := []struct {
		path string
		read func(io.Reader) error
	}{
		{files.Entities, c.ReadEntities},
		{files.Restrict, c.readRestrict},
		{files.Reviews, c.ReadReviews},
		{files.Sentiment, c.ReadPhraseSentiments},
		{files.Labels, c.ReadLabels},
		{files.Objective, c.ReadObjective},
		{files.Word2Vec, c.readWord2Vec},
		{files.IDF, c.readIDF},
	}
	for _, st := range steps {
		if st.path == "" {
			continue
		}
		if err := readFile(fs, st.path, st.read); err != nil {
			return nil, err
		}
	}

	c.Seal()
	return c, nil
}

func readFile(fs hackpadfs.FS, path string, read func(io.Reader) error) error {
	data, err := hackpadfs.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("catalog: read %s: %w", path, err)
	}
	if err := read(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("catalog: %s: %w", path, err)
	}
	return nil
}

// ReadEntities decodes a JSON object of id -> {histogram, summaries}.
func (c *Catalog) ReadEntities(r io.Reader) error {
	var raw map[string]*Entity
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return fmt.Errorf("decode entities: %w", err)
	}
	for id, e := range raw {
		if e == nil {
			e = &Entity{}
		}
		e.ID = id
		if err := c.AddEntity(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) readRestrict(r io.Reader) error {
	var rows []struct {
		ID string `json:"business_id"`
	}
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return fmt.Errorf("decode entity list: %w", err)
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return c.Restrict(ids)
}

// UnmarshalJSON accepts the review body under either "text" or "review".
func (r *Review) UnmarshalJSON(data []byte) error {
	type plain Review
	var raw struct {
		plain
		Body string `json:"review"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Review(raw.plain)
	if r.Text == "" {
		r.Text = raw.Body
	}
	return nil
}

// ReadReviews decodes a JSON list of reviews. Reviews of entities not in the
// catalog are dropped.
func (c *Catalog) ReadReviews(r io.Reader) error {
	var reviews []Review
	if err := json.NewDecoder(r).Decode(&reviews); err != nil {
		return fmt.Errorf("decode reviews: %w", err)
	}
	for _, rv := range reviews {
		if _, ok := c.entities[rv.EntityID]; !ok && rv.EntityID != "" {
			continue
		}
		if err := c.AddReview(rv); err != nil {
			return err
		}
	}
	return nil
}

// ReadPhraseSentiments decodes a JSON object of phrase -> sentiment.
func (c *Catalog) ReadPhraseSentiments(r io.Reader) error {
	var raw map[string]float64
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return fmt.Errorf("decode phrase sentiment: %w", err)
	}
	for phrase, s := range raw {
		if err := c.SetPhraseSentiment(phrase, s); err != nil {
			return err
		}
	}
	return nil
}

// ReadLabels decodes a JSON list of [entity_id, _, term, "yes"|"no"] rows.
// Rows for unknown entities are dropped.
func (c *Catalog) ReadLabels(r io.Reader) error {
	var rows [][]json.RawMessage
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return fmt.Errorf("decode labels: %w", err)
	}
	for i, row := range rows {
		if len(row) < 4 {
			return fmt.Errorf("label %d: want 4 fields, got %d", i, len(row))
		}
		var id, term, verdict string
		for _, f := range []struct {
			raw json.RawMessage
			dst *string
		}{{row[0], &id}, {row[2], &term}, {row[3], &verdict}} {
			if err := json.Unmarshal(f.raw, f.dst); err != nil {
				return fmt.Errorf("label %d: %w", i, err)
			}
		}
		if _, ok := c.entities[id]; !ok {
			continue
		}
		if err := c.AddLabel(Label{EntityID: id, Term: term, Relevant: verdict == "yes"}); err != nil {
			return err
		}
	}
	return nil
}

// ReadObjective reads a CSV with an ID column and "type:attr" columns.
// Rows for unknown entities and empty cells are skipped. Bool values are
// lower-cased; categorical values keep their case.
func (c *Catalog) ReadObjective(r io.Reader) error {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read objective header: %w", err)
	}

	type column struct {
		typ  Type
		attr string
	}
	idCol := -1
	cols := make([]column, len(header))
	for i, h := range header {
		if h == "ID" {
			idCol = i
			continue
		}
		typ, attr, ok := strings.Cut(h, ":")
		if !ok || attr == "" {
			return fmt.Errorf("%w: column %q", ErrBadHeader, h)
		}
		t, err := ParseType(typ)
		if err != nil {
			return fmt.Errorf("column %q: %w", h, err)
		}
		cols[i] = column{typ: t, attr: attr}
	}
	if idCol < 0 {
		return fmt.Errorf("%w: no ID column", ErrBadHeader)
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read objective row: %w", err)
		}
		id := rec[idCol]
		if _, ok := c.entities[id]; !ok {
			continue
		}
		for i, raw := range rec {
			if i == idCol || raw == "" {
				continue
			}
			v, err := ParseValue(cols[i].typ, raw)
			if err != nil {
				return fmt.Errorf("entity %s, %s: %w", id, cols[i].attr, err)
			}
			if err := c.SetObjective(id, cols[i].attr, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Catalog) readWord2Vec(r io.Reader) error {
	t, err := embedding.ReadWord2Vec(r)
	if err != nil {
		return err
	}
	c.Embeddings = t
	return nil
}

func (c *Catalog) readIDF(r io.Reader) error {
	if c.Embeddings == nil {
		c.Embeddings = embedding.NewTable(0)
	}
	return c.Embeddings.ReadIDF(r)
}
