package membership

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"slices"

	"github.com/hack-pad/hackpadfs"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
)

// SaveModels writes m as JSON to name on fs, creating parent directories.
func SaveModels(fs hackpadfs.FS, name string, m *Models) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("membership: encode models: %w", err)
	}
	if dir := path.Dir(name); dir != "." {
		if err := hackpadfs.MkdirAll(fs, dir, 0o755); err != nil {
			return fmt.Errorf("membership: create %s: %w", dir, err)
		}
	}
	if err := hackpadfs.WriteFullFile(fs, name, data, 0o644); err != nil {
		return fmt.Errorf("membership: write models: %w", err)
	}
	return nil
}

// LoadModels reads models written by SaveModels.
func LoadModels(fs hackpadfs.FS, name string) (*Models, error) {
	data, err := hackpadfs.ReadFile(fs, name)
	if err != nil {
		return nil, fmt.Errorf("membership: read models: %w", err)
	}
	var m Models
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("membership: decode models: %w", err)
	}
	if m.Marker == nil || m.Histogram == nil {
		return nil, fmt.Errorf("%w: incomplete model file %s", ErrNoModel, name)
	}
	return &m, nil
}

// Check verifies that the models were trained on the feature layout of x.
func (m *Models) Check(x *Extractor) error {
	if m.Objective != x.objective {
		return fmt.Errorf("%w: trained with objective=%t, catalog has objective=%t",
			ErrModelShape, m.Objective, x.objective)
	}
	if got, want := m.Marker.Dim(), x.Width(ModeMarker); got != want {
		return fmt.Errorf("%w: marker model has %d weights, want %d", ErrModelShape, got, want)
	}
	if got, want := m.Histogram.Dim(), x.Width(ModeHistogram); got != want {
		return fmt.Errorf("%w: histogram model has %d weights, want %d", ErrModelShape, got, want)
	}
	return nil
}

// Fingerprint hashes what trained models depend on besides feature width:
// the entity ids, the objective values, the categorical index order and the
// labels. Assignment and label order does not matter.
func Fingerprint(cat *catalog.Catalog) string {
	h := sha256.New()
	for _, id := range cat.IDs() {
		fmt.Fprintf(h, "entity %q\n", id)
	}

	var lines []string
	for _, a := range cat.Assignments() {
		lines = append(lines, fmt.Sprintf("value %q %q %s %q\n", a.EntityID, a.Attribute, a.Value.Type(), a.Value.String()))
	}
	slices.Sort(lines)
	for _, l := range lines {
		h.Write([]byte(l))
	}

	for i, v := range cat.Schema().Categories() {
		fmt.Fprintf(h, "category %d %q\n", i, v)
	}

	lines = lines[:0]
	for _, l := range cat.Labels() {
		lines = append(lines, fmt.Sprintf("label %q %q %t\n", l.EntityID, l.Term, l.Relevant))
	}
	slices.Sort(lines)
	for _, l := range lines {
		h.Write([]byte(l))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CheckCatalog verifies that the models were trained on cat.
func (m *Models) CheckCatalog(cat *catalog.Catalog) error {
	if m.Catalog != Fingerprint(cat) {
		return ErrStaleModel
	}
	return nil
}
