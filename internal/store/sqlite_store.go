package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
)

// SQLiteStore is the SQLite-backed catalog store.
// Vectors are stored as sqlite-vec float32 blobs.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// schema defines all tables of a catalog file.
const schema = `
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY
);

-- Phrase histograms per subjective attribute
CREATE TABLE IF NOT EXISTS histograms (
    entity_id TEXT NOT NULL,
    attribute TEXT NOT NULL,
    phrase TEXT NOT NULL,
    count REAL NOT NULL,
    PRIMARY KEY (entity_id, attribute, phrase)
);

-- Markers; ordinal keeps the input order of a summary
CREATE TABLE IF NOT EXISTS markers (
    entity_id TEXT NOT NULL,
    attribute TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    verbalized TEXT NOT NULL,
    sum_senti REAL NOT NULL,
    size INTEGER NOT NULL,
    center BLOB,
    PRIMARY KEY (entity_id, attribute, ordinal)
);

-- Objective assignments in load order
CREATE TABLE IF NOT EXISTS objective (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_id TEXT NOT NULL,
    attribute TEXT NOT NULL,
    type TEXT NOT NULL,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_objective_entity ON objective(entity_id);

CREATE TABLE IF NOT EXISTS reviews (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    review_id TEXT NOT NULL,
    business_id TEXT,
    text TEXT NOT NULL,
    sentiment REAL,
    extractions TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS phrase_sentiment (
    phrase TEXT PRIMARY KEY,
    sentiment REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS labels (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_id TEXT NOT NULL,
    term TEXT NOT NULL,
    relevant INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
    token TEXT PRIMARY KEY,
    idf REAL,
    vec BLOB
);
`

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Entities
// =============================================================================

// UpsertEntity replaces the histograms and summaries of an entity.
func (s *SQLiteStore) UpsertEntity(entity *catalog.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO entities (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, entity.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM histograms WHERE entity_id = ?`, entity.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM markers WHERE entity_id = ?`, entity.ID); err != nil {
		return err
	}

	for attr, h := range entity.Histograms {
		for phrase, count := range h {
			if _, err := tx.Exec(`
				INSERT INTO histograms (entity_id, attribute, phrase, count) VALUES (?, ?, ?, ?)
			`, entity.ID, attr, phrase, count); err != nil {
				return err
			}
		}
	}

	for attr, markers := range entity.Summaries {
		for i, m := range markers {
			blob, err := vectorBlob(m.Center)
			if err != nil {
				return fmt.Errorf("failed to serialize marker center: %w", err)
			}
			if _, err := tx.Exec(`
				INSERT INTO markers (entity_id, attribute, ordinal, verbalized, sum_senti, size, center)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, entity.ID, attr, i, m.Verbalized, m.SumSentiment, m.Size, nullable(blob)); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// GetEntity retrieves an entity by ID, nil when it does not exist.
func (s *SQLiteStore) GetEntity(id string) (*catalog.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found string
	err := s.db.QueryRow(`SELECT id FROM entities WHERE id = ?`, id).Scan(&found)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entity := &catalog.Entity{
		ID:         id,
		Histograms: make(map[string]map[string]float64),
		Summaries:  make(map[string][]catalog.Marker),
		Objective:  make(map[string]catalog.Value),
	}

	rows, err := s.db.Query(`SELECT attribute, phrase, count FROM histograms WHERE entity_id = ?`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var attr, phrase string
		var count float64
		if err := rows.Scan(&attr, &phrase, &count); err != nil {
			rows.Close()
			return nil, err
		}
		if entity.Histograms[attr] == nil {
			entity.Histograms[attr] = make(map[string]float64)
		}
		entity.Histograms[attr][phrase] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`
		SELECT attribute, verbalized, sum_senti, size,
			CASE WHEN center IS NULL THEN NULL ELSE vec_to_json(center) END
		FROM markers WHERE entity_id = ? ORDER BY attribute, ordinal
	`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var attr string
		var m catalog.Marker
		var center sql.NullString
		if err := rows.Scan(&attr, &m.Verbalized, &m.SumSentiment, &m.Size, &center); err != nil {
			rows.Close()
			return nil, err
		}
		if m.Center, err = parseVector(center); err != nil {
			rows.Close()
			return nil, err
		}
		entity.Summaries[attr] = append(entity.Summaries[attr], m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT attribute, type, value FROM objective WHERE entity_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var attr, typ, raw string
		if err := rows.Scan(&attr, &typ, &raw); err != nil {
			return nil, err
		}
		v, err := catalog.ParseValue(catalog.Type(typ), raw)
		if err != nil {
			return nil, err
		}
		entity.Objective[attr] = v
	}
	return entity, rows.Err()
}

// DeleteEntity removes an entity and everything attached to it.
func (s *SQLiteStore) DeleteEntity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range []string{
		"DELETE FROM entities WHERE id = ?",
		"DELETE FROM histograms WHERE entity_id = ?",
		"DELETE FROM markers WHERE entity_id = ?",
		"DELETE FROM objective WHERE entity_id = ?",
	} {
		if _, err := s.db.Exec(q, id); err != nil {
			return err
		}
	}
	return nil
}

// ListEntityIDs returns all entity ids, sorted.
func (s *SQLiteStore) ListEntityIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id FROM entities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountEntities returns the total number of entities.
func (s *SQLiteStore) CountEntities() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM entities").Scan(&count)
	return count, err
}

// =============================================================================
// Objective values
// =============================================================================

// AppendObjective records an objective value; rec.Seq is set on return.
func (s *SQLiteStore) AppendObjective(rec *ObjectiveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO objective (entity_id, attribute, type, value) VALUES (?, ?, ?, ?)
	`, rec.EntityID, rec.Attribute, string(rec.Type), rec.Value)
	if err != nil {
		return err
	}
	rec.Seq, err = res.LastInsertId()
	return err
}

// ListObjective returns objective values in assignment order.
func (s *SQLiteStore) ListObjective() ([]*ObjectiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT seq, entity_id, attribute, type, value FROM objective ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ObjectiveRecord
	for rows.Next() {
		var rec ObjectiveRecord
		var typ string
		if err := rows.Scan(&rec.Seq, &rec.EntityID, &rec.Attribute, &typ, &rec.Value); err != nil {
			return nil, err
		}
		rec.Type = catalog.Type(typ)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// =============================================================================
// Reviews
// =============================================================================

// AppendReview stores a review after the existing ones.
func (s *SQLiteStore) AppendReview(review *catalog.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	extractions, err := json.Marshal(review.Extractions)
	if err != nil {
		return fmt.Errorf("failed to marshal extractions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO reviews (review_id, business_id, text, sentiment, extractions)
		VALUES (?, ?, ?, ?, ?)
	`, review.ID, review.EntityID, review.Text, review.Sentiment, string(extractions))
	return err
}

// ListReviews returns reviews in insertion order.
func (s *SQLiteStore) ListReviews() ([]*catalog.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT review_id, business_id, text, sentiment, extractions FROM reviews ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*catalog.Review
	for rows.Next() {
		var r catalog.Review
		var business sql.NullString
		var sentiment sql.NullFloat64
		var extractions string
		if err := rows.Scan(&r.ID, &business, &r.Text, &sentiment, &extractions); err != nil {
			return nil, err
		}
		r.EntityID = business.String
		if sentiment.Valid {
			v := sentiment.Float64
			r.Sentiment = &v
		}
		if err := json.Unmarshal([]byte(extractions), &r.Extractions); err != nil {
			return nil, fmt.Errorf("review %s: bad extractions: %w", r.ID, err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CountReviews returns the total number of reviews.
func (s *SQLiteStore) CountReviews() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM reviews").Scan(&count)
	return count, err
}

// =============================================================================
// Phrase sentiment
// =============================================================================

// UpsertPhraseSentiment inserts or updates the sentiment of a phrase.
func (s *SQLiteStore) UpsertPhraseSentiment(phrase string, sentiment float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO phrase_sentiment (phrase, sentiment) VALUES (?, ?)
		ON CONFLICT(phrase) DO UPDATE SET sentiment = excluded.sentiment
	`, phrase, sentiment)
	return err
}

// ListPhraseSentiments returns the whole phrase sentiment table.
func (s *SQLiteStore) ListPhraseSentiments() (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT phrase, sentiment FROM phrase_sentiment`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var phrase string
		var v float64
		if err := rows.Scan(&phrase, &v); err != nil {
			return nil, err
		}
		out[phrase] = v
	}
	return out, rows.Err()
}

// =============================================================================
// Labels
// =============================================================================

// AppendLabel stores a label after the existing ones.
func (s *SQLiteStore) AppendLabel(label *catalog.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO labels (entity_id, term, relevant) VALUES (?, ?, ?)
	`, label.EntityID, label.Term, boolToInt(label.Relevant))
	return err
}

// ListLabels returns labels in insertion order.
func (s *SQLiteStore) ListLabels() ([]*catalog.Label, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT entity_id, term, relevant FROM labels ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*catalog.Label
	for rows.Next() {
		var l catalog.Label
		var relevant int
		if err := rows.Scan(&l.EntityID, &l.Term, &relevant); err != nil {
			return nil, err
		}
		l.Relevant = relevant == 1
		out = append(out, &l)
	}
	return out, rows.Err()
}

// =============================================================================
// Embedding table
// =============================================================================

// UpsertToken inserts or replaces a token row.
func (s *SQLiteStore) UpsertToken(token *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := vectorBlob(token.Vector)
	if err != nil {
		return fmt.Errorf("failed to serialize token vector: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tokens (token, idf, vec) VALUES (?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET idf = excluded.idf, vec = excluded.vec
	`, token.Token, token.IDF, nullable(blob))
	return err
}

// ListTokens returns the embedding table sorted by token.
func (s *SQLiteStore) ListTokens() ([]*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT token, idf, CASE WHEN vec IS NULL THEN NULL ELSE vec_to_json(vec) END
		FROM tokens ORDER BY token
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TokenRecord
	for rows.Next() {
		var t TokenRecord
		var idf sql.NullFloat64
		var vecJSON sql.NullString
		if err := rows.Scan(&t.Token, &idf, &vecJSON); err != nil {
			return nil, err
		}
		if idf.Valid {
			v := idf.Float64
			t.IDF = &v
		}
		if t.Vector, err = parseVector(vecJSON); err != nil {
			return nil, fmt.Errorf("token %s: %w", t.Token, err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// =============================================================================
// Helpers
// =============================================================================

// vectorBlob encodes v as a sqlite-vec float32 blob; empty vectors are NULL.
func vectorBlob(v []float64) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	f32 := make([]float32, len(v))
	for i, x := range v {
		f32[i] = float32(x)
	}
	return vec.SerializeFloat32(f32)
}

func nullable(blob []byte) any {
	if blob == nil {
		return nil
	}
	return blob
}

func parseVector(s sql.NullString) ([]float64, error) {
	if !s.Valid {
		return nil, nil
	}
	var out []float64
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, fmt.Errorf("bad vector json: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
