// Package store persists opinion catalogs.
// SQLiteStore keeps them in a SQLite file with sqlite-vec vector blobs;
// MemStore is the in-memory implementation used in tests.
package store

import "github.com/Kelaxon/opinedb-public/internal/catalog"

// ObjectiveRecord is one objective value, kept in assignment order so a
// reloaded catalog rebuilds the same schema.
type ObjectiveRecord struct {
	Seq       int64        `json:"seq"`
	EntityID  string       `json:"entityId"`
	Attribute string       `json:"attribute"`
	Type      catalog.Type `json:"type"`
	Value     string       `json:"value"`
}

// TokenRecord is a row of the embedding table.
type TokenRecord struct {
	Token  string    `json:"token"`
	Vector []float64 `json:"vector,omitempty"`
	IDF    *float64  `json:"idf,omitempty"`
}

// Storer defines the interface for catalog persistence.
// This allows swapping between MemStore (testing) and SQLiteStore (production).
type Storer interface {
	// Entities (histograms and summaries; objective values live in their own log)
	UpsertEntity(entity *catalog.Entity) error
	GetEntity(id string) (*catalog.Entity, error)
	DeleteEntity(id string) error
	ListEntityIDs() ([]string, error)
	CountEntities() (int, error)

	// Objective values
	AppendObjective(rec *ObjectiveRecord) error
	ListObjective() ([]*ObjectiveRecord, error)

	// Reviews
	AppendReview(review *catalog.Review) error
	ListReviews() ([]*catalog.Review, error)
	CountReviews() (int, error)

	// Phrase sentiment
	UpsertPhraseSentiment(phrase string, sentiment float64) error
	ListPhraseSentiments() (map[string]float64, error)

	// Labels
	AppendLabel(label *catalog.Label) error
	ListLabels() ([]*catalog.Label, error)

	// Embedding table
	UpsertToken(token *TokenRecord) error
	ListTokens() ([]*TokenRecord, error)

	// Lifecycle
	Close() error
}
