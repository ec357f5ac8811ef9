package db

import (
	"context"
	"time"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Store is the persistence interface of the insight service.
type Store interface {
	KnowledgeStore
	InteractionStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Knowledge documents ──────────────────────────────────────────────────────

// KnowledgeStore keeps operator-curated documents. It doubles as an index
// document source.
type KnowledgeStore interface {
	// UpsertDocument inserts or replaces a document keyed by path.
	UpsertDocument(ctx context.Context, doc models.SourceDocument) error

	// DeleteDocument removes a document. Deleting a missing path is not an error.
	DeleteDocument(ctx context.Context, path string) error

	// ListDocuments returns all documents ordered by path.
	ListDocuments(ctx context.Context) ([]models.SourceDocument, error)

	// CountDocuments returns the number of stored documents.
	CountDocuments(ctx context.Context) (int, error)
}

// ─── Query interactions ───────────────────────────────────────────────────────

// InteractionRecord is one answered query.
type InteractionRecord struct {
	ID           int64     `json:"id"`
	QueryID      string    `json:"query_id"`
	SessionID    string    `json:"session_id"`
	Query        string    `json:"query"`
	Language     string    `json:"language"`
	Intent       string    `json:"intent"`
	Mode         string    `json:"mode"`
	EngineUsed   string    `json:"engine_used"`
	Confidence   float64   `json:"confidence"`
	Success      bool      `json:"success"`
	ProcessingMs int64     `json:"processing_ms"`
	Answer       string    `json:"answer"`
	CreatedAt    time.Time `json:"created_at"`
}

// InteractionSummary aggregates interactions in a time window.
type InteractionSummary struct {
	Total         int            `json:"total"`
	Successful    int            `json:"successful"`
	AvgConfidence float64        `json:"avg_confidence"`
	ByMode        map[string]int `json:"by_mode"`
}

// InteractionStore records answered queries.
type InteractionStore interface {
	// RecordInteraction appends one interaction. QueryID must be unique.
	RecordInteraction(ctx context.Context, rec *InteractionRecord) error

	// RecentInteractions returns the newest interactions first. An empty
	// sessionID matches every session.
	RecentInteractions(ctx context.Context, sessionID string, limit int) ([]*InteractionRecord, error)

	// SummarizeInteractions aggregates interactions created in [from, to].
	SummarizeInteractions(ctx context.Context, from, to time.Time) (*InteractionSummary, error)
}
