// Package store persists documents and chunks in Postgres with pgvector.
package store

import (
	"context"
	"errors"

	"github.com/harleven/casedocs/internal/models"
)

// ErrDuplicateDocument is returned by InsertDocument when another row
// already holds the same (case_id, content_hash) pair. Happens when two
// identical uploads race past the hash lookup.
var ErrDuplicateDocument = errors.New("document already exists for this case and content hash")

// SearchRow is one chunk returned by vector or lexical search.
type SearchRow struct {
	ChunkID      string
	DocumentID   string
	DocumentName string
	Text         string
	ChunkIndex   int
	PageNumber   *int
	Similarity   float64
	Relevance    float64
}

// CaseStats summarizes indexing progress for one case.
type CaseStats struct {
	CaseID        string `json:"case_id"`
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
	EmbeddedCount int    `json:"embedded_count"`
}

// IndexingComplete reports whether every chunk in the case carries an
// embedding.
func (s CaseStats) IndexingComplete() bool {
	return s.ChunkCount > 0 && s.EmbeddedCount == s.ChunkCount
}

// Store is the persistence interface the services depend on.
type Store interface {
	// Documents
	InsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	FindByHash(ctx context.Context, caseID, contentHash string) (*models.Document, error)
	ListByCase(ctx context.Context, caseID string) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// Stage commits
	UpdateExtraction(ctx context.Context, id, text string, method models.ExtractionMethod, pageCount int, avgConfidence float64) error
	ReplaceChunks(ctx context.Context, documentID string, chunks []*models.DocumentChunk) error
	UpdateChunkEmbeddings(ctx context.Context, documentID string, embeddings map[string][]float32) error
	MarkProcessed(ctx context.Context, id string) error
	SetProcessingError(ctx context.Context, id, message string) error
	ResetStageFlags(ctx context.Context, id string) error

	// Chunks
	ChunksFor(ctx context.Context, documentID string) ([]*models.DocumentChunk, error)

	// Search
	SemanticSearch(ctx context.Context, embedding []float32, caseID string, limit int) ([]SearchRow, error)
	LexicalSearch(ctx context.Context, query, caseID string, limit int) ([]SearchRow, error)
	StatsForCase(ctx context.Context, caseID string) (*CaseStats, error)

	Close() error
}
