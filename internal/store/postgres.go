package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/harleven/casedocs/config"
	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/models"
)

//go:embed scripts/initdb.sql
var schemaFS embed.FS

// PostgresStore implements Store on Postgres with the pgvector extension,
// through database/sql and the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, cfg *config.PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// ensureSchema applies the embedded schema. Every statement is
// IF NOT EXISTS so repeat runs are no-ops.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	sqlBytes, err := schemaFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return fmt.Errorf("read initdb.sql: %w", err)
	}

	bootCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	tx, err := db.BeginTx(bootCtx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(bootCtx, string(sqlBytes)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec schema: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const documentColumns = `
	id, case_id, content_hash, filename, file_path, mime_type, file_size,
	document_type, document_date, title, language, extracted_text,
	extraction_complete, chunked, embedded, processed, page_count,
	chunk_count, extraction_method, avg_confidence, processing_error,
	created_at, updated_at, processed_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.CaseID, &d.ContentHash, &d.Filename, &d.FilePath,
		&d.MimeType, &d.FileSize, &d.DocumentType, &d.DocumentDate,
		&d.Title, &d.Language, &d.ExtractedText, &d.ExtractionComplete,
		&d.Chunked, &d.Embedded, &d.Processed, &d.PageCount, &d.ChunkCount,
		&d.ExtractionMethod, &d.AvgConfidence, &d.ProcessingError,
		&d.CreatedAt, &d.UpdatedAt, &d.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, case_id, content_hash, filename, file_path, mime_type,
			 file_size, document_type, document_date, title, language,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
	`
	_, err := s.db.ExecContext(ctx, q,
		doc.ID, doc.CaseID, doc.ContentHash, doc.Filename, doc.FilePath,
		doc.MimeType, doc.FileSize, doc.DocumentType, doc.DocumentDate,
		doc.Title, doc.Language)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrDuplicateDocument
	}
	return err
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{Resource: "document", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *PostgresStore) FindByHash(ctx context.Context, caseID, contentHash string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE case_id = $1 AND content_hash = $2`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, q, caseID, contentHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *PostgresStore) ListByCase(ctx context.Context, caseID string) ([]*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE case_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	// Chunks go with the document via ON DELETE CASCADE.
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errs.NotFoundError{Resource: "document", ID: id}
	}
	return nil
}

func (s *PostgresStore) UpdateExtraction(ctx context.Context, id, text string, method models.ExtractionMethod, pageCount int, avgConfidence float64) error {
	const q = `
		UPDATE documents
		SET extracted_text = $2, extraction_method = $3, page_count = $4,
		    avg_confidence = $5, extraction_complete = TRUE,
		    processing_error = '', updated_at = now()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, q, id, text, method, pageCount, avgConfidence)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errs.NotFoundError{Resource: "document", ID: id}
	}
	return nil
}

// ReplaceChunks swaps the document's chunk set in one transaction and
// commits the chunked stage flag.
func (s *PostgresStore) ReplaceChunks(ctx context.Context, documentID string, chunks []*models.DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		_ = tx.Rollback()
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, chunk_index, text, token_count, char_count,
			 page_number, heading, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ch := range chunks {
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, documentID, ch.ChunkIndex, ch.Text, ch.TokenCount,
			ch.CharCount, ch.PageNumber, ch.Heading, meta,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	const mark = `
		UPDATE documents
		SET chunked = TRUE, embedded = FALSE, chunk_count = $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, mark, documentID, len(chunks)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// UpdateChunkEmbeddings writes vectors by chunk id and commits the
// embedded stage flag once every chunk of the document carries one.
func (s *PostgresStore) UpdateChunkEmbeddings(ctx context.Context, documentID string, embeddings map[string][]float32) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `UPDATE document_chunks SET embedding = $2 WHERE id = $1 AND document_id = $3`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for chunkID, vec := range embeddings {
		if len(vec) != models.EmbeddingDim {
			_ = tx.Rollback()
			return fmt.Errorf("chunk %s: embedding has %d dimensions, want %d", chunkID, len(vec), models.EmbeddingDim)
		}
		if _, err := stmt.ExecContext(ctx, chunkID, pgvector.NewVector(vec), documentID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	const mark = `
		UPDATE documents
		SET embedded = NOT EXISTS (
			SELECT 1 FROM document_chunks
			WHERE document_id = $1 AND embedding IS NULL
		), updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, mark, documentID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, id string) error {
	const q = `
		UPDATE documents
		SET processed = TRUE, processing_error = '', processed_at = now(), updated_at = now()
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *PostgresStore) SetProcessingError(ctx context.Context, id, message string) error {
	const q = `UPDATE documents SET processing_error = $2, updated_at = now() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, q, id, message)
	return err
}

// ResetStageFlags clears stage progress before a reprocess run.
func (s *PostgresStore) ResetStageFlags(ctx context.Context, id string) error {
	const q = `
		UPDATE documents
		SET extraction_complete = FALSE, chunked = FALSE, embedded = FALSE,
		    processed = FALSE, processing_error = '', processed_at = NULL,
		    updated_at = now()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errs.NotFoundError{Resource: "document", ID: id}
	}
	return nil
}

func (s *PostgresStore) ChunksFor(ctx context.Context, documentID string) ([]*models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, chunk_index, text, token_count, char_count,
		       page_number, heading, metadata
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := s.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DocumentChunk
	for rows.Next() {
		var (
			ch   models.DocumentChunk
			meta []byte
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.ChunkIndex, &ch.Text, &ch.TokenCount,
			&ch.CharCount, &ch.PageNumber, &ch.Heading, &meta,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &ch.Metadata); err != nil {
			return nil, fmt.Errorf("chunk %s: bad metadata: %w", ch.ID, err)
		}
		out = append(out, &ch)
	}
	return out, rows.Err()
}

// SemanticSearch returns the closest embedded chunks by cosine similarity.
// Similarity = 1 - cosine distance, so 1.0 is identical direction.
func (s *PostgresStore) SemanticSearch(ctx context.Context, embedding []float32, caseID string, limit int) ([]SearchRow, error) {
	if len(embedding) != models.EmbeddingDim {
		return nil, fmt.Errorf("query embedding has %d dimensions, want %d", len(embedding), models.EmbeddingDim)
	}
	const q = `
		SELECT c.id, c.document_id, d.filename, c.text, c.chunk_index,
		       c.page_number, 1 - (c.embedding <=> $1) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.embedding IS NOT NULL
		  AND ($2 = '' OR d.case_id = $2)
		ORDER BY c.embedding <=> $1
		LIMIT $3
	`
	vec := pgvector.NewVector(embedding)
	rows, err := s.db.QueryContext(ctx, q, vec, caseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.DocumentName,
			&r.Text, &r.ChunkIndex, &r.PageNumber, &r.Similarity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LexicalSearch ranks chunks by full-text relevance. Relevance is raw
// ts_rank; the caller normalizes over the candidate set.
func (s *PostgresStore) LexicalSearch(ctx context.Context, query, caseID string, limit int) ([]SearchRow, error) {
	const q = `
		SELECT c.id, c.document_id, d.filename, c.text, c.chunk_index,
		       c.page_number,
		       ts_rank(to_tsvector('english', c.text), plainto_tsquery('english', $1)) AS relevance
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE to_tsvector('english', c.text) @@ plainto_tsquery('english', $1)
		  AND ($2 = '' OR d.case_id = $2)
		ORDER BY relevance DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, query, caseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.DocumentName,
			&r.Text, &r.ChunkIndex, &r.PageNumber, &r.Relevance); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) StatsForCase(ctx context.Context, caseID string) (*CaseStats, error) {
	const q = `
		SELECT
			(SELECT count(*) FROM documents WHERE case_id = $1),
			(SELECT count(*) FROM document_chunks c JOIN documents d ON d.id = c.document_id WHERE d.case_id = $1),
			(SELECT count(*) FROM document_chunks c JOIN documents d ON d.id = c.document_id WHERE d.case_id = $1 AND c.embedding IS NOT NULL)
	`
	stats := &CaseStats{CaseID: caseID}
	err := s.db.QueryRowContext(ctx, q, caseID).Scan(
		&stats.DocumentCount, &stats.ChunkCount, &stats.EmbeddedCount)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
