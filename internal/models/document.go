package models

import (
	"time"
)

// EmbeddingDim is the dimensionality of every persisted vector.
// Gemini text-embedding models return 768-dimensional vectors.
const EmbeddingDim = 768

// DocumentType drives the chunk size profile.
type DocumentType string

const (
	DocTypeLetter           DocumentType = "letter"
	DocTypeReport           DocumentType = "report"
	DocTypeWitnessStatement DocumentType = "witness_statement"
	DocTypeOther            DocumentType = "other"
)

// ExtractionMethod records which path produced the text.
type ExtractionMethod string

const (
	MethodText ExtractionMethod = "text"
	MethodOCR  ExtractionMethod = "ocr"
)

// Document is one ingested case document.
type Document struct {
	ID           string       `json:"id"`
	CaseID       string       `json:"case_id"`
	ContentHash  string       `json:"content_hash"`
	Filename     string       `json:"filename"`
	FilePath     string       `json:"file_path"`
	MimeType     string       `json:"mime_type"`
	FileSize     int64        `json:"file_size"`
	DocumentType DocumentType `json:"document_type"`
	DocumentDate *time.Time   `json:"document_date,omitempty"`
	Title        string       `json:"title,omitempty"`
	Language     string       `json:"language,omitempty"`

	ExtractedText      string           `json:"-"`
	ExtractionComplete bool             `json:"extraction_complete"`
	Chunked            bool             `json:"chunked"`
	Embedded           bool             `json:"embedded"`
	Processed          bool             `json:"processed"`
	PageCount          int              `json:"page_count"`
	ChunkCount         int              `json:"chunk_count"`
	ExtractionMethod   ExtractionMethod `json:"extraction_method,omitempty"`
	AvgConfidence      float64          `json:"avg_confidence"`
	ProcessingError    string           `json:"processing_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// SizeProfile returns the chunk size and overlap (in characters) for the
// document type.
func (t DocumentType) SizeProfile() (size, overlap int) {
	switch t {
	case DocTypeLetter:
		return 800, 150
	case DocTypeReport:
		return 1200, 200
	case DocTypeWitnessStatement:
		return 1000, 200
	default:
		return 1000, 200
	}
}
