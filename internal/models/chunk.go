package models

// ChunkMetadata holds patterns extracted from a chunk's text.
type ChunkMetadata struct {
	Heading       string       `json:"heading,omitempty"`
	Dates         []string     `json:"dates,omitempty"`
	Amounts       []string     `json:"amounts,omitempty"`
	Citations     []string     `json:"citations,omitempty"`
	WordCount     int          `json:"word_count"`
	SentenceCount int          `json:"sentence_count"`
	DocumentType  DocumentType `json:"document_type,omitempty"`
}

// DocumentChunk is one indexed slice of a document's text. Embedding is
// nil until the embedding stage runs.
type DocumentChunk struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	ChunkIndex int           `json:"chunk_index"`
	Text       string        `json:"text"`
	TokenCount int           `json:"token_count"`
	CharCount  int           `json:"char_count"`
	PageNumber *int          `json:"page_number,omitempty"`
	Heading    string        `json:"heading,omitempty"`
	Metadata   ChunkMetadata `json:"metadata"`
	Embedding  []float32     `json:"-"`
}
