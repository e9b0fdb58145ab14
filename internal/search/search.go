// Package search answers semantic and hybrid queries over embedded
// chunks.
package search

import (
	"context"
	"sort"
	"strings"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/store"
	"github.com/harleven/casedocs/pkg/logger"
)

const (
	defaultLimit     = 10
	maxLimit         = 50
	excerptRadius    = 80
	candidateFactor  = 3
	defaultSemWeight = 0.7
	defaultLexWeight = 0.3
)

// Embedder is the query-side embedding dependency.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Options scope and shape a search.
type Options struct {
	CaseID         string
	Limit          int
	Threshold      float64
	SemanticWeight float64
	LexicalWeight  float64
}

// Result is one ranked chunk.
type Result struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
	PageNumber   *int    `json:"page_number,omitempty"`
	ChunkIndex   int     `json:"chunk_index"`
	Excerpt      string  `json:"excerpt"`
}

// Stats reports a case's indexing progress.
type Stats struct {
	store.CaseStats
	IndexingComplete bool `json:"indexing_complete"`
}

type Service struct {
	store    store.Store
	embedder Embedder
	logger   logger.Logger
}

func NewService(st store.Store, em Embedder, log logger.Logger) *Service {
	return &Service{store: st, embedder: em, logger: log}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Semantic embeds the query and ranks chunks by cosine similarity,
// filtered by the similarity threshold.
func (s *Service) Semantic(ctx context.Context, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &errs.ValidationError{Field: "query", Message: "query is empty"}
	}
	limit := clampLimit(opts.Limit)

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.SemanticSearch(ctx, vec, opts.CaseID, limit)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		if r.Similarity < opts.Threshold {
			continue
		}
		results = append(results, toResult(r, r.Similarity, query))
	}
	return results, nil
}

// Hybrid blends cosine similarity with normalized full-text relevance
// over the union of both candidate sets.
func (s *Service) Hybrid(ctx context.Context, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &errs.ValidationError{Field: "query", Message: "query is empty"}
	}
	limit := clampLimit(opts.Limit)
	semWeight, lexWeight := opts.SemanticWeight, opts.LexicalWeight
	if semWeight <= 0 && lexWeight <= 0 {
		semWeight, lexWeight = defaultSemWeight, defaultLexWeight
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	semantic, err := s.store.SemanticSearch(ctx, vec, opts.CaseID, limit*candidateFactor)
	if err != nil {
		return nil, err
	}
	lexical, err := s.store.LexicalSearch(ctx, query, opts.CaseID, limit*candidateFactor)
	if err != nil {
		return nil, err
	}

	results := Blend(semantic, lexical, semWeight, lexWeight, query)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Blend merges the two candidate sets. Lexical relevance is normalized
// by the candidate-set maximum so both signals share the 0..1 range.
func Blend(semantic, lexical []store.SearchRow, semWeight, lexWeight float64, query string) []Result {
	var maxRel float64
	for _, r := range lexical {
		if r.Relevance > maxRel {
			maxRel = r.Relevance
		}
	}

	type scored struct {
		row store.SearchRow
		sim float64
		rel float64
	}
	union := make(map[string]*scored)
	for _, r := range semantic {
		union[r.ChunkID] = &scored{row: r, sim: r.Similarity}
	}
	for _, r := range lexical {
		rel := 0.0
		if maxRel > 0 {
			rel = r.Relevance / maxRel
		}
		if sc, ok := union[r.ChunkID]; ok {
			sc.rel = rel
		} else {
			union[r.ChunkID] = &scored{row: r, rel: rel}
		}
	}

	results := make([]Result, 0, len(union))
	for _, sc := range union {
		score := semWeight*sc.sim + lexWeight*sc.rel
		results = append(results, toResult(sc.row, score, query))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}

// StatsFor reports document, chunk and embedded counts for a case.
func (s *Service) StatsFor(ctx context.Context, caseID string) (*Stats, error) {
	if caseID == "" {
		return nil, &errs.ValidationError{Field: "case_id", Message: "case_id is required"}
	}
	cs, err := s.store.StatsForCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return &Stats{CaseStats: *cs, IndexingComplete: cs.IndexingComplete()}, nil
}

func toResult(r store.SearchRow, score float64, query string) Result {
	return Result{
		ChunkID:      r.ChunkID,
		DocumentID:   r.DocumentID,
		DocumentName: r.DocumentName,
		Text:         r.Text,
		Score:        score,
		PageNumber:   r.PageNumber,
		ChunkIndex:   r.ChunkIndex,
		Excerpt:      Excerpt(r.Text, query),
	}
}

// Excerpt returns a window around the first query term present in the
// text, or the text's head when no term matches.
func Excerpt(text, query string) string {
	lower := strings.ToLower(text)
	idx := -1
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if i := strings.Index(lower, term); i >= 0 && (idx < 0 || i < idx) {
			idx = i
		}
	}

	start := 0
	if idx > excerptRadius {
		start = idx - excerptRadius
	}
	end := len(text)
	if idx >= 0 && idx+excerptRadius < end {
		end = idx + excerptRadius
	} else if idx < 0 && 2*excerptRadius < end {
		end = 2 * excerptRadius
	}

	excerpt := strings.TrimSpace(text[start:end])
	if start > 0 {
		excerpt = "..." + excerpt
	}
	if end < len(text) {
		excerpt = excerpt + "..."
	}
	return excerpt
}
