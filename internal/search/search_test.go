package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/store"
	"github.com/harleven/casedocs/pkg/logger"
)

type fakeStore struct {
	store.Store

	semantic []store.SearchRow
	lexical  []store.SearchRow
	stats    *store.CaseStats

	semCalls []int // limits requested
	lexCalls []int
}

func (s *fakeStore) SemanticSearch(ctx context.Context, embedding []float32, caseID string, limit int) ([]store.SearchRow, error) {
	s.semCalls = append(s.semCalls, limit)
	return s.semantic, nil
}

func (s *fakeStore) LexicalSearch(ctx context.Context, query, caseID string, limit int) ([]store.SearchRow, error) {
	s.lexCalls = append(s.lexCalls, limit)
	return s.lexical, nil
}

func (s *fakeStore) StatsForCase(ctx context.Context, caseID string) (*store.CaseStats, error) {
	return s.stats, nil
}

type fakeEmbedder struct {
	err     error
	queries []string
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.queries = append(e.queries, query)
	return []float32{1, 0, 0}, nil
}

func row(id string, sim, rel float64, text string) store.SearchRow {
	return store.SearchRow{
		ChunkID:      id,
		DocumentID:   "doc-" + id,
		DocumentName: "file-" + id + ".pdf",
		Text:         text,
		Similarity:   sim,
		Relevance:    rel,
	}
}

func newTestService(st *fakeStore, em *fakeEmbedder) *Service {
	return NewService(st, em, logger.NewTestLogger())
}

func TestSemantic(t *testing.T) {
	st := &fakeStore{semantic: []store.SearchRow{
		row("a", 0.92, 0, "The settlement sum of fifteen thousand pounds."),
		row("b", 0.55, 0, "Unrelated directions hearing notes."),
		row("c", 0.31, 0, "List of exhibits."),
	}}
	svc := newTestService(st, &fakeEmbedder{})

	results, err := svc.Semantic(context.Background(), "settlement amount", Options{Threshold: 0.5})
	if err != nil {
		t.Fatalf("Semantic() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 above threshold", len(results))
	}
	if results[0].ChunkID != "a" || results[0].Score != 0.92 {
		t.Errorf("top result = %+v", results[0])
	}
	for _, r := range results {
		if r.Excerpt == "" {
			t.Errorf("result %s has no excerpt", r.ChunkID)
		}
	}
}

func TestSemantic_EmptyQuery(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeEmbedder{})
	_, err := svc.Semantic(context.Background(), "   ", Options{})
	if !errs.IsValidation(err) {
		t.Fatalf("error = %v, want validation error", err)
	}
}

func TestSemantic_ThresholdFiltersAll(t *testing.T) {
	st := &fakeStore{semantic: []store.SearchRow{row("a", 0.2, 0, "text")}}
	svc := newTestService(st, &fakeEmbedder{})

	results, err := svc.Semantic(context.Background(), "query", Options{Threshold: 0.9})
	if err != nil {
		t.Fatalf("Semantic() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want empty set", len(results))
	}
}

func TestSemantic_EmbedderFailure(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeEmbedder{err: errors.New("provider down")})
	if _, err := svc.Semantic(context.Background(), "query", Options{}); err == nil {
		t.Fatal("expected embedder failure to surface")
	}
}

func TestHybrid_CandidateOverfetch(t *testing.T) {
	st := &fakeStore{}
	svc := newTestService(st, &fakeEmbedder{})

	if _, err := svc.Hybrid(context.Background(), "query", Options{Limit: 5}); err != nil {
		t.Fatalf("Hybrid() error = %v", err)
	}
	if len(st.semCalls) != 1 || st.semCalls[0] != 15 {
		t.Errorf("semantic limit = %v, want [15]", st.semCalls)
	}
	if len(st.lexCalls) != 1 || st.lexCalls[0] != 15 {
		t.Errorf("lexical limit = %v, want [15]", st.lexCalls)
	}
}

func TestHybrid_KeywordMatchOutranksNearTie(t *testing.T) {
	// Two chunks with close similarity; only one also matches the query
	// terms lexically. The blended score must put it first.
	st := &fakeStore{
		semantic: []store.SearchRow{
			row("close", 0.80, 0, "Discussion of payment terms in general."),
			row("exact", 0.78, 0, "The indemnity clause covers consequential loss."),
		},
		lexical: []store.SearchRow{
			row("exact", 0, 0.42, "The indemnity clause covers consequential loss."),
		},
	}
	svc := newTestService(st, &fakeEmbedder{})

	results, err := svc.Hybrid(context.Background(), "indemnity clause", Options{})
	if err != nil {
		t.Fatalf("Hybrid() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ChunkID != "exact" {
		t.Errorf("top result = %s, want the lexical match first", results[0].ChunkID)
	}
}

func TestHybrid_TruncatesToLimit(t *testing.T) {
	var rows []store.SearchRow
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		rows = append(rows, row(id, 0.5, 0, "chunk "+id))
	}
	st := &fakeStore{semantic: rows}
	svc := newTestService(st, &fakeEmbedder{})

	results, err := svc.Hybrid(context.Background(), "query", Options{Limit: 2})
	if err != nil {
		t.Fatalf("Hybrid() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want limit 2", len(results))
	}
}

func TestBlend(t *testing.T) {
	semantic := []store.SearchRow{
		row("s1", 0.9, 0, "semantic only"),
		row("both", 0.6, 0, "appears in both sets"),
	}
	lexical := []store.SearchRow{
		row("both", 0, 4.0, "appears in both sets"),
		row("l1", 0, 2.0, "lexical only"),
	}

	results := Blend(semantic, lexical, 0.7, 0.3, "query")
	if len(results) != 3 {
		t.Fatalf("got %d results, want union of 3", len(results))
	}

	scores := make(map[string]float64)
	for _, r := range results {
		scores[r.ChunkID] = r.Score
	}
	// Lexical relevance is normalized by the set maximum (4.0).
	assertScore(t, scores, "s1", 0.7*0.9)
	assertScore(t, scores, "both", 0.7*0.6+0.3*1.0)
	assertScore(t, scores, "l1", 0.3*0.5)

	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results out of order at %d: %f > %f", i, results[i].Score, results[i-1].Score)
		}
	}
}

func assertScore(t *testing.T, scores map[string]float64, id string, want float64) {
	t.Helper()
	got, ok := scores[id]
	if !ok {
		t.Errorf("chunk %s missing from blend", id)
		return
	}
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score[%s] = %f, want %f", id, got, want)
	}
}

func TestBlend_TiesBreakOnChunkID(t *testing.T) {
	semantic := []store.SearchRow{
		row("zzz", 0.5, 0, "tied"),
		row("aaa", 0.5, 0, "tied"),
	}
	results := Blend(semantic, nil, 1.0, 0, "query")
	if results[0].ChunkID != "aaa" {
		t.Errorf("tie broken as %s first, want aaa", results[0].ChunkID)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, defaultLimit},
		{-3, defaultLimit},
		{7, 7},
		{200, maxLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStatsFor(t *testing.T) {
	st := &fakeStore{stats: &store.CaseStats{
		CaseID:        "case-1",
		DocumentCount: 3,
		ChunkCount:    40,
		EmbeddedCount: 40,
	}}
	svc := newTestService(st, &fakeEmbedder{})

	stats, err := svc.StatsFor(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("StatsFor() error = %v", err)
	}
	if !stats.IndexingComplete {
		t.Error("IndexingComplete = false with all chunks embedded")
	}

	if _, err := svc.StatsFor(context.Background(), ""); !errs.IsValidation(err) {
		t.Errorf("error = %v, want validation error for empty case id", err)
	}
}

func TestExcerpt(t *testing.T) {
	long := strings.Repeat("padding words before the match ", 10) +
		"the liquidated damages provision applies here " +
		strings.Repeat("and trailing context after the match ", 10)

	tests := []struct {
		name         string
		text         string
		query        string
		wantContains string
		wantPrefix   string
		wantSuffix   string
	}{
		{
			name:         "match in the middle gets both ellipses",
			text:         long,
			query:        "liquidated damages",
			wantContains: "liquidated",
			wantPrefix:   "...",
			wantSuffix:   "...",
		},
		{
			name:         "no match falls back to head",
			text:         long,
			query:        "zzzz",
			wantContains: "padding words",
			wantSuffix:   "...",
		},
		{
			name:         "short text returned whole",
			text:         "Short chunk.",
			query:        "chunk",
			wantContains: "Short chunk.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Excerpt(tt.text, tt.query)
			if !strings.Contains(got, tt.wantContains) {
				t.Errorf("Excerpt() = %q, want substring %q", got, tt.wantContains)
			}
			if tt.wantPrefix != "" && !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("Excerpt() = %q, want prefix %q", got, tt.wantPrefix)
			}
			if tt.wantSuffix != "" && !strings.HasSuffix(got, tt.wantSuffix) {
				t.Errorf("Excerpt() = %q, want suffix %q", got, tt.wantSuffix)
			}
			if tt.wantPrefix == "" && strings.HasPrefix(got, "...") {
				t.Errorf("Excerpt() = %q, unexpected leading ellipsis", got)
			}
		})
	}
}
