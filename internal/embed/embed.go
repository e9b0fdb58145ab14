// Package embed produces unit-normalized vectors for chunk and query
// text, with a content-addressed cache in front of the provider.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/models"
	"github.com/harleven/casedocs/pkg/logger"
)

// queryPrefix biases retrieval-tuned embedding models toward query-side
// representations. Applied before hashing, so queries and identical
// document text never share a cache entry.
const queryPrefix = "query: "

// Provider computes raw embeddings for a batch of texts.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Cache stores vectors by content key.
type Cache interface {
	Get(ctx context.Context, keys []string) (map[string][]float32, error)
	Set(ctx context.Context, entries map[string][]float32, ttl time.Duration) error
}

type Embedder struct {
	provider  Provider
	cache     Cache
	batchSize int
	docTTL    time.Duration
	queryTTL  time.Duration
	logger    logger.Logger
}

func New(provider Provider, cache Cache, batchSize int, docTTL, queryTTL time.Duration, log logger.Logger) *Embedder {
	if batchSize < 1 {
		batchSize = 16
	}
	return &Embedder{
		provider:  provider,
		cache:     cache,
		batchSize: batchSize,
		docTTL:    docTTL,
		queryTTL:  queryTTL,
		logger:    log,
	}
}

// cacheKey namespaces entries by kind, model and dimensionality so a
// model change can never serve stale vectors.
func (e *Embedder) cacheKey(kind, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%s:%d:%s", kind, e.provider.Model(), models.EmbeddingDim, hex.EncodeToString(sum[:]))
}

// EmbedDocuments returns one vector per input text, in input order.
// Either every text gets a valid vector or an error is returned.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embedAll(ctx, "emb", texts, e.docTTL)
}

// EmbedQuery embeds a single search query through the query namespace.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := e.embedAll(ctx, "qemb", []string{queryPrefix + query}, e.queryTTL)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) embedAll(ctx context.Context, kind string, texts []string, ttl time.Duration) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errs.NewEmbeddingError(fmt.Errorf("no texts to embed"))
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = e.cacheKey(kind, t)
	}

	cached, err := e.cache.Get(ctx, keys)
	if err != nil {
		// A broken cache must not fail the stage.
		e.logger.Warn("embedding cache read failed", logger.Error(err))
		cached = nil
	}

	vectors := make([][]float32, len(texts))
	var missIdx []int
	for i, key := range keys {
		if vec, ok := cached[key]; ok && len(vec) == models.EmbeddingDim {
			vectors[i] = vec
		} else {
			missIdx = append(missIdx, i)
		}
	}

	if len(missIdx) > 0 {
		if err := e.fillMisses(ctx, kind, texts, keys, vectors, missIdx, ttl); err != nil {
			return nil, err
		}
	}

	for i, vec := range vectors {
		if len(vec) != models.EmbeddingDim {
			return nil, errs.NewEmbeddingError(fmt.Errorf("text %d: got %d dimensions, want %d", i, len(vec), models.EmbeddingDim))
		}
	}
	return vectors, nil
}

func (e *Embedder) fillMisses(ctx context.Context, kind string, texts, keys []string, vectors [][]float32, missIdx []int, ttl time.Duration) error {
	for start := 0; start < len(missIdx); start += e.batchSize {
		end := start + e.batchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]

		batchTexts := make([]string, len(batch))
		for i, idx := range batch {
			batchTexts[i] = texts[idx]
		}

		raw, err := e.provider.Embed(ctx, batchTexts)
		if err != nil {
			return errs.NewEmbeddingError(err)
		}
		if len(raw) != len(batchTexts) {
			return errs.NewEmbeddingError(fmt.Errorf("provider returned %d vectors for %d texts", len(raw), len(batchTexts)))
		}

		writeBack := make(map[string][]float32, len(batch))
		for i, idx := range batch {
			vec := normalize(raw[i])
			if len(vec) != models.EmbeddingDim {
				return errs.NewEmbeddingError(fmt.Errorf("provider returned %d dimensions, want %d", len(vec), models.EmbeddingDim))
			}
			vectors[idx] = vec
			writeBack[keys[idx]] = vec
		}

		if err := e.cache.Set(ctx, writeBack, ttl); err != nil {
			e.logger.Warn("embedding cache write failed", logger.Error(err))
		}
	}
	return nil
}

// normalize scales a vector to unit length. Zero vectors pass through
// unchanged.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
