package embed

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider embeds text through the Gemini batch embedding API.
// One provider is shared per process; the underlying client is safe for
// concurrent use.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Model() string { return p.model }

// Embed implements Provider via BatchEmbedContents.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	em := p.client.EmbeddingModel(p.model)

	batch := em.NewBatch()
	for _, t := range texts {
		batch = batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("batch embed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}

	out := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}
