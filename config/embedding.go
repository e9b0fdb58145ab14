package config

import (
	"sync"
	"time"
)

var (
	embeddingOnce   sync.Once
	embeddingConfig *EmbeddingConfig
)

type EmbeddingConfig struct {
	APIKey        string
	Model         string
	BatchSize     int
	CacheTTL      time.Duration
	QueryCacheTTL time.Duration
}

func GetEmbeddingConfig() *EmbeddingConfig {
	embeddingOnce.Do(func() {
		loadEnv()

		embeddingConfig = &EmbeddingConfig{
			APIKey:        getEnv("GEMINI_API_KEY", ""),
			Model:         getEnv("EMBEDDING_MODEL", "text-embedding-004"),
			BatchSize:     getEnvInt("EMBEDDING_BATCH_SIZE", 64),
			CacheTTL:      getEnvDuration("EMBEDDING_CACHE_TTL", 7*24*time.Hour),
			QueryCacheTTL: getEnvDuration("QUERY_EMBEDDING_CACHE_TTL", time.Hour),
		}
	})
	return embeddingConfig
}
