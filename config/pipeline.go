package config

import (
	"sync"
	"time"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig
)

type PipelineConfig struct {
	WorkerConcurrency int
	MaxAttempts       int
	ExtractTimeout    time.Duration
	EmbedTimeout      time.Duration
	JobRetention      time.Duration
	OCRLanguage       string
	OCRDPI            int
	MinTextLength     int
}

func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadEnv()

		pipelineConfig = &PipelineConfig{
			WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
			MaxAttempts:       getEnvInt("JOB_MAX_ATTEMPTS", 3),
			ExtractTimeout:    getEnvDuration("EXTRACT_TIMEOUT", 5*time.Minute),
			EmbedTimeout:      getEnvDuration("EMBED_TIMEOUT", 5*time.Minute),
			JobRetention:      getEnvDuration("JOB_RETENTION", 24*time.Hour),
			OCRLanguage:       getEnv("OCR_LANGUAGE", "eng"),
			OCRDPI:            getEnvInt("OCR_DPI", 300),
			MinTextLength:     getEnvInt("MIN_TEXT_LENGTH", 50),
		}
	})
	return pipelineConfig
}
