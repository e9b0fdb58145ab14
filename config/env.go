package config

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var envOnce sync.Once

// loadEnv loads the project .env file once. Missing files are not fatal;
// values fall back to the process environment.
func loadEnv() {
	envOnce.Do(func() {
		_, filename, _, _ := runtime.Caller(0)
		configDir := filepath.Dir(filename)

		rootDir := filepath.Dir(configDir)
		envPath := filepath.Join(rootDir, ".env")

		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: .env file not found at %s, falling back to environment variables", envPath)
		}
	})
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Warning: invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("Warning: invalid boolean for %s, using default %t", key, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Warning: invalid duration for %s, using default %s", key, fallback)
	}
	return fallback
}
