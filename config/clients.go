package config

import (
	"sync"
	"time"
)

var (
	clientsOnce   sync.Once
	clientsConfig *ClientsConfig
)

// ClientsConfig holds endpoints for the case directory and identity services.
type ClientsConfig struct {
	CaseDirectoryURL string
	IdentityURL      string
	RequestTimeout   time.Duration
	AuthEnabled      bool
}

func GetClientsConfig() *ClientsConfig {
	clientsOnce.Do(func() {
		loadEnv()

		clientsConfig = &ClientsConfig{
			CaseDirectoryURL: getEnv("CASE_DIRECTORY_URL", "http://localhost:8081"),
			IdentityURL:      getEnv("IDENTITY_URL", "http://localhost:8082"),
			RequestTimeout:   getEnvDuration("CLIENT_REQUEST_TIMEOUT", 5*time.Second),
			AuthEnabled:      getEnvBool("AUTH_ENABLED", false),
		}
	})
	return clientsConfig
}
