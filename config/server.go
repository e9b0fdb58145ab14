package config

import (
	"strings"
	"sync"
)

var (
	serverOnce   sync.Once
	serverConfig *ServerConfig
)

type ServerConfig struct {
	Port           string
	GinMode        string
	MaxUploadSize  int64
	AllowedOrigins []string
}

func GetServerConfig() *ServerConfig {
	serverOnce.Do(func() {
		loadEnv()

		serverConfig = &ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			GinMode:        getEnv("GIN_MODE", "debug"),
			MaxUploadSize:  int64(getEnvInt("MAX_UPLOAD_SIZE_MB", 50)) << 20,
			AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		}
	})
	return serverConfig
}
