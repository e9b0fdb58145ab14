package config

import (
	"fmt"
	"sync"
)

var (
	postgresOnce   sync.Once
	postgresConfig *PostgresConfig
)

type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

func GetPostgresConfig() *PostgresConfig {
	postgresOnce.Do(func() {
		loadEnv()

		postgresConfig = &PostgresConfig{
			Host:         getEnv("POSTGRES_HOST", "localhost"),
			Port:         getEnvInt("POSTGRES_PORT", 5432),
			User:         getEnv("POSTGRES_USER", "postgres"),
			Password:     getEnv("POSTGRES_PASSWORD", ""),
			Database:     getEnv("POSTGRES_DB", "casedocs"),
			SSLMode:      getEnv("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("POSTGRES_MAX_OPEN_CONNS", 16),
			MaxIdleConns: getEnvInt("POSTGRES_MAX_IDLE_CONNS", 4),
		}
	})
	return postgresConfig
}

// DSN returns the connection string for database/sql with the pgx driver.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}
