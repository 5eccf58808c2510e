package config

import (
	"fmt"

	"github.com/artbay/market-bridge/internal/util"
)

// ModuleName is the canonical name of this service.
const ModuleName = "market-bridge"

// DatabaseConfig contains the Postgres connection parameters.
type DatabaseConfig struct {
	Host     string `envconfig:"HOST"`
	Port     int    `envconfig:"PORT"`
	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD" json:"-"` // sensitive field
	Database string `envconfig:"DATABASE"`
	SSLMode  string `envconfig:"SSLMODE"`
}

// ConnectionString returns the lib/pq connection string.
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode)
}

// HTTPConfig contains the HTTP server bind parameters.
type HTTPConfig struct {
	ListenAddress string `envconfig:"LISTEN_ADDRESS"`
}

// ServiceConfig aggregates the full environment-provided configuration.
type ServiceConfig struct {
	Database   DatabaseConfig
	HTTP       HTTPConfig
	RabbitMQ   RabbitMQConfig
	Blockchain BlockchainConfig
}

// DefaultServiceConfigFromEnv loads the complete service configuration from
// environment variables.
func DefaultServiceConfigFromEnv() ServiceConfig {
	return ServiceConfig{
		Database: DatabaseConfig{
			Host:     util.GetEnv("PGHOST", "localhost"),
			Port:     util.GetEnvAsInt("PGPORT", 5432),
			Username: util.GetEnv("PGUSER", "postgres"),
			Password: util.GetEnv("PGPASSWORD", ""),
			Database: util.GetEnv("PGDATABASE", ModuleName),
			SSLMode:  util.GetEnv("PGSSLMODE", "disable"),
		},
		HTTP: HTTPConfig{
			ListenAddress: util.GetEnv("SERVER_LISTEN_ADDRESS", ":8080"),
		},
		RabbitMQ:   LoadRabbitMQConfig(),
		Blockchain: LoadBlockchainConfig(),
	}
}
