package config

import (
	"fmt"
	"time"

	"github.com/artbay/market-bridge/internal/util"
)

// RabbitMQConfig contains configuration for the RabbitMQ message queue.
type RabbitMQConfig struct {
	Host     string `envconfig:"HOST"`
	Port     int    `envconfig:"PORT"`
	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD" json:"-"` // sensitive field
	VHost    string `envconfig:"VHOST"`

	// Connection settings
	Heartbeat time.Duration `envconfig:"HEARTBEAT"`

	// Queue settings
	QueuePrefix   string `envconfig:"QUEUE_PREFIX"`
	DurableQueues bool   `envconfig:"DURABLE_QUEUES"`
	PrefetchCount int    `envconfig:"PREFETCH_COUNT"`

	// Redelivery settings
	MaxRetries     int `envconfig:"MAX_RETRIES"`
	DrainBatchSize int `envconfig:"DRAIN_BATCH_SIZE"`
}

// LoadRabbitMQConfig loads RabbitMQ configuration from environment variables.
func LoadRabbitMQConfig() RabbitMQConfig {
	return RabbitMQConfig{
		Host:           util.GetEnv("RABBITMQ_HOST", "localhost"),
		Port:           util.GetEnvAsInt("RABBITMQ_PORT", 5672),
		Username:       util.GetEnv("RABBITMQ_USERNAME", "guest"),
		Password:       util.GetEnv("RABBITMQ_PASSWORD", "guest"),
		VHost:          util.GetEnv("RABBITMQ_VHOST", "/"),
		Heartbeat:      util.GetEnvAsDuration("RABBITMQ_HEARTBEAT", 60*time.Second),
		QueuePrefix:    util.GetEnv("RABBITMQ_QUEUE_PREFIX", "market-bridge"),
		DurableQueues:  util.GetEnvAsBool("RABBITMQ_DURABLE_QUEUES", true),
		PrefetchCount:  util.GetEnvAsInt("RABBITMQ_PREFETCH_COUNT", 10),
		MaxRetries:     util.GetEnvAsInt("RABBITMQ_MAX_RETRIES", 3),
		DrainBatchSize: util.GetEnvAsInt("RABBITMQ_DRAIN_BATCH_SIZE", 10),
	}
}

// GetConnectionURL returns the RabbitMQ connection URL.
func (r RabbitMQConfig) GetConnectionURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		r.Username, r.Password, r.Host, r.Port, r.VHost)
}

// GetQueueName generates a queue name for a command type.
func (r RabbitMQConfig) GetQueueName(command string) string {
	return fmt.Sprintf("%s.%s", r.QueuePrefix, command)
}

// GetDeadLetterQueueName generates the dead-letter queue name paired with a
// work queue.
func (r RabbitMQConfig) GetDeadLetterQueueName(command string) string {
	return fmt.Sprintf("%s.%s.dlq", r.QueuePrefix, command)
}

// Validate checks if the RabbitMQ configuration is usable.
func (r RabbitMQConfig) Validate() error {
	if r.Host == "" {
		return fmt.Errorf("RabbitMQ host is required")
	}

	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("RabbitMQ port must be between 1 and 65535")
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("RabbitMQ max retries must not be negative")
	}

	return nil
}
