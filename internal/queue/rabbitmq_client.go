package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/artbay/market-bridge/internal/config"
)

// RabbitMQClient handles the RabbitMQ connection, queue topology and
// publishing for the command queues and their dead-letter pairs.
type RabbitMQClient struct {
	config     config.RabbitMQConfig
	connection *amqp.Connection
	channel    *amqp.Channel
	declared   map[string]amqp.Queue
	mutex      sync.RWMutex

	reconnectCount int
	healthy        bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRabbitMQClient connects to RabbitMQ and starts connection monitoring.
func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &RabbitMQClient{
		config:   cfg,
		declared: make(map[string]amqp.Queue),
		stopChan: make(chan struct{}),
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	client.wg.Add(1)
	go client.monitorConnection()

	return client, nil
}

func (c *RabbitMQClient) connect() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.closeConnections()

	var err error
	c.connection, err = amqp.DialConfig(c.config.GetConnectionURL(), amqp.Config{
		Heartbeat: c.config.Heartbeat,
	})
	if err != nil {
		c.healthy = false
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	c.channel, err = c.connection.Channel()
	if err != nil {
		c.connection.Close()
		c.healthy = false
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.channel.Qos(c.config.PrefetchCount, 0, false); err != nil {
		c.closeConnections()
		c.healthy = false
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	// Topology must be re-declared after a reconnect.
	c.declared = make(map[string]amqp.Queue)

	c.healthy = true

	log.Info().
		Str("host", c.config.Host).
		Int("port", c.config.Port).
		Msg("Connected to RabbitMQ")

	return nil
}

func (c *RabbitMQClient) closeConnections() {
	if c.channel != nil && !c.channel.IsClosed() {
		c.channel.Close()
	}
	if c.connection != nil && !c.connection.IsClosed() {
		c.connection.Close()
	}
	c.healthy = false
}

func (c *RabbitMQClient) monitorConnection() {
	defer c.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if !c.IsHealthy() {
				log.Warn().Msg("RabbitMQ connection unhealthy, attempting reconnect")
				if err := c.connect(); err != nil {
					c.reconnectCount++
					log.Error().
						Err(err).
						Int("attempt", c.reconnectCount).
						Msg("Failed to reconnect to RabbitMQ")
				} else {
					c.reconnectCount = 0
					log.Info().Msg("Successfully reconnected to RabbitMQ")
				}
			}
		}
	}
}

// DeclareCommandQueue declares a command's work queue and its dead-letter
// pair. Rejected deliveries on the work queue route to the dead-letter queue
// at broker level.
func (c *RabbitMQClient) DeclareCommandQueue(command Command) (amqp.Queue, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.healthy {
		return amqp.Queue{}, fmt.Errorf("RabbitMQ client is not healthy")
	}

	workName := c.config.GetQueueName(string(command))
	if queue, exists := c.declared[workName]; exists {
		return queue, nil
	}

	dlqName := c.config.GetDeadLetterQueueName(string(command))

	if _, err := c.channel.QueueDeclare(
		dlqName,
		c.config.DurableQueues,
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare dead-letter queue %s: %w", dlqName, err)
	}

	queue, err := c.channel.QueueDeclare(
		workName,
		c.config.DurableQueues,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqName,
		},
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare queue %s: %w", workName, err)
	}

	c.declared[workName] = queue

	log.Debug().
		Str("queue", workName).
		Str("dlq", dlqName).
		Bool("durable", c.config.DurableQueues).
		Msg("Command queue declared")

	return queue, nil
}

// Publish marshals the message and publishes it persistently to the queue.
func (c *RabbitMQClient) Publish(ctx context.Context, queueName string, message interface{}, headers amqp.Table) error {
	if !c.IsHealthy() {
		return fmt.Errorf("RabbitMQ client is not healthy")
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return c.PublishRaw(ctx, queueName, body, headers)
}

// PublishRaw publishes a pre-encoded body persistently to the queue.
func (c *RabbitMQClient) PublishRaw(ctx context.Context, queueName string, body []byte, headers amqp.Table) error {
	c.mutex.RLock()
	channel := c.channel
	c.mutex.RUnlock()

	err := channel.PublishWithContext(
		ctx,
		"",        // default exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
			Body:         body,
		},
	)
	if err != nil {
		c.mutex.Lock()
		c.healthy = false
		c.mutex.Unlock()
		return fmt.Errorf("failed to publish message to queue %s: %w", queueName, err)
	}

	log.Debug().
		Str("queue", queueName).
		Int("size", len(body)).
		Msg("Message published")

	return nil
}

// Consume starts consuming a command's work queue with manual acknowledge.
func (c *RabbitMQClient) Consume(command Command) (<-chan amqp.Delivery, error) {
	if _, err := c.DeclareCommandQueue(command); err != nil {
		return nil, err
	}

	queueName := c.config.GetQueueName(string(command))

	c.mutex.RLock()
	channel := c.channel
	c.mutex.RUnlock()

	messages, err := channel.Consume(
		queueName,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from queue %s: %w", queueName, err)
	}

	log.Info().Str("queue", queueName).Msg("Started consuming messages")

	return messages, nil
}

// Get fetches a single message without waiting; used by the dead-letter
// drainer.
func (c *RabbitMQClient) Get(queueName string) (amqp.Delivery, bool, error) {
	c.mutex.RLock()
	channel := c.channel
	c.mutex.RUnlock()

	return channel.Get(queueName, false)
}

// QueueDepth returns the number of ready messages in a queue.
func (c *RabbitMQClient) QueueDepth(queueName string) (int, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.healthy {
		return 0, fmt.Errorf("RabbitMQ client is not healthy")
	}

	queue, err := c.channel.QueueDeclarePassive(queueName, c.config.DurableQueues, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue %s: %w", queueName, err)
	}

	return queue.Messages, nil
}

// IsHealthy checks if the RabbitMQ connection is usable.
func (c *RabbitMQClient) IsHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.healthy {
		return false
	}

	if c.connection == nil || c.connection.IsClosed() {
		return false
	}

	if c.channel == nil || c.channel.IsClosed() {
		return false
	}

	return true
}

// Config returns the client's queue configuration.
func (c *RabbitMQClient) Config() config.RabbitMQConfig {
	return c.config
}

// Close stops monitoring and closes the connection.
func (c *RabbitMQClient) Close() error {
	log.Info().Msg("Closing RabbitMQ client")

	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	c.wg.Wait()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closeConnections()

	log.Info().Msg("RabbitMQ client closed")
	return nil
}
