package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/artbay/market-bridge/internal/blockchain"
	"github.com/artbay/market-bridge/internal/config"
	"github.com/artbay/market-bridge/internal/notifier"
)

// retryCountHeader carries the explicit redelivery count across republishes.
const retryCountHeader = "x-retry-count"

// publisher is the subset of client operations the consumer needs for
// republishing retried messages.
type publisher interface {
	PublishRaw(ctx context.Context, queueName string, body []byte, headers amqp.Table) error
}

// ResultNotifier pushes a terminal result to the originating client.
type ResultNotifier interface {
	Notify(wallet string, p notifier.Payload)
}

// Consumer drains the four command queues and dispatches each message to its
// saga. A message is acknowledged only once the saga reports a durably
// recorded terminal state; retriable failures are republished with an
// incremented retry count until the budget is exhausted, then dead-lettered.
type Consumer struct {
	client     *RabbitMQClient
	pub        publisher
	cfg        config.RabbitMQConfig
	dispatcher Dispatcher
	notifier   ResultNotifier

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewConsumer creates a consumer over the given client and saga dispatcher.
func NewConsumer(client *RabbitMQClient, dispatcher Dispatcher, n ResultNotifier) *Consumer {
	return &Consumer{
		client:     client,
		pub:        client,
		cfg:        client.Config(),
		dispatcher: dispatcher,
		notifier:   n,
		stopChan:   make(chan struct{}),
	}
}

// Start begins consuming every command queue. One goroutine runs per queue;
// each in-flight message gets its own goroutine so slow chain confirmations
// do not block the queue.
func (c *Consumer) Start(ctx context.Context) error {
	for _, command := range AllCommands() {
		deliveries, err := c.client.Consume(command)
		if err != nil {
			return fmt.Errorf("failed to start consumer for %s: %w", command, err)
		}

		c.wg.Add(1)
		go c.run(ctx, command, deliveries)
	}

	log.Info().Msg("Transaction command consumer started")
	return nil
}

// Stop waits for the per-queue loops to finish.
func (c *Consumer) Stop() {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	c.wg.Wait()
	log.Info().Msg("Transaction command consumer stopped")
}

func (c *Consumer) run(ctx context.Context, command Command, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Warn().Str("command", string(command)).Msg("Delivery channel closed")
				return
			}

			c.wg.Add(1)
			go func(d amqp.Delivery) {
				defer c.wg.Done()
				c.handle(ctx, command, d)
			}(d)
		}
	}
}

// handle runs one message through its saga and applies the ack policy.
func (c *Consumer) handle(ctx context.Context, command Command, d amqp.Delivery) {
	err := c.dispatch(ctx, command, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error().Err(ackErr).Str("command", string(command)).Msg("Failed to ACK message")
		}
		return
	}

	var parseErr *payloadError
	if errors.As(err, &parseErr) {
		// Malformed payloads can never succeed; dead-letter immediately.
		log.Error().Err(err).Str("command", string(command)).Msg("Dropping malformed command to DLQ")
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error().Err(nackErr).Msg("Failed to NACK malformed message")
		}
		return
	}

	if errors.Is(err, blockchain.ErrUnreachable) {
		c.retryOrDeadLetter(ctx, command, d, err)
		return
	}

	// The saga failed after the point of no return without recording a
	// terminal state (e.g. the ledger write failed after the chain call
	// succeeded). Dead-letter for operator follow-up and tell the client.
	log.Error().Err(err).Str("command", string(command)).Msg("Saga ended without durable terminal state, dead-lettering")
	c.notifyDeadLetter(command, d.Body, err)
	if nackErr := d.Nack(false, false); nackErr != nil {
		log.Error().Err(nackErr).Msg("Failed to NACK message")
	}
}

// retryOrDeadLetter republishes a retriable message with an incremented
// retry count, or dead-letters it once the budget is exhausted.
func (c *Consumer) retryOrDeadLetter(ctx context.Context, command Command, d amqp.Delivery, cause error) {
	retries := retryCount(d.Headers)

	if retries < c.cfg.MaxRetries {
		queueName := c.cfg.GetQueueName(string(command))
		headers := amqp.Table{retryCountHeader: int32(retries + 1)}

		if err := c.pub.PublishRaw(ctx, queueName, d.Body, headers); err != nil {
			log.Error().Err(err).Str("command", string(command)).Msg("Failed to republish for retry, requeueing")
			if nackErr := d.Nack(false, true); nackErr != nil {
				log.Error().Err(nackErr).Msg("Failed to requeue message")
			}
			return
		}

		log.Warn().
			Err(cause).
			Str("command", string(command)).
			Int("retry", retries+1).
			Int("max_retries", c.cfg.MaxRetries).
			Msg("Chain unreachable, message republished for retry")

		if err := d.Ack(false); err != nil {
			log.Error().Err(err).Msg("Failed to ACK republished message")
		}
		return
	}

	log.Error().
		Err(cause).
		Str("command", string(command)).
		Int("retries", retries).
		Msg("Retry budget exhausted, dead-lettering message")

	c.notifyDeadLetter(command, d.Body, cause)

	if err := d.Nack(false, false); err != nil {
		log.Error().Err(err).Msg("Failed to NACK exhausted message")
	}
}

// payloadError marks messages that could not be decoded.
type payloadError struct {
	command Command
	cause   error
}

func (e *payloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.command, e.cause)
}

func (e *payloadError) Unwrap() error { return e.cause }

func (c *Consumer) dispatch(ctx context.Context, command Command, body []byte) error {
	switch command {
	case CommandMint:
		var cmd MintCommand
		if err := json.Unmarshal(body, &cmd); err != nil {
			return &payloadError{command: command, cause: err}
		}
		return c.dispatcher.ExecuteMint(ctx, cmd)
	case CommandTransfer:
		var cmd TransferCommand
		if err := json.Unmarshal(body, &cmd); err != nil {
			return &payloadError{command: command, cause: err}
		}
		return c.dispatcher.ExecuteTransfer(ctx, cmd)
	case CommandTransferMint:
		var cmd TransferMintCommand
		if err := json.Unmarshal(body, &cmd); err != nil {
			return &payloadError{command: command, cause: err}
		}
		return c.dispatcher.ExecuteTransferMint(ctx, cmd)
	case CommandBurn:
		var cmd BurnCommand
		if err := json.Unmarshal(body, &cmd); err != nil {
			return &payloadError{command: command, cause: err}
		}
		return c.dispatcher.ExecuteBurn(ctx, cmd)
	default:
		return &payloadError{command: command, cause: fmt.Errorf("unknown command")}
	}
}

// notifyDeadLetter emits a failure to the originating wallet when a message
// leaves the work queue without a terminal ledger state.
func (c *Consumer) notifyDeadLetter(command Command, body []byte, cause error) {
	if c.notifier == nil {
		return
	}

	var origin struct {
		OwnerAddress string `json:"owner_address"`
	}
	if err := json.Unmarshal(body, &origin); err != nil || origin.OwnerAddress == "" {
		return
	}

	c.notifier.Notify(origin.OwnerAddress, notifier.Failure(
		notificationType(command),
		cause.Error(),
		map[string]interface{}{"dead_lettered": true},
	))
}

func notificationType(command Command) string {
	switch command {
	case CommandMint:
		return "Mint"
	case CommandTransfer:
		return "Transfer"
	case CommandTransferMint:
		return "TransferNMint"
	case CommandBurn:
		return "Burn"
	}
	return string(command)
}

func retryCount(headers amqp.Table) int {
	v, ok := headers[retryCountHeader]
	if !ok {
		return 0
	}

	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	}
	return 0
}
