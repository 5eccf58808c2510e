package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/artbay/market-bridge/internal/config"
)

// Broker is the subset of client operations the drainer needs. It is
// satisfied by RabbitMQClient.
type Broker interface {
	Get(queueName string) (amqp.Delivery, bool, error)
	PublishRaw(ctx context.Context, queueName string, body []byte, headers amqp.Table) error
}

// Drainer moves dead-lettered messages back onto their work queues so they
// run through their saga again, in bounded batches.
type Drainer struct {
	broker Broker
	cfg    config.RabbitMQConfig
}

// NewDrainer creates a drainer over the given broker connection.
func NewDrainer(broker Broker, cfg config.RabbitMQConfig) *Drainer {
	return &Drainer{broker: broker, cfg: cfg}
}

// Drain empties a command's dead-letter queue into its work queue and
// returns the number of messages moved. Messages are fetched in batches of
// the configured size; an empty fetch ends the drain. The retry count header
// is reset so redriven messages get a full retry budget.
func (d *Drainer) Drain(ctx context.Context, command Command) (int, error) {
	if !command.Valid() {
		return 0, fmt.Errorf("unknown command %q", command)
	}

	dlqName := d.cfg.GetDeadLetterQueueName(string(command))
	workName := d.cfg.GetQueueName(string(command))
	batchSize := d.cfg.DrainBatchSize

	total := 0
	for {
		moved := 0
		for i := 0; i < batchSize; i++ {
			if err := ctx.Err(); err != nil {
				return total, err
			}

			delivery, ok, err := d.broker.Get(dlqName)
			if err != nil {
				return total, fmt.Errorf("failed to fetch from %s: %w", dlqName, err)
			}
			if !ok {
				if moved > 0 {
					log.Info().
						Str("dlq", dlqName).
						Int("batch", moved).
						Msg("Dead-letter batch redriven")
				}
				return total + moved, nil
			}

			if err := d.broker.PublishRaw(ctx, workName, delivery.Body, amqp.Table{}); err != nil {
				// Keep the message in the DLQ rather than losing it.
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					log.Error().Err(nackErr).Str("dlq", dlqName).Msg("Failed to return message to DLQ")
				}
				return total + moved, fmt.Errorf("failed to republish to %s: %w", workName, err)
			}

			if err := delivery.Ack(false); err != nil {
				return total + moved, fmt.Errorf("failed to ACK drained message: %w", err)
			}
			moved++
		}

		total += moved
		log.Info().
			Str("dlq", dlqName).
			Int("batch", moved).
			Int("total", total).
			Msg("Dead-letter batch redriven")
	}
}

// DrainAll drains every command's dead-letter queue and returns the moved
// count per command. It stops at the first broker error.
func (d *Drainer) DrainAll(ctx context.Context) (map[Command]int, error) {
	counts := make(map[Command]int, len(AllCommands()))

	for _, command := range AllCommands() {
		n, err := d.Drain(ctx, command)
		counts[command] = n
		if err != nil {
			return counts, err
		}
	}

	return counts, nil
}
