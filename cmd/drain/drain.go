// Package drain implements the one-shot dead-letter redrive subcommand.
package drain

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/artbay/market-bridge/internal/config"
	"github.com/artbay/market-bridge/internal/queue"
)

// New creates the drain subcommand.
func New() *cobra.Command {
	var commandName string

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Moves dead-lettered messages back to their work queues",
		Long: `Connects to RabbitMQ and republishes dead-lettered command messages onto
their work queues in batches, then exits. Run after the failure cause
(chain outage, database outage) has been resolved.`,
		Run: func(_ *cobra.Command, _ []string) {
			runDrain(commandName)
		},
	}

	cmd.Flags().StringVar(&commandName, "command", "", "drain only this command queue (mint, transfer, transfer_mint, burn)")

	return cmd
}

func runDrain(commandName string) {
	config.InitLogger()
	cfg := config.LoadRabbitMQConfig()

	client, err := queue.NewRabbitMQClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer client.Close()

	for _, command := range queue.AllCommands() {
		if _, err := client.DeclareCommandQueue(command); err != nil {
			log.Fatal().Err(err).Str("command", string(command)).Msg("Failed to declare queue")
		}
	}

	drainer := queue.NewDrainer(client, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if commandName != "" {
		command := queue.Command(commandName)
		if !command.Valid() {
			log.Fatal().Str("command", commandName).Msg("Unknown command")
		}

		n, err := drainer.Drain(ctx, command)
		if err != nil {
			log.Fatal().Err(err).Int("drained", n).Msg("Drain failed")
		}
		log.Info().Str("command", commandName).Int("drained", n).Msg("Dead-letter queue drained")
		return
	}

	counts, err := drainer.DrainAll(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Drain failed")
	}

	total := 0
	for command, n := range counts {
		total += n
		log.Info().Str("command", string(command)).Int("drained", n).Msg("Dead-letter queue drained")
	}
	log.Info().Int("total", total).Msg("Drain complete")
}
