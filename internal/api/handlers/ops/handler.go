// Package ops exposes the operator surface: dead-letter redrive, queue
// inspection and the reconciliation backlog.
package ops

import (
	"github.com/artbay/market-bridge/internal/queue"
	"github.com/artbay/market-bridge/internal/store"
)

// Handler serves operator requests.
type Handler struct {
	drainer *queue.Drainer
	client  *queue.RabbitMQClient
	store   *store.Store
}

// NewHandler creates an ops handler.
func NewHandler(drainer *queue.Drainer, client *queue.RabbitMQClient, st *store.Store) *Handler {
	return &Handler{
		drainer: drainer,
		client:  client,
		store:   st,
	}
}
