package ops

import (
	"net/http"

	"github.com/go-openapi/swag"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/artbay/market-bridge/internal/api"
	"github.com/artbay/market-bridge/internal/queue"
)

// QueueDepth reports the ready-message counts of one command's queue pair.
type QueueDepth struct {
	Command    string `json:"command"`
	Ready      *int64 `json:"ready"`
	DeadLetter *int64 `json:"dead_letter"`
}

// QueueDepthsResponse lists the depth of every command queue.
type QueueDepthsResponse struct {
	Queues []*QueueDepth `json:"queues"`
}

// GetQueueDepthsRoute creates the route for queue depth inspection.
func GetQueueDepthsRoute(s *api.Server) *echo.Route {
	handler := NewHandler(s.Drainer, s.RabbitMQ, s.Store)
	return s.Router.Management.GET("/queues", handler.GetQueueDepths)
}

// GetQueueDepths handles GET /-/queues requests.
func (h *Handler) GetQueueDepths(c echo.Context) error {
	cfg := h.client.Config()

	depths := make([]*QueueDepth, 0, len(queue.AllCommands()))
	for _, command := range queue.AllCommands() {
		ready, err := h.client.QueueDepth(cfg.GetQueueName(string(command)))
		if err != nil {
			log.Error().Err(err).Str("command", string(command)).Msg("Failed to inspect queue")
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}

		dead, err := h.client.QueueDepth(cfg.GetDeadLetterQueueName(string(command)))
		if err != nil {
			log.Error().Err(err).Str("command", string(command)).Msg("Failed to inspect dead-letter queue")
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}

		depths = append(depths, &QueueDepth{
			Command:    string(command),
			Ready:      swag.Int64(int64(ready)),
			DeadLetter: swag.Int64(int64(dead)),
		})
	}

	return c.JSON(http.StatusOK, &QueueDepthsResponse{Queues: depths})
}
