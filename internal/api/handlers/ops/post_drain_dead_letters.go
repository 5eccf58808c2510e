package ops

import (
	"net/http"

	"github.com/go-openapi/swag"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/artbay/market-bridge/internal/api"
	"github.com/artbay/market-bridge/internal/queue"
)

// DrainResponse reports how many dead-lettered messages were moved back to
// their work queues.
type DrainResponse struct {
	Total  *int64           `json:"total"`
	Queues map[string]int64 `json:"queues"`
}

// PostDrainDeadLettersRoute creates the route for the dead-letter redrive.
func PostDrainDeadLettersRoute(s *api.Server) *echo.Route {
	handler := NewHandler(s.Drainer, s.RabbitMQ, s.Store)
	return s.Router.Management.POST("/queues/dead-letters/drain", handler.PostDrainDeadLetters)
}

// PostDrainDeadLetters handles POST /-/queues/dead-letters/drain requests.
// With a ?command= parameter only that queue is drained; without it, all
// four.
func (h *Handler) PostDrainDeadLetters(c echo.Context) error {
	ctx := c.Request().Context()

	counts := make(map[string]int64)
	var total int64

	if raw := c.QueryParam("command"); raw != "" {
		command := queue.Command(raw)
		if !command.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown command "+raw)
		}

		n, err := h.drainer.Drain(ctx, command)
		counts[string(command)] = int64(n)
		total += int64(n)
		if err != nil {
			log.Error().Err(err).Str("command", raw).Msg("Dead-letter drain failed")
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	} else {
		drained, err := h.drainer.DrainAll(ctx)
		for command, n := range drained {
			counts[string(command)] = int64(n)
			total += int64(n)
		}
		if err != nil {
			log.Error().Err(err).Msg("Dead-letter drain failed")
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}

	log.Info().Int64("total", total).Msg("Dead-letter queues drained")

	return c.JSON(http.StatusOK, &DrainResponse{
		Total:  swag.Int64(total),
		Queues: counts,
	})
}
