// Package handlers collects every route attached to the server.
package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/artbay/market-bridge/internal/api"
	"github.com/artbay/market-bridge/internal/api/handlers/ops"
	"github.com/artbay/market-bridge/internal/api/handlers/ws"
)

// Routes returns every route constructor the server attaches.
func Routes() []func(s *api.Server) *echo.Route {
	return []func(s *api.Server) *echo.Route{
		api.GetHealthyRoute,
		ops.GetQueueDepthsRoute,
		ops.GetReconciliationsRoute,
		ops.PostDrainDeadLettersRoute,
		ws.GetNotificationsRoute,
	}
}
