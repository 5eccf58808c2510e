// Package ws upgrades client connections for result notifications.
package ws

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/artbay/market-bridge/internal/api"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// GetNotificationsRoute creates the websocket route clients subscribe on.
func GetNotificationsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/notifications", getNotifications(s))
}

// getNotifications handles GET /api/v1/notifications?wallet=0x.. requests.
// The connection stays open and receives every terminal result for the
// wallet until the client disconnects.
func getNotifications(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		wallet := c.QueryParam("wallet")
		if !common.IsHexAddress(wallet) {
			return echo.NewHTTPError(http.StatusBadRequest, "wallet must be a hex address")
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}

		log.Debug().Str("wallet", wallet).Msg("Notification subscriber connected")
		s.Hub.Serve(wallet, conn)
		log.Debug().Str("wallet", wallet).Msg("Notification subscriber disconnected")
		return nil
	}
}
