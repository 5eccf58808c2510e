package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// InitRouter builds the echo instance and the route groups.
func (s *Server) InitRouter() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s.Echo = e
	s.Router = &Router{
		Root:       e.Group(""),
		Management: e.Group("/-"),
		APIV1:      e.Group("/api/v1"),
	}
}

// AttachRoutes registers every route built by fns and records them on the
// router.
func (s *Server) AttachRoutes(fns []func(s *Server) *echo.Route) {
	for _, fn := range fns {
		s.Router.Routes = append(s.Router.Routes, fn(s))
	}
}

// GetHealthyRoute registers the liveness probe.
func GetHealthyRoute(s *Server) *echo.Route {
	return s.Router.Root.GET("/healthz", func(c echo.Context) error {
		type dependency struct {
			Name    string `json:"name"`
			Healthy bool   `json:"healthy"`
		}

		deps := []dependency{
			{Name: "database", Healthy: s.Store.Ping(c.Request().Context()) == nil},
			{Name: "rabbitmq", Healthy: s.RabbitMQ.IsHealthy()},
		}

		status := http.StatusOK
		for _, d := range deps {
			if !d.Healthy {
				status = http.StatusServiceUnavailable
			}
		}

		return c.JSON(status, map[string]interface{}{
			"healthy":      status == http.StatusOK,
			"dependencies": deps,
		})
	})
}
