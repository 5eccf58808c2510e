package ops

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-openapi/swag"
	"github.com/labstack/echo/v4"

	"github.com/artbay/market-bridge/internal/api"
)

const defaultReconciliationLimit = 50

// ReconciliationItem is one operation awaiting manual follow-up.
type ReconciliationItem struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Reference string    `json:"reference"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Wallet    string    `json:"wallet,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// ReconciliationsResponse lists the reconciliation backlog, newest first.
type ReconciliationsResponse struct {
	Count   *int64                `json:"count"`
	Records []*ReconciliationItem `json:"records"`
}

// GetReconciliationsRoute creates the route for the reconciliation backlog.
func GetReconciliationsRoute(s *api.Server) *echo.Route {
	handler := NewHandler(s.Drainer, s.RabbitMQ, s.Store)
	return s.Router.Management.GET("/reconciliations", handler.GetReconciliations)
}

// GetReconciliations handles GET /-/reconciliations requests.
func (h *Handler) GetReconciliations(c echo.Context) error {
	ctx := c.Request().Context()

	limit := defaultReconciliationLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	records, err := h.store.ListOpenReconciliations(ctx, h.store.DB(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	items := make([]*ReconciliationItem, 0, len(records))
	for _, r := range records {
		items = append(items, &ReconciliationItem{
			ID:        r.ID.String(),
			Kind:      string(r.Kind),
			Reference: r.Reference,
			TxHash:    r.TxHash,
			Wallet:    r.Wallet,
			Amount:    r.Amount,
			Detail:    r.Detail,
			CreatedAt: r.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, &ReconciliationsResponse{
		Count:   swag.Int64(int64(len(items))),
		Records: items,
	})
}
