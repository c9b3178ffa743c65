package events

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careloop/careloop/pkg/pagination"
)

// Handler exposes subscription management over HTTP.
type Handler struct {
	pub *Publisher
}

func NewHandler(pub *Publisher) *Handler {
	return &Handler{pub: pub}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/subscriptions", h.Subscribe)
	g.GET("/subscriptions", h.List)
	g.GET("/subscriptions/:id", h.Get)
	g.PUT("/subscriptions/:id", h.Update)
	g.DELETE("/subscriptions/:id", h.Delete)
	g.POST("/subscriptions/:id/test", h.Test)
	g.GET("/subscriptions/:id/deliveries", h.Deliveries)
	g.POST("/subscriptions/:id/pause", h.Pause)
	g.POST("/subscriptions/:id/resume", h.Resume)
	g.POST("/subscriptions/deliveries/:id/retry", h.RetryDelivery)
}

func (h *Handler) Subscribe(c echo.Context) error {
	var req struct {
		URL      string   `json:"url"`
		Secret   string   `json:"secret"`
		TenantID string   `json:"tenant_id"`
		Events   []string `json:"events"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub, err := h.pub.Subscribe(c.Request().Context(), req.URL, req.Secret, req.TenantID, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sub)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	subs, total, err := h.pub.List(c.Request().Context(), c.QueryParam("tenant_id"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(subs, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	sub, err := h.pub.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) Update(c echo.Context) error {
	sub, err := h.pub.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}

	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
		Status string   `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL != "" {
		if err := checkSubscriberURL(req.URL); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		sub.URL = req.URL
	}
	if len(req.Events) > 0 {
		sub.Events = req.Events
	}
	if req.Status != "" {
		sub.Status = req.Status
	}

	if err := h.pub.Update(c.Request().Context(), sub); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.pub.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Test(c echo.Context) error {
	attempt, err := h.pub.TestSubscription(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, attempt)
}

func (h *Handler) Deliveries(c echo.Context) error {
	pg := pagination.FromContext(c)
	log, total, err := h.pub.DeliveryLog(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(log, total, pg.Limit, pg.Offset))
}

func (h *Handler) RetryDelivery(c echo.Context) error {
	attempt, err := h.pub.RetryDelivery(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, attempt)
}

func (h *Handler) Pause(c echo.Context) error {
	if err := h.pub.Pause(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": SubscriptionPaused})
}

func (h *Handler) Resume(c echo.Context) error {
	if err := h.pub.Resume(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": SubscriptionActive})
}
