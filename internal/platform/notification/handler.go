package notification

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes direct sends and delivery records over HTTP, mainly for
// operators poking at the transport layer.
type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/notifications/send", h.Send)
	g.POST("/notifications/send-template", h.SendTemplate)
	g.GET("/notifications/stats", h.Stats)
	g.GET("/notifications/:id", h.Get)
	g.GET("/notifications", h.List)
	g.POST("/notifications/:id/retry", h.Retry)
}

func (h *Handler) Send(c echo.Context) error {
	var req struct {
		Type      NotificationType  `json:"type"`
		Recipient string            `json:"recipient"`
		Subject   string            `json:"subject"`
		Body      string            `json:"body"`
		Priority  string            `json:"priority"`
		Metadata  map[string]string `json:"metadata"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	n := &Notification{
		Type:      req.Type,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Body,
		Priority:  req.Priority,
		Metadata:  req.Metadata,
	}
	// The record is returned either way; a failed send shows up with its
	// transport error on it.
	_ = h.mgr.Send(c.Request().Context(), n)
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) SendTemplate(c echo.Context) error {
	var req struct {
		TemplateID string            `json:"template_id"`
		Recipient  string            `json:"recipient"`
		Data       map[string]string `json:"data"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	n, err := h.mgr.SendFromTemplate(c.Request().Context(), req.TemplateID, req.Data, req.Recipient)
	if err != nil && n == nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) Get(c echo.Context) error {
	n, err := h.mgr.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) List(c echo.Context) error {
	recipient := c.QueryParam("recipient")
	if recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient query parameter is required")
	}
	list, err := h.mgr.ListByRecipient(c.Request().Context(), recipient, 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) Retry(c echo.Context) error {
	id := c.Param("id")
	if err := h.mgr.Retry(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, _ := h.mgr.Get(c.Request().Context(), id)
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mgr.Stats(c.Request().Context()))
}
