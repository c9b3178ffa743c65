package reminder

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careloop/careloop/internal/platform/apperr"
	"github.com/careloop/careloop/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	view := auth.Require("view", "reminders")
	edit := auth.Require("edit", "reminders")

	api.POST("/patients/:id/reminders/ensure-today", h.EnsureToday, edit)
	api.GET("/patients/:id/reminders/day", h.DayView, view)
	api.GET("/patients/:id/gate", h.GateStatus, view)
	api.POST("/reminders/:id/respond", h.Respond, edit)
	api.POST("/reminders/:id/notify", h.Notify, edit)
	api.POST("/routines/:id/steps/:sid/complete", h.CompleteStep, edit)
}

// parseAt reads an optional RFC 3339 "at" query parameter, defaulting to the
// current time.
func parseAt(c echo.Context) (time.Time, error) {
	if v := c.QueryParam("at"); v != "" {
		return time.Parse(time.RFC3339, v)
	}
	return time.Now().UTC(), nil
}

func (h *Handler) EnsureToday(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	asOf, err := parseAt(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid at parameter")
	}

	ids, err := h.svc.EnsureTodayInstances(c.Request().Context(), patientID, asOf)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"instance_ids": ids})
}

func (h *Handler) DayView(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	now, err := parseAt(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid at parameter")
	}
	loc := time.UTC
	if tz := c.QueryParam("tz"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid tz parameter")
		}
	}

	cl, err := h.svc.DayView(c.Request().Context(), patientID, now, loc)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) GateStatus(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	asOf, err := parseAt(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid at parameter")
	}

	status, err := h.svc.GateStatus(c.Request().Context(), patientID, asOf)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) Respond(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var resp Response
	if err := c.Bind(&resp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if resp.ActorID == "" {
		resp.ActorID = auth.UserIDFromContext(c.Request().Context())
	}

	inst, err := h.svc.Respond(c.Request().Context(), id, resp, time.Now().UTC())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *Handler) Notify(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Recipient   string `json:"recipient"`
		PatientName string `json:"patient_name"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	inst, err := h.svc.NotifyDue(c.Request().Context(), id, body.Recipient, body.PatientName)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *Handler) CompleteStep(c echo.Context) error {
	routineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid routine id")
	}
	stepID, err := uuid.Parse(c.Param("sid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid step id")
	}
	var body struct {
		PatientID uuid.UUID `json:"patient_id"`
		Kind      string    `json:"kind"`
		ActorID   string    `json:"actor_id"`
		ActorKind string    `json:"actor_kind"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if body.ActorID == "" {
		body.ActorID = auth.UserIDFromContext(c.Request().Context())
	}

	comp, err := h.svc.CompleteStep(c.Request().Context(), body.PatientID, routineID,
		stepID, body.Kind, body.ActorID, body.ActorKind, time.Now().UTC())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, comp)
}
