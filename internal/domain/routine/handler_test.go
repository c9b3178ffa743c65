package routine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *Service) {
	svc, _ := newTestService()
	return NewHandler(svc), svc
}

func jsonRequest(method, path, body string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req, httptest.NewRecorder()
}

func TestHandlerCreateRoutine_Success(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()

	body := `{"patient_id":"` + uuid.NewString() + `","name":"Morning meds","type":"medication","priority":"critical"}`
	req, rec := jsonRequest(http.MethodPost, "/routines", body)
	c := e.NewContext(req, rec)

	if err := h.CreateRoutine(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var rt Routine
	if err := json.Unmarshal(rec.Body.Bytes(), &rt); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rt.ID == uuid.Nil {
		t.Error("expected routine ID in response")
	}
}

func TestHandlerCreateRoutine_ValidationFails(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()

	req, rec := jsonRequest(http.MethodPost, "/routines", `{"name":"no patient","type":"chore"}`)
	c := e.NewContext(req, rec)

	err := h.CreateRoutine(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
}

func TestHandlerGetRoutine_NotFound(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()

	req, rec := jsonRequest(http.MethodGet, "/routines/"+uuid.NewString(), "")
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())

	err := h.GetRoutine(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
}

func TestHandlerCreateRule_EmptyWeekdaysRejected(t *testing.T) {
	h, svc := newTestHandler()
	e := echo.New()

	rt := &Routine{PatientID: uuid.New(), Name: "Morning meds", Type: TypeMedication}
	if err := svc.CreateRoutine(context.Background(), rt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, rec := jsonRequest(http.MethodPost, "/routines/"+rt.ID.String()+"/rules", `{"weekdays":[],"time_of_day":"08:00"}`)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(rt.ID.String())

	err := h.CreateRule(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
}

func TestHandlerDeactivateRoutine_NoContent(t *testing.T) {
	h, svc := newTestHandler()
	e := echo.New()

	rt := &Routine{PatientID: uuid.New(), Name: "Morning meds", Type: TypeMedication}
	if err := svc.CreateRoutine(context.Background(), rt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, rec := jsonRequest(http.MethodPost, "/routines/"+rt.ID.String()+"/deactivate", "")
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(rt.ID.String())

	if err := h.DeactivateRoutine(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
