package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"tenant-lifecycle/backend/internal/logging"
	"tenant-lifecycle/backend/internal/services"
)

const serviceName = "tenant-lifecycle"

// Version is reported by the health endpoint. Overridden at build time.
var Version = "dev"

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealth returns basic liveness (always 200 OK).
func HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   serviceName,
		Version:   Version,
	})
}

// ReadinessHandler returns 503 while db cannot be reached.
func ReadinessHandler(db Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := HealthStatus{Status: "ok", Timestamp: time.Now().UTC(), Service: serviceName, Version: Version}
		if db != nil {
			if err := db.Ping(c.Request().Context()); err != nil {
				status.Status = "unavailable"
				return c.JSON(http.StatusServiceUnavailable, status)
			}
		}
		return c.JSON(http.StatusOK, status)
	}
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// Problem types let administrative tooling tell "not found" from "wrong
// state" from "retry later" without parsing the detail.
const (
	ProblemInvalidInput       = "urn:tenant-lifecycle:problem:invalid-input"
	ProblemNotFound           = "urn:tenant-lifecycle:problem:not-found"
	ProblemInvalidTransition  = "urn:tenant-lifecycle:problem:invalid-transition"
	ProblemPersistenceFailure = "urn:tenant-lifecycle:problem:persistence-failure"
)

// problemFor maps an error to its problem document.
func problemFor(err error) ProblemDetails {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return ProblemDetails{Type: ProblemInvalidInput, Title: "Invalid input", Status: http.StatusBadRequest, Detail: err.Error()}
	case errors.Is(err, services.ErrNotFound):
		return ProblemDetails{Type: ProblemNotFound, Title: "Tenant not found", Status: http.StatusNotFound, Detail: err.Error()}
	case errors.Is(err, services.ErrInvalidTransition):
		return ProblemDetails{Type: ProblemInvalidTransition, Title: "Invalid lifecycle transition", Status: http.StatusConflict, Detail: err.Error()}
	case errors.Is(err, services.ErrPersistence):
		return ProblemDetails{
			Type:   ProblemPersistenceFailure,
			Title:  "Transient failure",
			Status: http.StatusServiceUnavailable,
			Detail: "the lifecycle change was not committed; retry the request",
		}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		detail := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
		return ProblemDetails{Type: "about:blank", Title: http.StatusText(he.Code), Status: he.Code, Detail: detail}
	}
	return ProblemDetails{
		Type:   "about:blank",
		Title:  http.StatusText(http.StatusInternalServerError),
		Status: http.StatusInternalServerError,
		Detail: "internal error",
	}
}

// ErrorHandler returns an echo.HTTPErrorHandler writing RFC 7807 documents.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		problem := problemFor(err)
		problem.Instance = c.Request().URL.Path

		log := logging.FromEcho(c, logger)
		if problem.Status >= http.StatusInternalServerError {
			log.Error("Request failed", "path", problem.Instance, "status", problem.Status, "error", err)
		}
		if problem.Status == http.StatusServiceUnavailable {
			c.Response().Header().Set("Retry-After", "5")
		}
		writeProblem(c, problem)
	}
}

func writeProblem(c echo.Context, problem ProblemDetails) {
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	c.Response().WriteHeader(problem.Status)
	if c.Request().Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(c.Response()).Encode(problem)
}
