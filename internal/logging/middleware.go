package logging

import (
	"time"

	"github.com/labstack/echo/v4"
)

const echoLoggerKey = "logger"

// Middleware logs one line per HTTP request and stores a request-scoped
// logger on the echo context.
func Middleware(base *Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			requestID := c.Request().Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = c.Response().Header().Get(echo.HeaderXRequestID)
			}
			reqLogger := base.With("request_id", requestID)
			c.Set(echoLoggerKey, reqLogger)

			err := next(c)
			if err != nil {
				// let the error handler write the response so status is final
				c.Error(err)
			}

			reqLogger.Info("HTTP request",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"latency", time.Since(start),
				"ip", c.RealIP(),
			)
			return nil
		}
	}
}

// FromEcho returns the request-scoped logger, or fallback when none is set.
func FromEcho(c echo.Context, fallback *Logger) *Logger {
	if l, ok := c.Get(echoLoggerKey).(*Logger); ok {
		return l
	}
	return fallback
}
