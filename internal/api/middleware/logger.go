package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// isSensitiveParam reports whether a query parameter carries credential
// material that must not reach the logs.
func isSensitiveParam(name string) bool {
	switch strings.ToLower(name) {
	case "token", "key", "secret", "password", "code", "state":
		return true
	}
	return false
}

// redactQuery renders a raw query string with credential parameters masked.
// Unparseable queries pass through untouched.
func redactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}

	touched := false
	for name, values := range params {
		if !isSensitiveParam(name) {
			continue
		}
		for i := range values {
			values[i] = "[REDACTED]"
		}
		touched = true
	}
	if !touched {
		return rawQuery
	}
	return params.Encode()
}

// RequestLogger logs one line per request with zerolog. Credential-bearing
// query parameters are masked; metrics scrapes log at debug.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := redactQuery(c.Request.URL.RawQuery)

		c.Next()

		status := c.Writer.Status()

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		case path == "/metrics":
			event = log.Debug()
		default:
			event = log.Info()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size()).
			Msg("request")
	}
}
