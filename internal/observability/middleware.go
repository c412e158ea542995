package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// unmatchedRoute labels requests no route handled, so probing clients
// cannot grow the metric label set.
const unmatchedRoute = "unmatched"

// RequestLogger logs each admin request at debug, or warn/error for 4xx/5xx.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := routeOf(c)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Debug()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Str("group", routeGroup(route)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("remote", c.ClientIP()).
			Bool("bearer", c.GetHeader("Authorization") != "").
			Int("bytes", c.Writer.Size()).
			Msg("admin.request")
	}
}

func RequestMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

// routeGroup is the first path segment: "/cache" and "/cache/x" are both "cache".
func routeGroup(route string) string {
	if route == unmatchedRoute {
		return route
	}
	seg, _, _ := strings.Cut(strings.TrimPrefix(route, "/"), "/")
	if seg == "" {
		return "root"
	}
	return seg
}
