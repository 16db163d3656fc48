package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UnmatchedRoute labels requests that hit no admin route, keeping raw paths
// out of the metric labels.
const UnmatchedRoute = "unmatched"

// ClientHeader carries the multiplexer client id a caller wants to reuse.
const ClientHeader = "X-Client-ID"

// AdminAccess logs and counts every admin API request. GET routes and the
// quiet routes log at debug, other actions at info. Failures log at warn or
// error.
func AdminAccess(logger zerolog.Logger, quiet ...string) gin.HandlerFunc {
	quietRoutes := make(map[string]bool, len(quiet))
	for _, route := range quiet {
		quietRoutes[route] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		took := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = UnmatchedRoute
		}
		RecordHTTPRequest(c.Request.Method, route, status, took)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case quietRoutes[route] || c.Request.Method == "GET":
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		if route == UnmatchedRoute {
			event = event.Str("path", c.Request.URL.Path)
		}
		if client := c.GetHeader(ClientHeader); client != "" {
			event = event.Str("client", client)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("took", took).
			Int("bytes", c.Writer.Size()).
			Msg("admin.request")
	}
}
