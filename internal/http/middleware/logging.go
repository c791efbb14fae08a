// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file covers request correlation and access logging:
//
//   - RequestID() propagates or mints the X-Request-ID correlation id.
//   - AccessLog() attaches a request-scoped zerolog.Logger carrying the
//     request id, caller and duel id, then logs the outcome once the
//     handler returns. WebSocket upgrades log when the stream closes.
//   - Recovery() turns panics into the standard JSON 500 body.
//   - LoggerFrom() hands the scoped logger to handlers.
//
// Order: RequestID, Identity, AccessLog, Recovery.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxRequestIDLength bounds client-supplied correlation ids.
	maxRequestIDLength = 128
	maxQueryLogLength  = 2048
)

// RequestID reuses a well-formed incoming X-Request-ID or mints a UUID, and
// echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLength {
		return false
	}
	for _, r := range s {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}

// RequestIDFrom returns the correlation id set by RequestID.
func RequestIDFrom(c *gin.Context) string {
	v, _ := c.Get(requestIDKey)
	return asString(v)
}

// AccessLogOptions configures AccessLog.
type AccessLogOptions struct {
	// Redactor scrubs the logged query string and headers. Nil logs no
	// headers and the raw (truncated) query.
	Redactor *Redactor
	// SkipPaths are routes that are not logged on success (health probes,
	// metrics scrapes).
	SkipPaths []string
}

// AccessLog emits one structured line per request. 5xx and handler errors
// log at error, 4xx at warn, everything else at info.
func AccessLog(opts AccessLogOptions) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := routeOf(c)
		query := truncate(c.Request.URL.RawQuery, maxQueryLogLength)
		if opts.Redactor != nil {
			query = opts.Redactor.Scrub(query)
		}

		lc := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("user_id", userIDFromCtx(c)).
			Str("method", c.Request.Method).
			Str("path", path)
		if id := c.Param("id"); id != "" && strings.Contains(path, "/duels/") {
			lc = lc.Str("duel_id", id)
		}
		l := lc.Logger()
		c.Set(loggerKey, &l)

		upgrade := isUpgrade(c.Request)
		if upgrade {
			l.Debug().Msg("stream opened")
		}

		c.Next()

		status := c.Writer.Status()
		if _, ok := skip[path]; ok && status < 400 && len(c.Errors) == 0 {
			return
		}

		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = l.Warn()
		default:
			ev = l.Info()
		}
		ev = ev.
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Int64("bytes_in", c.Request.ContentLength).
			Str("remote_ip", c.ClientIP()).
			Str("query", query)
		if opts.Redactor != nil {
			ev = ev.Interface("headers", opts.Redactor.Headers(c.Request.Header))
		}
		if upgrade {
			ev.Msg("stream closed")
			return
		}
		ev.Msg("request")
	}
}

// Recovery logs a panic with its stack and answers with the standard JSON
// 500 body when nothing was written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// AccessLog did not run.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// routeOf is the matched route pattern, or the raw path on a miss.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate cuts s to max bytes plus an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
