// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's identity. Authentication happens upstream
// (API gateway or auth proxy), which forwards the verified user id in the
// X-User-ID header. Identity copies it into the Gin context so rate limiting,
// idempotency and handlers all key on the same value.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID carries the authenticated user id.
const HeaderUserID = "X-User-ID"

// ctxKeyUserID is the Gin context key holding the caller's user id.
const ctxKeyUserID = "userID"

// AnonymousUser is returned by UserID when no identity is available.
const AnonymousUser = "anonymous"

// Identity stashes the X-User-ID header in the Gin context unless upstream
// middleware already set an identity.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ctxKeyUserID); !ok {
			if h := strings.TrimSpace(c.GetHeader(HeaderUserID)); h != "" {
				c.Set(ctxKeyUserID, h)
			}
		}
		c.Next()
	}
}

// UserID returns the caller's user id and whether one was supplied.
func UserID(c *gin.Context) (string, bool) {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader(HeaderUserID)); h != "" {
			return h, true
		}
	}
	return "", false
}

// userIDFromCtx is UserID with the anonymous fallback.
func userIDFromCtx(c *gin.Context) string {
	if id, ok := UserID(c); ok {
		return id
	}
	return AnonymousUser
}
