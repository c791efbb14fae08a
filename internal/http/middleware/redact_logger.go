// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Redactor used by AccessLog to keep credentials and
// obvious PII (emails, phone numbers) out of logs. Bodies are never logged,
// so only the query string and request headers pass through it.
//
// Duel and notification ids are UUIDs and are left readable: they are the
// first thing an operator searches for.
package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

var (
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex runs inside UUIDs never match.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
)

// defaultMaskedHeaders are always replaced with [REDACTED].
var defaultMaskedHeaders = []string{"Authorization", "Cookie", "Set-Cookie", "X-Api-Key", "Sec-Websocket-Key"}

// Redactor scrubs strings and header sets. The zero value masks only the
// default headers.
type Redactor struct {
	masked map[string]struct{}
}

// NewRedactor returns a Redactor that also fully masks extraHeaders.
func NewRedactor(extraHeaders ...string) *Redactor {
	r := &Redactor{masked: make(map[string]struct{})}
	for _, h := range append(append([]string(nil), defaultMaskedHeaders...), extraHeaders...) {
		if h = strings.TrimSpace(h); h != "" {
			r.masked[http.CanonicalHeaderKey(h)] = struct{}{}
		}
	}
	return r
}

// Scrub replaces emails and phone numbers in s. UUIDs are protected from
// the phone pattern.
func (r *Redactor) Scrub(s string) string {
	if s == "" {
		return s
	}
	ids := uuidRE.FindAllString(s, -1)
	out := uuidRE.ReplaceAllString(s, "\x00")
	out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
	out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
	for _, id := range ids {
		out = strings.Replace(out, "\x00", id, 1)
	}
	return out
}

// Headers returns a flattened, scrubbed copy of h.
func (r *Redactor) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if r.isMasked(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.Scrub(strings.Join(vv, ", "))
	}
	return out
}

func (r *Redactor) isMasked(key string) bool {
	key = http.CanonicalHeaderKey(key)
	if r == nil || r.masked == nil {
		for _, h := range defaultMaskedHeaders {
			if http.CanonicalHeaderKey(h) == key {
				return true
			}
		}
		return false
	}
	_, ok := r.masked[key]
	return ok
}
