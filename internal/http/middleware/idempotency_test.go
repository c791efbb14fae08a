package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct {
	userID, scope, key string
	now                time.Time
}

// idemRouter mounts the validator over the duel routes and records what the
// lookup saw and what the handler observed.
func idemRouter(opts IdempotencyOptions, result bool, err error) (*gin.Engine, *[]lookupCall, *[2]bool) {
	gin.SetMode(gin.TestMode)
	calls := &[]lookupCall{}
	seen := &[2]bool{}
	lookup := func(_ context.Context, userID, scope, key string, now time.Time) (bool, error) {
		*calls = append(*calls, lookupCall{userID, scope, key, now})
		return result, err
	}
	r := gin.New()
	r.Use(RequestID(), Identity(), IdempotencyValidator(opts, lookup))
	h := func(c *gin.Context) {
		seen[0], seen[1] = IsReplay(c), IsRateBypass(c)
		c.Status(http.StatusCreated)
	}
	r.POST("/duels", h)
	r.POST("/duels/:id/submissions", h)
	r.GET("/duels", h)
	return r, calls, seen
}

func postWithKey(r http.Handler, method, path, user, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"default pattern", IdempotencyOptions{}, "has space"},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, calls, _ := idemRouter(tc.opts, false, nil)
			w := postWithKey(r, http.MethodPost, "/duels", "alice", tc.key)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", w.Code)
			}
			var body map[string]string
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body["code"] != "bad_idempotency_key" || body["request_id"] == "" {
				t.Fatalf("body = %v", body)
			}
			if len(*calls) != 0 {
				t.Fatal("lookup ran for a rejected key")
			}
		})
	}
}

func TestIdempotencyValidator_IgnoredWithoutKeyOrOnGET(t *testing.T) {
	r, calls, _ := idemRouter(IdempotencyOptions{}, true, nil)
	if w := postWithKey(r, http.MethodPost, "/duels", "alice", ""); w.Code != http.StatusCreated {
		t.Fatalf("no key = %d", w.Code)
	}
	if w := postWithKey(r, http.MethodGet, "/duels", "alice", "not valid!"); w.Code != http.StatusCreated {
		t.Fatalf("GET with key = %d", w.Code)
	}
	if len(*calls) != 0 {
		t.Fatalf("lookup calls = %v", *calls)
	}
}

func TestIdempotencyValidator_ScopesAndReplays(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	opts := IdempotencyOptions{Now: func() time.Time { return fixed }}

	r, calls, seen := idemRouter(opts, false, nil)
	postWithKey(r, http.MethodPost, "/duels/d42/submissions", "bob", "k-1")
	if len(*calls) != 1 {
		t.Fatalf("calls = %v", *calls)
	}
	got := (*calls)[0]
	if got.userID != "bob" || got.scope != "/duels/:id/submissions#d42" || got.key != "k-1" {
		t.Fatalf("lookup args = %+v", got)
	}
	if !got.now.Equal(fixed) || got.now.Location() != time.UTC {
		t.Fatalf("now = %v, want %v in UTC", got.now, fixed)
	}
	if seen[0] || seen[1] {
		t.Fatalf("miss marked replay=%v bypass=%v", seen[0], seen[1])
	}

	r, calls, seen = idemRouter(opts, true, nil)
	postWithKey(r, http.MethodPost, "/duels", "alice", "k-9")
	if (*calls)[0].scope != "/duels" || !seen[0] || !seen[1] {
		t.Fatalf("hit: scope=%q replay=%v bypass=%v", (*calls)[0].scope, seen[0], seen[1])
	}
}

func TestIdempotencyValidator_AnonymousAndLookupErrors(t *testing.T) {
	r, calls, seen := idemRouter(IdempotencyOptions{}, true, nil)
	w := postWithKey(r, http.MethodPost, "/duels", "", "k-1")
	if w.Code != http.StatusCreated || len(*calls) != 0 || seen[0] {
		t.Fatalf("anonymous: code=%d calls=%d replay=%v", w.Code, len(*calls), seen[0])
	}

	r, _, seen = idemRouter(IdempotencyOptions{}, true, errors.New("db down"))
	w = postWithKey(r, http.MethodPost, "/duels", "alice", "k-1")
	if w.Code != http.StatusCreated || seen[0] || seen[1] {
		t.Fatalf("lookup error: code=%d replay=%v", w.Code, seen[0])
	}
}

func TestGetIdempotencyKey_AndIsReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/duels", nil)

	if k, ok := GetIdempotencyKey(c); ok || k != "" || IsReplay(c) {
		t.Fatal("unset context reported a key or replay")
	}
	c.Set(ctxKeyIdemKey, 123)
	c.Set(ctxKeyIdemReplay, "yes")
	if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) {
		t.Fatal("wrong value types were accepted")
	}
	c.Set(ctxKeyIdemKey, "k-1")
	c.Set(ctxKeyIdemReplay, true)
	if k, ok := GetIdempotencyKey(c); !ok || k != "k-1" || !IsReplay(c) {
		t.Fatalf("key=%q ok=%v replay=%v", k, ok, IsReplay(c))
	}
}

func TestIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Upstream") != "" {
			c.Set(ctxKeyUserID, "from-auth")
		}
		c.Next()
	}, Identity())
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, userIDFromCtx(c))
	})

	cases := []struct {
		header, upstream, want string
	}{
		{" alice ", "", "alice"},
		{"", "", AnonymousUser},
		{"alice", "1", "from-auth"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set(HeaderUserID, tc.header)
		}
		if tc.upstream != "" {
			req.Header.Set("X-Upstream", tc.upstream)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Body.String() != tc.want {
			t.Fatalf("header=%q upstream=%q -> %q, want %q", tc.header, tc.upstream, w.Body.String(), tc.want)
		}
	}
}
