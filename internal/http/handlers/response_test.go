package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
)

func Test_fail_500_LogsAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != ErrCodeInternal || resp.Message != "kaboom" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}
}

func Test_fail_503_RetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	w := c.Writer
	fail(c, http.StatusServiceUnavailable, ErrCodeOracleUnavailable, "later")
	if got := w.Header().Get("Retry-After"); got != "5" {
		t.Fatalf("Retry-After = %q", got)
	}
}

func Test_SuccessHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ok", func(c *gin.Context) { ok(c, http.StatusCreated, gin.H{"id": "d-1"}) })
	r.POST("/ack", func(c *gin.Context) { noContent(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"id":"d-1"`) {
		t.Fatalf("ok = %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ack", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("noContent = %d %q", w.Code, w.Body.String())
	}
}

func Test_failService_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&services.ValidationError{Field: "game_type", Reason: "is required"}, http.StatusBadRequest, ErrCodeValidation},
		{services.ErrDuelNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrNotificationNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrNotParticipant, http.StatusForbidden, ErrCodeForbidden},
		{&services.TransitionError{DuelID: "d", From: domain.StatusCompleted, To: domain.StatusInProgress}, http.StatusConflict, ErrCodeInvalidTransition},
		{services.ErrChallengeExpired, http.StatusConflict, ErrCodeChallengeExpired},
		{services.ErrNotReady, http.StatusConflict, ErrCodeNotReady},
		{services.ErrVerificationClosed, http.StatusConflict, ErrCodeVerificationClosed},
		{services.ErrConflict, http.StatusConflict, ErrCodeConflict},
		{services.ErrLowConfidence, http.StatusUnprocessableEntity, ErrCodeLowConfidence},
		{fmt.Errorf("%w: timeout", services.ErrOracleUnavailable), http.StatusServiceUnavailable, ErrCodeOracleUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeCreateFailed},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
			failService(c, tc.err, ErrCodeCreateFailed)

			var resp ErrorResponse
			_ = json.Unmarshal(w.Body.Bytes(), &resp)
			if w.Code != tc.status || resp.Code != tc.code {
				t.Fatalf("%v -> %d/%s, want %d/%s", tc.err, w.Code, resp.Code, tc.status, tc.code)
			}
		})
	}
}
