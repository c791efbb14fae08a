package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPClient calls the verification service over HTTP.
type HTTPClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *fasthttp.Client
}

// NewHTTPClient returns a client posting to baseURL + "/verify".
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

type verifyBody struct {
	Image       []byte     `json:"image"`
	ContentType string     `json:"content_type"`
	GameType    string     `json:"game_type"`
	GameMode    string     `json:"game_mode"`
	Region      RegionSpec `json:"region"`
}

// Verify implements Verifier. Transport failures, 429 and 5xx map to
// ErrUnavailable; other non-200 responses map to ErrRejected.
func (c *HTTPClient) Verify(ctx context.Context, in Request) (*Result, error) {
	body, err := json.Marshal(verifyBody{
		Image:       in.Image,
		ContentType: in.ContentType,
		GameType:    in.GameType,
		GameMode:    in.GameMode,
		Region:      in.Region,
	})
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/verify")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.SetBodyRaw(body)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusOK:
	case code == fasthttp.StatusTooManyRequests || code >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, code)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, code)
	}

	var out Result
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if out.Confidence < 0 || out.Confidence > 1 || out.Score < 0 {
		return nil, fmt.Errorf("%w: reading out of range", ErrRejected)
	}
	out.Raw = string(resp.Body())
	return &out, nil
}
