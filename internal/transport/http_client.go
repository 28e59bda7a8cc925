package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
)

const maxResponseSize = 32 * 1024 * 1024

// BasicAuth carries REST credentials for one request.
type BasicAuth struct {
	Username string
	Password string
}

// Request describes one remote call.
type Request struct {
	Method  string
	Path    string // appended to the base URL unless absolute
	Query   url.Values
	Body    interface{} // JSON-encoded when non-nil
	Auth    *BasicAuth
	Timeout time.Duration // per attempt
}

// Response is a fully read 2xx reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// HTTPClient handles HTTP communication with the remote CMS.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	policy    RetryPolicy
	logger    *events.Logger
}

var _ Doer = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.RemoteConfig, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	// Configure HTTP/2
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client:    &http.Client{Transport: transport},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		policy:    PolicyFromConfig(cfg),
		logger:    logger.WithField("component", "http_client"),
	}
}

// SetPolicy replaces the retry policy.
func (c *HTTPClient) SetPolicy(p RetryPolicy) {
	c.policy = p
}

// BaseURL returns the remote base URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Do executes req with per-attempt timeout and the retry policy. Non-2xx
// replies become *models.APIError carrying the body verbatim.
func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	if c.baseURL == "" && !strings.HasPrefix(req.Path, "http") {
		return nil, fmt.Errorf("remote base url: %w", models.ErrConfigMissing)
	}

	target := req.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + req.Path
	}
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	logger := c.logger.WithFields(map[string]interface{}{
		"method": req.Method,
		"url":    target,
	})

	var resp *Response
	err := WithRetry(ctx, c.policy, func(attempt int) error {
		if attempt > 0 {
			logger.WithField("attempt", attempt).Warn("Retrying request")
		}

		out, err := c.send(ctx, req, target, payload)
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	if err != nil {
		logger.WithError(err).Debug("Request failed")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"status": resp.StatusCode,
		"size":   len(resp.Body),
	}).Debug("Received response")

	return resp, nil
}

func (c *HTTPClient) send(ctx context.Context, req Request, target string, payload []byte) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Auth != nil {
		httpReq.SetBasicAuth(req.Auth.Username, req.Auth.Password)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, newAPIError(httpResp.StatusCode, respBody)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// newAPIError builds an APIError, using the CMS {code, message} shape when present.
func newAPIError(status int, body []byte) *models.APIError {
	apiErr := &models.APIError{
		Code:       fmt.Sprintf("HTTP_%d", status),
		Message:    http.StatusText(status),
		StatusCode: status,
		Body:       string(body),
	}

	var shaped struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		if shaped.Code != "" {
			apiErr.Code = shaped.Code
		}
		if shaped.Message != "" {
			apiErr.Message = shaped.Message
		}
	}

	return apiErr
}
