package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// maxResponseBody caps how much of an upstream body is read into memory
const maxResponseBody = 4 << 20

// HTTPClientConfig represents configuration for HTTP client
type HTTPClientConfig struct {
	Provider           ProviderType
	BaseURL            string
	Timeout            time.Duration
	InsecureSkipVerify bool
	DefaultHeaders     map[string]string
}

// HTTPRequest represents a standardized HTTP request
type HTTPRequest struct {
	Op          string
	Method      string
	Endpoint    string
	Headers     map[string]string
	Body        any
	FormData    url.Values
	QueryParams map[string]string
}

// HTTPResponse represents a standardized HTTP response
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ProviderHTTPClient provides standardized HTTP operations for payment providers
type ProviderHTTPClient struct {
	config *HTTPClientConfig
	client *http.Client
}

// NewProviderHTTPClient creates a new provider HTTP client with a pooled transport
func NewProviderHTTPClient(config *HTTPClientConfig) *ProviderHTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = defaultHTTPTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.Timeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify,
		},
	}

	return &ProviderHTTPClient{
		config: config,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// SendJSON sends a JSON request and returns the response
func (c *ProviderHTTPClient) SendJSON(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	var body io.Reader
	if req.Body != nil {
		jsonData, err := json.Marshal(req.Body)
		if err != nil {
			return nil, c.wrap(req, ErrValidation, 0, "failed to marshal JSON body", err)
		}
		body = bytes.NewReader(jsonData)
	}
	return c.do(ctx, req, body, "application/json")
}

// SendForm sends a form-encoded request and returns the response
func (c *ProviderHTTPClient) SendForm(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	var body io.Reader
	if len(req.FormData) > 0 {
		body = strings.NewReader(req.FormData.Encode())
	}
	return c.do(ctx, req, body, "application/x-www-form-urlencoded")
}

// do sends the request and classifies non-2xx responses into the error taxonomy.
// The response is returned alongside classified errors so callers can inspect the body.
func (c *ProviderHTTPClient) do(ctx context.Context, req *HTTPRequest, body io.Reader, contentType string) (*HTTPResponse, error) {
	fullURL := c.buildURL(req.Endpoint, req.QueryParams)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, c.wrap(req, ErrUpstream, 0, "failed to create HTTP request", err)
	}

	for key, value := range c.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if body != nil && contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.wrap(req, ErrUpstream, 0, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, c.wrap(req, ErrUpstream, resp.StatusCode, "failed to read response body", err)
	}

	response := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
		Duration:   time.Since(start),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return response, c.wrap(req, KindForStatus(resp.StatusCode), resp.StatusCode, upstreamMessage(respBody), nil)
	}

	return response, nil
}

func (c *ProviderHTTPClient) wrap(req *HTTPRequest, kind error, status int, message string, cause error) error {
	return &Error{
		Kind:       kind,
		Provider:   c.config.Provider,
		Op:         req.Op,
		StatusCode: status,
		Message:    message,
		Err:        cause,
	}
}

// upstreamMessage extracts a short message from an error body
func upstreamMessage(body []byte) string {
	var parsed struct {
		Message string `json:"Message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		switch e := parsed.Error.(type) {
		case string:
			return e
		case map[string]any:
			if m, ok := e["message"].(string); ok {
				return m
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return "upstream returned an error"
	}
	return msg
}

func joinURL(base, endpoint string) string {
	if strings.HasSuffix(base, "/") && strings.HasPrefix(endpoint, "/") {
		return base + endpoint[1:]
	}
	if !strings.HasSuffix(base, "/") && !strings.HasPrefix(endpoint, "/") {
		return base + "/" + endpoint
	}
	return base + endpoint
}

// buildURL constructs the full URL with query parameters
func (c *ProviderHTTPClient) buildURL(endpoint string, queryParams map[string]string) string {
	fullURL := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		fullURL = joinURL(c.config.BaseURL, endpoint)
	}

	if len(queryParams) == 0 {
		return fullURL
	}

	u, err := url.Parse(fullURL)
	if err != nil {
		return fullURL
	}
	q := u.Query()
	for key, value := range queryParams {
		q.Set(key, value)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseJSONResponse parses the response body as JSON into the target
func (c *ProviderHTTPClient) ParseJSONResponse(response *HTTPResponse, target any) error {
	if err := json.Unmarshal(response.Body, target); err != nil {
		return &Error{Kind: ErrUpstream, Provider: c.config.Provider, Message: "malformed upstream response", Err: err}
	}
	return nil
}

// CreateHTTPClientConfig creates a standard HTTP client configuration for providers
func CreateHTTPClientConfig(p ProviderType, baseURL string, timeout time.Duration) *HTTPClientConfig {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &HTTPClientConfig{
		Provider: p,
		BaseURL:  baseURL,
		Timeout:  timeout,
		DefaultHeaders: map[string]string{
			"Accept":     "application/json",
			"User-Agent": "DonatePay/1.0",
		},
	}
}

// DecodeRaw turns a JSON body into a generic map for raw-response storage
func DecodeRaw(body []byte) map[string]any {
	raw := map[string]any{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return map[string]any{"body": string(body)}
	}
	return raw
}

// ParseTimeout converts a configured timeout like "30s" into a duration
func ParseTimeout(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}
