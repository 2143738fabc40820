// Package fhir is a thin client for the backend FHIR API. Each call is one
// outbound request carrying the caller's bearer token; nothing is retried or
// cached.
package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	// BasePath is where the FHIR R4 API lives under the server base URL.
	BasePath = "fhir/R4/"

	ContentTypeFHIR      = "application/fhir+json"
	ContentTypeJSONPatch = "application/json-patch+json"
)

// Method is one of the HTTP verbs the fhir-request tool may use.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodDelete Method = http.MethodDelete
	MethodPatch  Method = http.MethodPatch
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
)

var (
	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrInvalidBody       = errors.New("invalid body")
	ErrInvalidPath       = errors.New("invalid path")
	ErrMissingToken      = errors.New("missing access token")
)

// ParseMethod maps an abstract method name onto its HTTP verb.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "get":
		return MethodGet, nil
	case "delete":
		return MethodDelete, nil
	case "patch":
		return MethodPatch, nil
	case "post":
		return MethodPost, nil
	case "put":
		return MethodPut, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedMethod, s)
}

// hasBody reports whether requests with this method forward a body.
func (m Method) hasBody() bool {
	return m == MethodPatch || m == MethodPost || m == MethodPut
}

func (m Method) contentType() string {
	if m == MethodPatch {
		return ContentTypeJSONPatch
	}
	return ContentTypeFHIR
}

// NormalizeBody parses a body that arrived as a JSON encoded string. Some MCP
// clients send the body that way instead of as a JSON value.
func NormalizeBody(body any) (any, error) {
	s, ok := body.(string)
	if !ok {
		return body, nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return parsed, nil
}

// Response is the outcome of one backend call.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text renders the body for a tool result: compact JSON when the body is JSON,
// "null" when it is empty, the raw text otherwise.
func (r *Response) Text() string {
	trimmed := bytes.TrimSpace(r.Body)
	if len(trimmed) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(r.Body)
	}
	return buf.String()
}

// Client talks to one FHIR server.
type Client struct {
	baseURL   *url.URL
	fhirBase  *url.URL
	transport http.RoundTripper
	logger    zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the base round tripper under the bearer token transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New builds a Client for the server at baseURL.
func New(baseURL *url.URL, opts ...Option) *Client {
	base := ensureTrailingSlash(baseURL)
	c := &Client{
		baseURL:  base,
		fhirBase: base.ResolveReference(&url.URL{Path: BasePath}),
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		logger: log.With().Str("component", "fhir").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL is the FHIR base every path is resolved against.
func (c *Client) BaseURL() *url.URL {
	u := *c.fhirBase
	return &u
}

// ResolveURL joins path onto the FHIR base. Leading slashes are dropped so
// "/Patient" and "Patient" mean the same thing. Absolute URLs are only
// accepted when they point at the configured server.
func (c *Client) ResolveURL(path string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimLeft(strings.TrimSpace(path), "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	target := c.fhirBase.ResolveReference(ref)
	if target.Scheme != c.baseURL.Scheme || target.Host != c.baseURL.Host {
		return nil, fmt.Errorf("%w: %s is not served by %s", ErrInvalidPath, path, c.baseURL.Host)
	}
	return target, nil
}

// Do performs one request against path on behalf of the holder of token.
func (c *Client) Do(ctx context.Context, token string, method Method, path string, body any) (*Response, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	target, err := c.ResolveURL(path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader = http.NoBody
	if method.hasBody() && body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, string(method), target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	req.Header.Set("Accept", ContentTypeFHIR)
	if reader != http.NoBody {
		req.Header.Set("Content-Type", method.contentType())
	}

	start := time.Now()
	resp, err := c.httpClient(token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform backend request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Error().Err(closeErr).Msg("close backend response body failed")
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}

	c.logger.Debug().
		Str("method", string(method)).
		Str("url", target.String()).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend request")

	out := &Response{
		URL:        target.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, newError(out)
	}
	return out, nil
}

// Transport is the round tripper backend requests share. The well-known
// proxy reuses it so both paths see the same connection pool.
func (c *Client) Transport() http.RoundTripper {
	return c.transport
}

// CloseIdleConnections drops pooled backend connections.
func (c *Client) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if ci, ok := c.transport.(closeIdler); ok {
		ci.CloseIdleConnections()
	}
}

func (c *Client) httpClient(token string) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.transport,
		},
	}
}

func ensureTrailingSlash(u *url.URL) *url.URL {
	clone := *u
	if !strings.HasSuffix(clone.Path, "/") {
		clone.Path += "/"
	}
	clone.RawPath = ""
	clone.RawQuery = ""
	clone.Fragment = ""
	return &clone
}
