// Package client provides the CRM REST client with bearer authentication,
// per-request timeouts, retry with backoff and request metrics.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/crm-export/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for CRM client operations.
var (
	crmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_requests_total",
		Help: "Total CRM API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	crmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_request_duration_seconds",
		Help:    "CRM API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})

	crmErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_errors_total",
		Help: "Total CRM API errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the public HubSpot API host.
const DefaultBaseURL = "https://api.hubapi.com"

// DefaultTimeout bounds a single request, body included.
const DefaultTimeout = 60 * time.Second

// maxErrorBody caps how much of an error response is kept as message.
const maxErrorBody = 4096

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport failures other than timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents requests that exceeded the timeout.
	ErrorClassTimeout ErrorClass = "timeout"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API host, e.g. https://api.hubapi.com.
	BaseURL string

	// Token is the private app access token sent as Bearer credential.
	Token string

	// UserAgent header value.
	UserAgent string

	// Timeout per request (default 60s).
	Timeout time.Duration

	// Retry policy for 429, 5xx and network failures.
	Retry RetryConfig

	// RatePolicy gates every request. Nil means no gating.
	RatePolicy ratelimit.Policy
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(token string) Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		Token:      token,
		UserAgent:  "crm-export/1.0",
		Timeout:    DefaultTimeout,
		Retry:      DefaultRetryConfig(),
		RatePolicy: ratelimit.Noop{},
	}
}

// Client is the CRM API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	config     Config
	policy     ratelimit.Policy
	logger     zerolog.Logger
}

// New creates a new CRM client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("access token is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.Retry.MaxRetries)
	}

	policy := cfg.RatePolicy
	if policy == nil {
		policy = ratelimit.Noop{}
	}

	return &Client{
		// Timeouts are enforced per request through the context.
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		config:     cfg,
		policy:     policy,
		logger:     log.With().Str("component", "crm-client").Logger(),
	}, nil
}

// GetJSON issues an authenticated GET for endpoint with the given query and
// decodes the JSON body into out. Retriable failures are retried according
// to the retry configuration.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	endpoint = strings.Trim(endpoint, "/")
	target := c.baseURL + "/" + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	startTime := time.Now()
	defer func() {
		crmRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	return retryWithBackoff(ctx, c.config.Retry, func() error {
		return c.do(ctx, endpoint, target, out)
	})
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, endpoint, target string, out any) error {
	if err := c.policy.Wait(ctx); err != nil {
		return fmt.Errorf("rate policy: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("query", req.URL.RawQuery).
		Msg("Executing CRM request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, endpoint, err)
	}
	defer resp.Body.Close()

	c.policy.Observe(ctx, resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    errorMessage(resp.Status, body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		class := httpErr.Class()
		crmErrorsTotal.WithLabelValues(string(class)).Inc()
		crmRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("CRM request error")
		return httpErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() == nil && (isTimeout(err) || errors.Is(reqCtx.Err(), context.DeadlineExceeded)) {
			crmErrorsTotal.WithLabelValues(string(ErrorClassTimeout)).Inc()
			return &TimeoutError{Endpoint: endpoint, Timeout: c.config.Timeout, Err: err}
		}
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}

	crmRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	return nil
}

// transportError converts an http.Client error into a typed error.
func (c *Client) transportError(ctx context.Context, endpoint string, err error) error {
	// The caller gave up; nothing to classify or retry.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		crmErrorsTotal.WithLabelValues(string(ErrorClassTimeout)).Inc()
		crmRequestsTotal.WithLabelValues(endpoint, "timeout").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Dur("timeout", c.config.Timeout).Msg("CRM request timed out")
		return &TimeoutError{Endpoint: endpoint, Timeout: c.config.Timeout, Err: err}
	}

	crmErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
	crmRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
	c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("CRM request failed")
	return &NetworkError{Endpoint: endpoint, Err: err}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorMessage prefers the API's "message" field over the raw status line.
func errorMessage(status string, body []byte) string {
	var payload struct {
		Message  string `json:"message"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		if payload.Category != "" {
			return payload.Category + ": " + payload.Message
		}
		return payload.Message
	}
	return status
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
