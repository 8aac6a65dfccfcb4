// Package client provides the upstream HTTP client for the chat-completion endpoint.
package client

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"shield-proxy-go/internal/config"
	"shield-proxy-go/internal/metrics"
	"shield-proxy-go/internal/model"
)

// UpstreamClient delivers normalized payloads to the configured endpoint.
// It performs exactly one attempt per call; all retry logic lives in the
// service layer.
type UpstreamClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	authHeader string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The overall client timeout is taken from config; zero disables it so that
// slow streamed responses are never cut off mid-body. The metrics parameter
// is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		endpoint:   cfg.Upstream.Endpoint,
		apiKey:     cfg.Upstream.APIKey,
		authHeader: cfg.Upstream.AuthHeader,
		logger:     logger.With("component", "upstream_client"),
		metrics:    m,
	}
}

// Post sends one delivery attempt with the fixed normalized payload and
// returns the raw response. Any HTTP status, success or error, yields a
// response; an error return means the attempt failed below the HTTP layer
// (DNS, refused connection, timeout, protocol violation). The caller is
// responsible for closing the response body.
//
// The provided context controls the lifetime of the upstream request: when
// it is canceled (e.g. client disconnects), the attempt is canceled too.
func (c *UpstreamClient) Post(ctx context.Context, payload []byte) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.authHeader, c.apiKey)

	c.logger.Debug("upstream request", "bytes", len(payload))

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.Observe(duration)
	}

	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
