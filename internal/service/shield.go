// Package service implements the core shielding pipeline: the retry
// orchestrator that delivers a normalized payload upstream, buffers the
// whole response, and only hands back responses that passed inspection.
package service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"shield-proxy-go/internal/client"
	"shield-proxy-go/internal/config"
	"shield-proxy-go/internal/metrics"
	"shield-proxy-go/internal/model"
)

// State identifies a position in the delivery state machine.
type State int

const (
	// StateAttempting means an upstream attempt is in flight.
	StateAttempting State = iota
	// StateRetryWait means the loop is sleeping before the next attempt.
	StateRetryWait
	// StateSucceeded is terminal: a clean buffer is ready to commit.
	StateSucceeded
	// StateFailedNonRetryable is terminal: the upstream rejected the
	// request with a status that retrying cannot fix.
	StateFailedNonRetryable
	// StateExhausted is terminal: the attempt budget ran out.
	StateExhausted
)

// transportFaultWait is the fixed pause after a connection-level failure.
// Transient network faults are expected to clear quickly, unlike rate
// limiting, whose backoff must grow to avoid hammering a throttled service.
const transportFaultWait = 5 * time.Second

// maxReasonBytes bounds how much of an upstream error body is read for the
// passthrough reason string.
const maxReasonBytes = 2048

// Verdict is the terminal result of one delivery loop.
type Verdict struct {
	State    State
	Buffer   []byte // StateSucceeded only
	Status   int    // StateFailedNonRetryable only
	Reason   string // StateFailedNonRetryable only
	Attempts int    // attempts actually made
}

// Shield owns the attempt loop. It decides, for each attempt outcome,
// whether to retry, how long to wait, or whether to give up.
type Shield struct {
	client   *client.UpstreamClient
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	detector Detector

	// sleep is injectable so tests can capture waits instead of sleeping.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewShield creates a Shield with the default signature detector.
// The metrics parameter is optional; pass nil to disable attempt metrics.
func NewShield(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Shield {
	return &Shield{
		client:   c,
		cfg:      cfg,
		logger:   logger.With("component", "shield"),
		metrics:  m,
		detector: NewSignatureDetector(),
		sleep:    sleepContext,
	}
}

// Deliver runs the retry loop for one normalized payload and returns the
// terminal verdict. Exactly one upstream attempt is in flight at a time;
// each attempt buffers into a fresh buffer, never appending across
// attempts. The payload is sent byte-identical on every attempt.
func (s *Shield) Deliver(ctx context.Context, payload []byte) *Verdict {
	maxAttempts := s.cfg.Retry.MaxAttempts
	baseWait := time.Duration(s.cfg.Retry.BaseWaitSeconds) * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.logger.Info("sending to upstream",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"bytes", len(payload),
		)

		out := s.attempt(ctx, payload)

		var wait time.Duration
		switch {
		case out.Kind == model.KindSuccess:
			s.countAttempt(metrics.OutcomeSuccess)
			s.logger.Info("clean response buffered",
				"attempt", attempt,
				"bytes", len(out.Buffer),
			)
			return &Verdict{State: StateSucceeded, Buffer: out.Buffer, Attempts: attempt}

		case out.Kind == model.KindMidStreamError:
			s.countAttempt(metrics.OutcomeMidStreamError)
			wait = time.Duration(attempt) * baseWait
			s.logger.Warn("error detected mid-stream, discarding buffer",
				"attempt", attempt,
				"wait", wait,
			)

		case out.Kind == model.KindUpstreamRejection && out.Status == http.StatusTooManyRequests:
			s.countAttempt(metrics.OutcomeRateLimited)
			wait = time.Duration(attempt) * baseWait
			s.logger.Warn("upstream rate limited",
				"attempt", attempt,
				"wait", wait,
			)

		case out.Kind == model.KindUpstreamRejection:
			s.countAttempt(metrics.OutcomeRejected)
			s.logger.Error("upstream rejected request",
				"attempt", attempt,
				"status", out.Status,
				"reason", out.Reason,
			)
			return &Verdict{
				State:    StateFailedNonRetryable,
				Status:   out.Status,
				Reason:   out.Reason,
				Attempts: attempt,
			}

		default: // model.KindTransportFault
			s.countAttempt(metrics.OutcomeTransportFault)
			wait = transportFaultWait
			s.logger.Warn("transport fault",
				"attempt", attempt,
				"wait", wait,
				"err", out.Err,
			)
		}

		// StateRetryWait: no wait is computed after the final attempt.
		if attempt == maxAttempts {
			break
		}
		if s.metrics != nil {
			s.metrics.RetryWaitSeconds.Add(wait.Seconds())
		}
		if err := s.sleep(ctx, wait); err != nil {
			s.logger.Warn("retry wait aborted, client gone", "err", err)
			return &Verdict{State: StateExhausted, Attempts: attempt}
		}
	}

	s.logger.Error("retry budget exhausted", "attempts", maxAttempts)
	return &Verdict{State: StateExhausted, Attempts: maxAttempts}
}

// attempt performs exactly one delivery: send, classify the status, and for
// 2xx responses scan the body into a fresh buffer.
func (s *Shield) attempt(ctx context.Context, payload []byte) model.Outcome {
	resp, err := s.client.Post(ctx, payload)
	if err != nil {
		return model.Outcome{Kind: model.KindTransportFault, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.Outcome{
			Kind:   model.KindUpstreamRejection,
			Status: resp.StatusCode,
			Reason: readReason(resp.Body),
		}
	}

	buf, detected, err := ScanStream(resp.Body, s.detector)
	if err != nil {
		return model.Outcome{Kind: model.KindTransportFault, Err: err}
	}
	if detected {
		return model.Outcome{Kind: model.KindMidStreamError}
	}
	if s.metrics != nil {
		s.metrics.ShieldedBytes.Observe(float64(len(buf)))
	}
	return model.Outcome{Kind: model.KindSuccess, Buffer: buf}
}

func (s *Shield) countAttempt(outcome string) {
	if s.metrics != nil {
		s.metrics.UpstreamAttempts.WithLabelValues(outcome).Inc()
	}
}

// readReason extracts a bounded, single-line reason string from an upstream
// error body for passthrough to the client.
func readReason(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxReasonBytes))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// sleepContext pauses for d or until the context is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
