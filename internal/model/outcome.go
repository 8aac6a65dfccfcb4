// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net/http"
)

// OutcomeKind tags the result of a single upstream delivery attempt.
type OutcomeKind int

const (
	// KindSuccess means the full response body was buffered with no error
	// signature detected.
	KindSuccess OutcomeKind = iota
	// KindMidStreamError means an error signature appeared inside an
	// otherwise-successful response body; the partial buffer is discarded.
	KindMidStreamError
	// KindUpstreamRejection means the upstream answered with a non-2xx status.
	KindUpstreamRejection
	// KindTransportFault means the attempt failed below the HTTP layer
	// (DNS, refused connection, timeout, protocol violation).
	KindTransportFault
)

// Outcome is the tagged result of one upstream attempt. It is produced once
// per attempt and never reused across loop iterations.
type Outcome struct {
	Kind OutcomeKind

	// Buffer holds the complete response body. Set only for KindSuccess.
	Buffer []byte

	// Status and Reason describe the upstream's rejection.
	// Set only for KindUpstreamRejection.
	Status int
	Reason string

	// Err is the transport-level failure. Set only for KindTransportFault.
	Err error
}

// UpstreamResponse represents the raw upstream response before scanning.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
