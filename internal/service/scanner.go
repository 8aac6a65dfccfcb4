package service

import (
	"bytes"
	"io"
)

// scanChunkSize bounds each read from the upstream body.
const scanChunkSize = 8 * 1024

// Detector flags error payloads embedded in a response chunk. It is a
// capability interface so the substring heuristic below can be swapped for
// a stronger detector (status-code-only, structured trailer inspection)
// without touching the retry loop.
type Detector interface {
	Detects(chunk []byte) bool
}

// SignatureDetector matches known error signatures that rate-limited
// backends emit inside an otherwise-200 streamed body. The substrings are
// kept verbatim for compatibility with observed upstream behavior; they can
// false-positive on legitimate content containing the literal text and
// false-negative on differently-worded errors or a signature split across
// a chunk boundary.
type SignatureDetector struct {
	signatures [][]byte
}

// NewSignatureDetector returns the default detector.
func NewSignatureDetector() *SignatureDetector {
	return &SignatureDetector{
		signatures: [][]byte{
			[]byte(`"code":"too_many_requests"`),
			[]byte(`"error":`),
		},
	}
}

// Detects reports whether any known error signature appears in the chunk.
func (d *SignatureDetector) Detects(chunk []byte) bool {
	for _, sig := range d.signatures {
		if bytes.Contains(chunk, sig) {
			return true
		}
	}
	return false
}

// ScanStream reads r to completion in bounded chunks, accumulating every
// chunk into a fresh buffer and inspecting each chunk as it arrives. On the
// first detector match it stops reading immediately and reports detected =
// true; the partial buffer is not returned. On clean EOF it returns the
// complete buffer. A read error mid-body surfaces as err so the caller can
// treat it as a transport fault.
func ScanStream(r io.Reader, d Detector) (buf []byte, detected bool, err error) {
	var out bytes.Buffer
	chunk := make([]byte, scanChunkSize)
	for {
		n, rerr := r.Read(chunk)
		if n > 0 {
			out.Write(chunk[:n])
			if d.Detects(chunk[:n]) {
				return nil, true, nil
			}
		}
		if rerr == io.EOF {
			return out.Bytes(), false, nil
		}
		if rerr != nil {
			return nil, false, rerr
		}
	}
}
