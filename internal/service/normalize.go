package service

import (
	"github.com/tidwall/sjson"
)

// Normalize rewrites the inbound request body according to proxy policy:
// when forcedModel is non-empty the "model" field is overwritten
// unconditionally, and "stream" is forced to true regardless of what the
// client sent. No other field is touched. The input is already known to be
// valid JSON, so the sjson errors are unreachable and ignored.
//
// Normalize runs exactly once per inbound connection; its output is reused
// byte-identical across every retry attempt.
func Normalize(body []byte, forcedModel string) []byte {
	out := body
	if forcedModel != "" {
		out, _ = sjson.SetBytes(out, "model", forcedModel)
	}
	out, _ = sjson.SetBytes(out, "stream", true)
	return out
}
