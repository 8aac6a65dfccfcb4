package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"shield-proxy-go/internal/config"
	"shield-proxy-go/internal/service"
)

// ProxyHandler is the per-connection front-end: it reads the inbound
// request, runs the normalize → deliver pipeline, and maps the terminal
// verdict to a client-visible response.
type ProxyHandler struct {
	shield *service.Shield
	cfg    *config.Config
	logger *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(shield *service.Shield, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		shield: shield,
		cfg:    cfg,
		logger: logger.With("component", "proxy_handler"),
	}
}

// Handle accepts a chat-completion POST on any path, shields it through the
// retry loop, and emits the vetted buffer in a single write.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		h.logger.Error("reading request body", "err", err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "could not read request body",
		})
	}

	// Malformed JSON is rejected before any upstream contact.
	if !gjson.ValidBytes(body) {
		h.logger.Warn("rejecting request with invalid JSON body")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid JSON in request body",
		})
	}

	// Normalized once; every retry attempt sends these exact bytes.
	payload := service.Normalize(body, h.cfg.Upstream.ForcedModel)

	v := h.shield.Deliver(req.Context(), payload)

	switch v.State {
	case service.StateSucceeded:
		return h.commit(c, v.Buffer)

	case service.StateFailedNonRetryable:
		// Passthrough: the upstream's own status and reason, verbatim.
		return c.JSON(v.Status, map[string]string{
			"error": fmt.Sprintf("upstream returned HTTP %d: %s", v.Status, v.Reason),
		})

	default: // service.StateExhausted
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "proxy failed to get a valid response from the upstream within its retry budget",
		})
	}
}

// commit emits a complete, vetted buffer to the client in one write. The
// client never sees a partial response; a write failure here means the
// client is gone, so it is logged and abandoned.
func (h *ProxyHandler) commit(c echo.Context, buf []byte) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)

	if _, err := res.Write(buf); err != nil {
		h.logger.Error("writing buffered response", "err", err)
		return nil
	}
	res.Flush()
	return nil
}
