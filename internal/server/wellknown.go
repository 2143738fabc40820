package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"medplum-mcp/internal/mcpconst"

	"github.com/rs/zerolog"
)

// wellKnownProxy relays discovery documents from the Medplum server so
// clients can find its OAuth endpoints through the MCP server's origin.
type wellKnownProxy struct {
	base   *url.URL
	client *http.Client
	logger zerolog.Logger
}

func newWellKnownProxy(medplum *url.URL, rt http.RoundTripper, logger zerolog.Logger) *wellKnownProxy {
	base := *medplum
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	base.RawPath = ""
	return &wellKnownProxy{
		base:   base.ResolveReference(&url.URL{Path: strings.TrimPrefix(mcpconst.WellKnownPath, "/") + "/"}),
		client: &http.Client{Transport: rt},
		logger: logger,
	}
}

// target maps /.well-known/<rest> onto the Medplum server. The query is not
// forwarded.
func (p *wellKnownProxy) target(path string) *url.URL {
	rest := strings.TrimLeft(strings.TrimPrefix(path, mcpconst.WellKnownPath), "/")
	return p.base.ResolveReference(&url.URL{Path: rest})
}

func (p *wellKnownProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	target := p.target(r.URL.Path)
	event := p.logger.With().Str("target", target.String()).Logger()

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		event.Error().Err(err).Msg("build well-known request failed")
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		status := upstreamStatus(err)
		http.Error(w, http.StatusText(status), status)
		event.Error().Err(err).Int("status", status).Dur("duration", time.Since(start)).Msg("well-known request failed")
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			event.Error().Err(closeErr).Msg("close well-known response body failed")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		event.Error().Err(err).Msg("read well-known response failed")
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		// a nil entry stops net/http from sniffing one
		w.Header()["Content-Type"] = nil
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		event.Error().Err(err).Msg("write well-known response failed")
		return
	}

	event.Info().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("well-known proxied")
}

// upstreamStatus is 504 for timeouts and cancellation, 502 otherwise.
func upstreamStatus(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
