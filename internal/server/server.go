// Package server exposes the MCP tools over HTTP: the stateless streaming
// endpoint, the legacy SSE endpoint pair, the well-known proxy and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"strings"

	"medplum-mcp/internal/auth"
	"medplum-mcp/internal/config"
	"medplum-mcp/internal/fhir"
	"medplum-mcp/internal/mcpconst"
	"medplum-mcp/internal/metrics"
	"medplum-mcp/internal/session"
	"medplum-mcp/internal/tools"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Name is announced to MCP clients on initialize.
const Name = "medplum"

// Version is announced next to Name. Overridden at build time.
var Version = "dev"

const (
	WelcomeText       = "Welcome to the Medplum MCP Server!"
	NoTransportText   = "No transport found for sessionId"
	sessionIDQueryKey = "sessionId"
)

type options struct {
	fhirTransport http.RoundTripper
	logger        *zerolog.Logger
	version       string
}

// Option configures a Server.
type Option func(*options)

// WithFHIRTransport sets the round tripper used to reach Medplum.
func WithFHIRTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.fhirTransport = rt
	}
}

// WithLogger sets the logger every component of the server logs through.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

// WithVersion overrides the version announced to clients.
func WithVersion(version string) Option {
	return func(o *options) {
		o.version = version
	}
}

// Server is one MCP server instance. It serves at most once.
type Server struct {
	cfg      config.Config
	logger   zerolog.Logger
	fhir     *fhir.Client
	metrics  *metrics.Metrics
	sessions *session.Registry
	mcp      *mcpserver.MCPServer
	handler  http.Handler

	// streams ends long lived GET streams when the server shuts down
	streams       context.Context
	cancelStreams context.CancelFunc
}

// New wires the tools, both transports and the router for cfg.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	if cfg.BaseURL == nil {
		return nil, errors.New("medplum base url is required")
	}

	o := options{version: Version}
	for _, opt := range opts {
		opt(&o)
	}
	base := log.Logger
	if o.logger != nil {
		base = *o.logger
	}
	logger := base.With().Str("component", "server").Logger()

	fhirOpts := []fhir.Option{fhir.WithLogger(base.With().Str("component", "fhir").Logger())}
	if o.fhirTransport != nil {
		fhirOpts = append(fhirOpts, fhir.WithTransport(o.fhirTransport))
	}

	m := metrics.New()
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		fhir:    fhir.New(cfg.BaseURL, fhirOpts...),
		metrics: m,
		sessions: session.NewRegistry(base.With().Str("component", "session").Logger(), func(t session.Transport, active int) {
			m.SetActiveSessions(string(t), active)
		}),
	}
	s.streams, s.cancelStreams = context.WithCancel(context.Background())
	s.mcp = tools.NewMCPServer(Name, o.version, s.fhir, m, base, mcpserver.WithHooks(s.sessions.Hooks()))

	streamable := mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithStateLess(true),
		mcpserver.WithEndpointPath(mcpconst.StreamPath),
	)

	sseOpts := []mcpserver.SSEOption{
		mcpserver.WithSSEEndpoint(mcpconst.SSEPath),
		mcpserver.WithMessageEndpoint(mcpconst.SSEPath),
	}
	if cfg.SSEKeepAlive > 0 {
		sseOpts = append(sseOpts,
			mcpserver.WithKeepAlive(true),
			mcpserver.WithKeepAliveInterval(cfg.SSEKeepAlive),
		)
	}
	sse := mcpserver.NewSSEServer(s.mcp, sseOpts...)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", welcome)
	mux.Handle("GET "+mcpconst.WellKnownPath+"/",
		newWellKnownProxy(cfg.BaseURL, s.fhir.Transport(),
			logger.With().Str("route", "well-known").Logger()))
	mux.Handle("GET "+mcpconst.MetricsPath, m.Handler())
	mux.Handle(mcpconst.StreamPath,
		auth.Require(jsonrpcRecoverer(logger, s.endOnShutdown(streamable))))
	mux.Handle("GET "+mcpconst.SSEPath,
		auth.Require(s.endOnShutdown(markLegacy(sse.SSEHandler()))))
	mux.Handle("POST "+mcpconst.SSEPath,
		auth.Require(s.legacyMessage(sse.MessageHandler())))

	s.handler = requestLog(logger, recoverer(logger, mux))
	return s, nil
}

// Handler is the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions reports the open sessions per transport.
func (s *Server) Sessions() *session.Registry {
	return s.sessions
}

// Start listens on the configured port and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("net.Listen() failed: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		ErrorLog:          stdlog.New(httpErrorLog{s.logger}, "", 0),
	}
	// streams never go idle, so Shutdown has to end them itself
	srv.RegisterOnShutdown(s.cancelStreams)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info().
		Str("listen_addr", ln.Addr().String()).
		Str("medplum_base_url", s.cfg.BaseURL.String()).
		Msg("listening")

	select {
	case err := <-errCh:
		s.cancelStreams()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	var line CloseLine
	line.Add(func() {
		s.logger.Info().Msg("shutting down")
	})
	line.AddE(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("graceful shutdown failed; forcing close")
			if closeErr := srv.Close(); closeErr != nil {
				return fmt.Errorf("forced close: %w", closeErr)
			}
		}
		return nil
	})
	line.Add(s.cancelStreams)
	line.Add(s.fhir.CloseIdleConnections)

	err := line.Close()
	<-errCh
	s.logger.Info().Msg("stopped")
	return err
}

func welcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, WelcomeText)
}

// endOnShutdown cancels GET streams once the server starts shutting down.
func (s *Server) endOnShutdown(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(s.streams, cancel)
		defer stop()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// markLegacy lets the session hooks tell legacy streams from streaming ones.
func markLegacy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(session.WithTransport(r.Context(), session.Legacy)))
	})
}

// legacyMessage only lets messages through for ids owned by an open legacy
// stream.
func (s *Server) legacyMessage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get(sessionIDQueryKey)
		if t, ok := s.sessions.Lookup(id); id == "" || !ok || t != session.Legacy {
			zerolog.Ctx(r.Context()).Warn().Str("session_id", id).Msg("no transport for session")
			http.Error(w, NoTransportText, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// httpErrorLog sends net/http's own error log through zerolog.
type httpErrorLog struct {
	logger zerolog.Logger
}

func (l httpErrorLog) Write(p []byte) (int, error) {
	l.logger.Warn().Str("source", "net/http").Msg(strings.TrimRight(string(p), "\r\n"))
	return len(p), nil
}
