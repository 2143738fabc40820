package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"
)

const RequestIDHeader = "X-Request-Id"

// statusWriter remembers whether the response has begun. Flush and Unwrap
// pass through so streaming handlers and http.ResponseController still work.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrap(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w}
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader && code >= http.StatusOK {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if !ok {
		return
	}
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	flusher.Flush()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) statusCode() int {
	if !w.wroteHeader {
		return http.StatusOK
	}
	return w.status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLog tags every request with an id and logs it once it is done.
func requestLog(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		l := logger.With().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		sw := wrap(w)
		defer func() {
			l.Info().
				Int("status", sw.statusCode()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(sw, r.WithContext(l.WithContext(r.Context())))
	})
}

// recoverer turns a panic into 500 {"msg":"Internal Server Error"}. When the
// response has already begun the connection is aborted instead.
func recoverer(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := wrap(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error().
				Interface("panic", rec).
				Str("path", r.URL.Path).
				Str("stack", string(debug.Stack())).
				Msg("unhandled error")
			if sw.wroteHeader {
				panic(http.ErrAbortHandler)
			}
			writeJSON(sw, http.StatusInternalServerError, map[string]string{"msg": "Internal Server Error"})
		}()
		next.ServeHTTP(sw, r)
	})
}

type errorEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   *jsonrpc2.Error `json:"error"`
	ID      *jsonrpc2.ID    `json:"id"`
}

// jsonrpcRecoverer answers a panic on the streaming endpoint with a JSON-RPC
// internal error. A panic after the response began is left to recoverer.
func jsonrpcRecoverer(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := wrap(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler || sw.wroteHeader {
				panic(rec)
			}
			logger.Error().Interface("panic", rec).Msg("streaming request failed")
			writeJSON(sw, http.StatusBadRequest, errorEnvelope{
				JSONRPC: "2.0",
				Error: &jsonrpc2.Error{
					Code:    jsonrpc2.CodeInternalError,
					Message: fmt.Sprint(rec),
				},
			})
		}()
		next.ServeHTTP(sw, r)
	})
}
