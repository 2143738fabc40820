// Package auth extracts bearer credentials from inbound requests.
//
// Tokens are not validated here; the backend API does that when the token is
// forwarded. The middleware only guarantees that a well formed bearer header
// is present before any tool logic runs.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const (
	// ClientID is reported for every authenticated caller.
	ClientID = "medplum"

	bearerPrefix = "Bearer "
)

// ErrUnauthorized is returned when the authorization header is missing or malformed.
var ErrUnauthorized = errors.New("unauthorized")

// Info is the auth context derived from one request.
type Info struct {
	ClientID string
	Scopes   []string
	Token    string
}

type infoKey struct{}

// FromHeader parses an Authorization header value.
func FromHeader(header string) (Info, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return Info{}, ErrUnauthorized
	}
	fields := strings.Fields(header[len(bearerPrefix):])
	if len(fields) == 0 {
		return Info{}, ErrUnauthorized
	}
	return Info{
		ClientID: ClientID,
		Scopes:   []string{"openid"},
		Token:    fields[0],
	}, nil
}

// FromRequest parses the Authorization header of r.
func FromRequest(r *http.Request) (Info, error) {
	return FromHeader(r.Header.Get("Authorization"))
}

// WithInfo returns a copy of ctx carrying info.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// FromContext returns the auth context stored by Require.
func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}

// Require rejects requests without a bearer credential and stores the parsed
// Info in the request context for everything downstream.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := FromRequest(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
	})
}
