// Package idempotency extracts and checks the Idempotency-Key header on
// mutating routes. The two-phase record protocol itself lives in
// internal/idempotency; this middleware only guarantees a usable key.
package idempotency

import (
	"context"
	"net/http"
	"strings"

	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/httputil"
)

// Header is the request header carrying the key.
const Header = "Idempotency-Key"

// MaxKeyLength bounds accepted keys.
const MaxKeyLength = 128

type contextKey struct{}

// Key returns the idempotency key of the request, if any.
func Key(ctx context.Context) string {
	if k, ok := ctx.Value(contextKey{}).(string); ok {
		return k
	}
	return ""
}

// WithKey stores key in ctx.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, contextKey{}, key)
}

// RequireKey rejects mutating requests without a valid Idempotency-Key.
// Safe methods pass through untouched.
func RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		key := strings.TrimSpace(r.Header.Get(Header))
		if key == "" {
			httputil.WriteError(w, dErrors.New(dErrors.CodeIdempotencyKeyRequired, "Idempotency-Key header is required"))
			return
		}
		if len(key) > MaxKeyLength {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Idempotency-Key too long"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithKey(r.Context(), key)))
	})
}
