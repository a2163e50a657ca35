// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package middleware provides HTTP round-tripper middleware for the broker
// client's pooled http.Client.
package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Middleware is a function that wraps an http.RoundTripper
type Middleware func(http.RoundTripper) http.RoundTripper

// Chain creates a single middleware from a chain of middlewares
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// RoundTripperFunc is an adapter to allow functions to be used as RoundTrippers
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// WithTimeout enforces a socket-level deadline on every request that doesn't
// already carry one. This is a transport-level backstop, not a substitute
// for the per-call context deadline pkg/ctxutil establishes; it only
// matters if a caller ever passes a context without one.
func WithTimeout(timeout time.Duration) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			ctx := req.Context()

			if _, hasDeadline := ctx.Deadline(); !hasDeadline && timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
				req = req.WithContext(ctx)
			}

			return next.RoundTrip(req)
		})
	}
}

// WithHeaders adds custom headers to every request.
func WithHeaders(headers map[string]string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			req = cloneRequest(req)
			for key, value := range headers {
				req.Header.Set(key, value)
			}
			return next.RoundTrip(req)
		})
	}
}

// WithUserAgent sets a custom User-Agent header, identifying this worker
// instance to the broker.
func WithUserAgent(userAgent string) Middleware {
	return WithHeaders(map[string]string{
		"User-Agent": userAgent,
	})
}

// cloneRequest creates a shallow copy of a request, including its body, so a
// middleware can mutate headers without affecting the caller's request.
func cloneRequest(req *http.Request) *http.Request {
	r := req.Clone(req.Context())

	if req.Body != nil {
		bodyBytes, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	return r
}
