// Package shield provides the HTTP hardening middleware for the canvas
// server: security headers, request body limits and per-IP rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(ctx.Done()) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

// APIStack returns the standard middleware stack for the canvas API.
// The websocket endpoint is excluded from body limits and rate limiting:
// its connections are long-lived and carry no request body. Rate limit
// bucket eviction runs until done closes.
func APIStack(done <-chan struct{}) []func(http.Handler) http.Handler {
	rl := NewRateLimiter(DefaultRateLimits(), "/ws")
	rl.StartGC(done)
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(1<<20, "/ws"),
		rl.Middleware,
	}
}
