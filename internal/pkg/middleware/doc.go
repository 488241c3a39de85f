// Package middleware provides HTTP middleware for the evaluation server.
//
// Available middleware:
//   - RateLimiter: per-client token bucket limiting of scoring requests
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.ConfigForRate(50))
//	defer rl.Stop()
//	handler = rl.Middleware(handler)
package middleware
