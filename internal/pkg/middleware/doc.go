// Package middleware provides the HTTP middleware in front of the API.
//
// Available middleware:
//   - RouteRateLimiter: per-route, per-client token buckets
//   - MaxBodySize: request body cap
//   - CORS: configured origins
//   - RequestID and Logging: request correlation and access logs
//
// Usage:
//
//	rl := middleware.NewRouteRateLimiter(routes, time.Minute)
//	defer rl.Stop()
//	handler = rl.Middleware(handler)
package middleware
