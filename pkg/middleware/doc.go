// Package middleware provides HTTP middleware for authentication, request
// logging, and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: bearer token authentication against the identity provider
//
//	m := middleware.NewAuthMiddleware(provider, false, logger)
//	router.Use(m.Handler)
//	// Verifies the Bearer token and stamps the actor onto the context
//
// RequestID / RequestLogger / Recovery: request plumbing
//
//	router.Use(middleware.RequestID)
//	router.Use(middleware.RequestLogger(logger))
//	router.Use(middleware.Recovery(logger))
//
// RateLimitMiddleware: in-memory rate limiting (per instance)
//
//	router.Use(middleware.NewRateLimitMiddleware().Handler)
//
// DistributedRateLimitMiddleware: Redis-backed rate limiting (shared)
//
//	router.Use(middleware.NewDistributedRateLimitMiddleware(redisClient, logger).Handler)
//
// # Rate Limiting
//
// Anonymous callers: 100 req/min, 10 burst, keyed by client IP.
// Authenticated actors: 1000 req/min, 50 burst, keyed by actor ID.
//
// # Related Packages
//
//   - pkg/identity: token verification
//   - pkg/contextkeys: actor and request ID context plumbing
package middleware
