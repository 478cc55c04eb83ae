// Package storeguard provides rate limiting and DDoS detection for storefront HTTP APIs.
//
// Two counting schemes are available: a fixed window, which is cheap but
// lets a client burst across a window edge, and a sliding window log, which
// counts the timestamps of the last window and is used by the middleware.
// Counters live in a store.Store: in memory for a single instance, or in
// redis when several instances share limits.
//
// # Quick Start
//
// Build a guard from the built-in policies and protect a handler:
//
//	guard, err := storeguard.NewGuard()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	guard.Start()
//	defer guard.Close()
//
//	handler, _ := guard.Protect("auth", loginHandler)
//	http.Handle("/api/auth/login", handler)
//
// Rate limited responses are 429 with a JSON body and these headers:
//   - X-RateLimit-Limit: Maximum requests allowed in the window
//   - X-RateLimit-Remaining: Requests left in the window
//   - X-RateLimit-Reset: Unix timestamp when the window resets
//   - Retry-After: Seconds to wait before retrying
//
// Requests from IPs blocked by the detector are answered 403.
//
// # Policies
//
// The built-in policies are auth (5 per 15m), api (60 per minute),
// graphql (100 per minute), forms (10 per hour), uploads (20 per hour,
// keyed by user), general (100 per minute) and search (30 per minute).
// A YAML file can replace or add policies:
//
//	policies:
//	  api:
//	    window: 1m
//	    max_requests: 120
//	    identifier: user
//	store:
//	  type: redis
//	  redis:
//	    addr: localhost:6379
//	proxy:
//	  trusted_proxies: ["10.0.0.0/8"]
//	adaptive:
//	  enabled: true
//	  policy: api
//
// # Client Identification
//
// Clients are keyed by IP, by bearer token prefix or session cookie (user),
// by the session-id cookie (session), or by a KeyFunc (custom). Forwarding
// headers are ignored unless the peer is a trusted proxy or
// TrustForwardedHeaders is set.
//
// # Adaptive Limits
//
// When enabled, one policy is scaled down as CPU, memory, error rate or
// latency rise. The multiplier is recomputed on every sample and never
// drops a limit below one request.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package storeguard
