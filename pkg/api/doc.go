// Package api assembles the Arbor HTTP surface: it wires the hierarchy,
// catalog, membership, credits, and invitations handlers under /api/v1,
// applies the shared middleware chain (request id, logging, recovery,
// metrics, bearer auth, rate limiting), and serves the health/metrics
// listener on a separate port.
package api
