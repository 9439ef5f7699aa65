// Package api defines the JSON error envelope returned by the add-on and
// the error classes that authentication failures fall into.
//
// An [APIError] wraps the package sentinel that caused it, so callers can
// still match the underlying failure with errors.Is while transports use
// the Type to pick an HTTP status.
//
// Error classes:
//   - invalid_request: malformed credentials (400)
//   - unauthorized: authentication failed (401)
//   - too_many_requests: per-tenant rate limit (429)
//   - server_error: infrastructure failure such as a tenant lookup error (500)
package api
