// Package transport provides the HTTP middleware shared by every add-on
// route: panic recovery, request IDs (X-Request-ID), structured access
// logging via log/slog, and rendering of [api.APIError] values as JSON.
//
// Middleware is applied with Chain. The first middleware in the chain is
// the outermost wrapper.
package transport
