// Package auth runs inbound authentication for requests sent by the host
// product to the add-on.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). The signature scheme abstains when a
// request carries no OAuth credentials, so the token scheme sees every other
// request.
//
// Auth is implemented as HTTP middleware. On success the verified [Identity]
// and its tenant client key are placed in the request context, where the
// outbound host client picks them up for chained calls.
package auth
