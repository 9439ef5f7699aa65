// Package token encodes and decodes the compact HMAC-signed tokens that
// host products and add-ons exchange.
//
// A token is base64url(header).base64url(payload).base64url(signature) with
// header {"typ":"JWT","alg":...}. Only HS256, HS384 and HS512 are accepted,
// at encode and at decode time. Claim validation (expiry, qsh) is left to
// the caller so that each failure can be classified on its own.
package token
