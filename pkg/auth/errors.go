package auth

import (
	"errors"

	"github.com/rhuss/connectauth/pkg/api"
)

// Sentinel errors shared by the inbound schemes.
var (
	ErrMissingToken    = errors.New("auth: no token in request")
	ErrMissingIssuer   = errors.New("auth: token has no issuer")
	ErrMissingSecret   = errors.New("auth: no shared secret for tenant")
	ErrLookupFailure   = errors.New("auth: tenant lookup failed")
	ErrConsumerUnknown = errors.New("auth: unknown consumer")
	ErrUnauthenticated = errors.New("auth: authentication required")
	ErrTooManyRequests = errors.New("auth: rate limit exceeded")
)

// Unauthorized classifies err as a client authentication failure (401).
func Unauthorized(code string, err error) error {
	return api.NewUnauthorizedError(code, err)
}

// BadRequest classifies err as a malformed credential (400).
func BadRequest(code string, err error) error {
	return api.NewInvalidRequestError(code, err)
}

// ServerError classifies err as an infrastructure failure (500).
func ServerError(code string, err error) error {
	return api.NewServerError(code, err)
}
