package token

import (
	"errors"
	"fmt"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Algorithm names an HMAC signing algorithm.
type Algorithm string

// Supported algorithms.
const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
)

// DefaultAlgorithm is used when Encode is given an empty algorithm.
const DefaultAlgorithm = HS256

// Sentinel errors.
var (
	ErrMissingKey           = errors.New("token: signing key is required")
	ErrUnsupportedAlgorithm = errors.New("token: unsupported algorithm")
	ErrMalformedToken       = errors.New("token: malformed token")
	ErrSignatureMismatch    = errors.New("token: signature verification failed")
	ErrExpired              = errors.New("token: expired")
)

// signingMethod maps the closed set of algorithms onto the library's signing
// methods. Anything outside the set is rejected.
func signingMethod(alg Algorithm) (*jwtlib.SigningMethodHMAC, error) {
	switch alg {
	case HS256:
		return jwtlib.SigningMethodHS256, nil
	case HS384:
		return jwtlib.SigningMethodHS384, nil
	case HS512:
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// Encode signs the claims with key and returns the compact token.
func Encode(claims *Claims, key []byte, alg Algorithm) (string, error) {
	if len(key) == 0 {
		return "", ErrMissingKey
	}
	if alg == "" {
		alg = DefaultAlgorithm
	}
	method, err := signingMethod(alg)
	if err != nil {
		return "", err
	}

	// NewWithClaims sets the header to {"alg":..., "typ":"JWT"}.
	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Decode parses a compact token. Unless skipVerify is set, the signature is
// recomputed with key and compared.
//
// Decode never validates exp or qsh; see Claims.Expired.
func Decode(tokenStr string, key []byte, skipVerify bool) (*Claims, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return nil, fmt.Errorf("%w: expected 3 segments", ErrMalformedToken)
	}

	parser := jwtlib.NewParser(
		jwtlib.WithoutClaimsValidation(),
		jwtlib.WithPaddingAllowed(),
	)

	claims := &Claims{}
	if skipVerify {
		if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
			return nil, mapParseError(err)
		}
		return claims, nil
	}

	_, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (any, error) {
		alg, _ := t.Header["alg"].(string)
		if _, err := signingMethod(Algorithm(alg)); err != nil {
			return nil, err
		}
		return key, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}
	return claims, nil
}

// mapParseError translates library errors into this package's sentinels.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	case errors.Is(err, jwtlib.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwtlib.ErrTokenUnverifiable):
		// The library does not know the alg at all.
		return fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	case errors.Is(err, jwtlib.ErrTokenSignatureInvalid), errors.Is(err, jwtlib.ErrSignatureInvalid):
		return ErrSignatureMismatch
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}
