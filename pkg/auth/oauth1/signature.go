package oauth1

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rhuss/connectauth/pkg/canonical"
)

// Signature methods accepted from the host.
const (
	MethodRSASHA1   = "RSA-SHA1"
	MethodRSASHA256 = "RSA-SHA256"
)

var (
	errBadSignatureMethod = errors.New("oauth1: unsupported signature method")
	errBadPublicKey       = errors.New("oauth1: invalid consumer public key")
	errSignatureInvalid   = errors.New("oauth1: signature verification failed")
)

// BaseString builds the OAuth 1.0a signature base string
// METHOD&enc(baseURL)&enc(params), where params are the request parameters
// without oauth_signature and realm, sorted by key and then value.
func BaseString(method, baseURL string, params map[string][]string) string {
	type pair struct{ k, v string }
	var pairs []pair
	for k, vs := range params {
		if k == ParamSignature || k == "realm" {
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, pair{canonical.EncodeRFC3986(k), canonical.EncodeRFC3986(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}

	return strings.ToUpper(method) + "&" +
		canonical.EncodeRFC3986(baseURL) + "&" +
		canonical.EncodeRFC3986(strings.Join(parts, "&"))
}

// VerifySignature checks a base64 RSA signature over base with the PEM
// encoded public key.
func VerifySignature(signatureMethod, base, signature, publicKeyPEM string) error {
	var (
		hash   crypto.Hash
		digest []byte
	)
	switch strings.ToUpper(signatureMethod) {
	case MethodRSASHA1, "":
		sum := sha1.Sum([]byte(base))
		hash, digest = crypto.SHA1, sum[:]
	case MethodRSASHA256:
		sum := sha256.Sum256([]byte(base))
		hash, digest = crypto.SHA256, sum[:]
	default:
		return fmt.Errorf("%w: %q", errBadSignatureMethod, signatureMethod)
	}

	pub, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", errSignatureInvalid)
	}
	if err := rsa.VerifyPKCS1v15(pub, hash, digest, sig); err != nil {
		return errSignatureInvalid
	}
	return nil
}

// parsePublicKey accepts PKIX ("PUBLIC KEY") and PKCS#1 ("RSA PUBLIC KEY")
// blocks, and bare base64 DER as the host publishes it.
func parsePublicKey(s string) (*rsa.PublicKey, error) {
	var der []byte
	if block, _ := pem.Decode([]byte(s)); block != nil {
		der = block.Bytes
	} else {
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
		if err != nil {
			return nil, errBadPublicKey
		}
		der = b
	}

	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("%w: not an RSA key", errBadPublicKey)
	}
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}
	return nil, errBadPublicKey
}
