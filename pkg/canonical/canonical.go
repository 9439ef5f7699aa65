package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// TokenParam is the request parameter that carries the token itself. It is
// excluded from the canonical query string.
const TokenParam = "jwt"

// Request is the part of an HTTP request that takes part in canonicalization.
type Request struct {
	// Method is the HTTP method. It is upper-cased in the canonical form.
	Method string

	// Path is the request path relative to the tenant base URL. Scheme and
	// host must already be stripped.
	Path string

	// Query holds the query parameters.
	Query url.Values

	// Body holds url-encoded body parameters. It is only consulted when the
	// caller asks to check the body for params.
	Body url.Values
}

// FromHTTPRequest builds a Request from an inbound HTTP request. The body
// parameters are only populated when the form has already been parsed.
func FromHTTPRequest(r *http.Request) Request {
	return Request{
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Query:  r.URL.Query(),
		Body:   r.PostForm,
	}
}

// Canonical returns METHOD&PATH&QUERY for the request.
//
// When checkBodyForParams is true and the query is empty on a POST or PUT,
// the body parameters are used in place of the query. Some HTTP clients move
// the query string into the body for those methods.
func (r Request) Canonical(checkBodyForParams bool) string {
	return canonicalMethod(r.Method) + "&" + canonicalPath(r.Path) + "&" + r.canonicalQuery(checkBodyForParams)
}

// QueryStringHash returns the lowercase hex SHA-256 digest of the canonical
// request string.
func QueryStringHash(r Request, checkBodyForParams bool) string {
	sum := sha256.Sum256([]byte(r.Canonical(checkBodyForParams)))
	return hex.EncodeToString(sum[:])
}

func canonicalMethod(method string) string {
	return strings.ToUpper(method)
}

func canonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}

func (r Request) canonicalQuery(checkBodyForParams bool) string {
	params := r.Query
	method := canonicalMethod(r.Method)
	if checkBodyForParams && len(params) == 0 && (method == http.MethodPost || method == http.MethodPut) {
		params = r.Body
	}
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if k == TokenParam {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for i, v := range values {
			values[i] = EncodeRFC3986(v)
		}
		pairs = append(pairs, EncodeRFC3986(k)+"="+strings.Join(values, ","))
	}
	return strings.Join(pairs, "&")
}

// EncodeRFC3986 percent-encodes everything except the RFC 3986 unreserved
// characters: ALPHA / DIGIT / "-" / "." / "_" / "~".
func EncodeRFC3986(s string) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
