// Package canonical builds the canonical form of an HTTP request and the
// query string hash (QSH) derived from it.
//
// The canonical string has the form METHOD&PATH&QUERY. A token carrying a
// qsh claim is bound to exactly one request: the receiver recomputes the
// hash from the request it actually got and compares. The token-carrying
// query parameter never takes part in the canonical string.
package canonical
