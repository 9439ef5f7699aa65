// Package nonce tracks nonces accepted by the signature authentication
// scheme so that a signed request cannot be replayed inside its validity
// window.
//
// A Ledger holds (nonce, timestamp) pairs. Entries older than the replay
// window are dropped on every write, so the in-memory ledger never grows
// beyond the nonces received during one window.
package nonce
