// Package session is the top-level façade of the crypto core.
//
// Send checks the room's key state: with an active key the plaintext is
// encrypted and forwarded to the transport; otherwise it is queued (one
// pending message per room, a later send supersedes it) while the
// exchange protocol acquires a key, and the caller gets ErrNoActiveKey
// after the configured timeout. Receive always attempts decryption and
// returns a structured result; it never blocks on key exchange.
//
// Run consumes the event stream and drives the exchange protocol.
// Events are processed in arrival order, which preserves the per-room
// ordering guarantee; no cross-room ordering exists or is needed.
package session
