// Package keystore owns the local identity key pair.
//
// The key pair is serialised as JSON and sealed into an scrypt +
// ChaCha20-Poly1305 passphrase envelope on disk (mode 0600). The package
// also exposes the asymmetric wrap/unwrap primitives used by the key
// exchange protocol, delegating to internal/crypto.
//
// ResetIdentity replaces the on-disk key pair atomically: the new
// envelope is written to a temp file and renamed over the old one, so a
// failed reset leaves the prior identity intact.
package keystore
