// Package crypto exposes the primitives used by the roomseal core.
//
// Contents
//
//   - X25519 identity key pair generation (GenerateKeyPair)
//   - Anonymous sealed boxes for wrapping room keys to a recipient's
//     public key (WrapKey, UnwrapKey)
//   - Symmetric room key generation and ChaCha20-Poly1305 sealing
//     (NewSymmetricKey, Seal, Open)
//   - Short public-key fingerprints for display and addressing
//     (Fingerprint)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//
// All functions operate on the fixed-size key types defined in
// internal/domain to avoid accidental reallocations. Callers should
// treat returned secrets as sensitive and rely on Wipe when practical.
package crypto
