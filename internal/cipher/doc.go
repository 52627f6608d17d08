// Package cipher performs authenticated encryption of message payloads
// with the room's active content key and defines the wire envelope.
//
// The default algorithm is ChaCha20-Poly1305 ("chacha20poly1305/v1");
// the Poly1305 tag is folded into the ciphertext, so the envelope MAC
// field stays empty. The algorithm identifier travels in every envelope
// and decryption dispatches on it, so envelopes written under an old
// algorithm remain decryptable after a migration. The room id, key id
// and algorithm are bound into the AEAD as associated data.
//
// Envelopes cross the wire as CBOR (EncodeEnvelope / DecodeEnvelope).
package cipher
