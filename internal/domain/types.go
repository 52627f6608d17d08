package domain

import "time"

// RoomID identifies an encrypted room.
type RoomID string

// String returns the string form of the room identifier.
func (id RoomID) String() string { return string(id) }

// KeyID is the opaque version tag of a room key, assigned by whichever
// member generated the key.
type KeyID string

// String returns the string form of the key identifier.
func (id KeyID) String() string { return string(id) }

// MemberID identifies a room member in the server directory.
type MemberID string

// String returns the string form of the member identifier.
func (id MemberID) String() string { return string(id) }

// Fingerprint is a short identifier for public keys presented to users
// and used to address wrapped keys.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// PublicKey is a Curve25519 public key.
type PublicKey [32]byte

// Slice returns the key as a []byte.
func (p PublicKey) Slice() []byte { return p[:] }

// PrivateKey is a Curve25519 private key.
type PrivateKey [32]byte

// Slice returns the key as a []byte.
func (k PrivateKey) Slice() []byte { return k[:] }

// SymmetricKey is a 256-bit room content key.
type SymmetricKey [32]byte

// Slice returns the key as a []byte.
func (k SymmetricKey) Slice() []byte { return k[:] }

// Identity holds the device's long-term asymmetric key pair.
type Identity struct {
	Public      PublicKey   `json:"public"`
	Private     PrivateKey  `json:"private"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

// KeyState is the per-room key distribution state.
type KeyState int

// Room key states. A room with no entry at all is Missing.
const (
	KeyStateMissing KeyState = iota
	KeyStateRequested
	KeyStateSuggested
	KeyStateActive
	KeyStateRejected
)

// String returns the state name.
func (s KeyState) String() string {
	switch s {
	case KeyStateMissing:
		return "missing"
	case KeyStateRequested:
		return "requested"
	case KeyStateSuggested:
		return "suggested"
	case KeyStateActive:
		return "active"
	case KeyStateRejected:
		return "rejected"
	}
	return "unknown"
}

// RoomKey is the current key entry for one room. Key carries material
// only when State is Active or Suggested.
type RoomKey struct {
	RoomID RoomID       `json:"room_id"`
	KeyID  KeyID        `json:"key_id"`
	Key    SymmetricKey `json:"key"`
	State  KeyState     `json:"state"`
}

// WrappedKey is a room key encrypted under one member's public key.
// It exists only in transit and is never persisted.
type WrappedKey struct {
	RoomID               RoomID      `json:"room_id"`
	KeyID                KeyID       `json:"key_id"`
	RecipientFingerprint Fingerprint `json:"recipient_fingerprint"`
	Ciphertext           []byte      `json:"ciphertext"`
}

// PendingRequest tracks one in-flight room key request. At most one may
// exist per room at any time.
type PendingRequest struct {
	RoomID      RoomID    `json:"room_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// EncryptedEnvelope is the wire form of an encrypted message. MAC is
// empty when Algorithm is an AEAD that folds the tag into Ciphertext.
type EncryptedEnvelope struct {
	RoomID     RoomID `json:"room_id" cbor:"1,keyasint"`
	KeyID      KeyID  `json:"key_id" cbor:"2,keyasint"`
	Algorithm  string `json:"algorithm" cbor:"3,keyasint"`
	IV         []byte `json:"iv" cbor:"4,keyasint"`
	Ciphertext []byte `json:"ciphertext" cbor:"5,keyasint"`
	MAC        []byte `json:"mac,omitempty" cbor:"6,keyasint,omitempty"`
}

// SuggestedRoomKey is one entry of a bulk subscription-key sync: a room
// key wrapped for this identity, awaiting local unwrap and acceptance.
type SuggestedRoomKey struct {
	RoomID     RoomID `json:"room_id"`
	KeyID      KeyID  `json:"key_id"`
	Ciphertext []byte `json:"ciphertext"`
}
