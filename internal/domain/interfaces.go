package domain

import "context"

// KeyStore owns the local identity key pair and the asymmetric
// wrap/unwrap primitives.
type KeyStore interface {
	// GenerateIdentity creates and persists a fresh key pair, encrypted
	// under the passphrase.
	GenerateIdentity(passphrase string) (Identity, error)
	// LoadIdentity returns the persisted identity. ok is false when no
	// identity has been created yet.
	LoadIdentity(passphrase string) (id Identity, ok bool, err error)
	// Wrap asymmetric-encrypts a room key for one recipient.
	Wrap(key SymmetricKey, recipient PublicKey) ([]byte, error)
	// Unwrap recovers a room key wrapped for this identity. Fails with
	// ErrDecryptFailure when the ciphertext was produced for another
	// identity or is corrupt.
	Unwrap(ciphertext []byte, id Identity) (SymmetricKey, error)
	// ResetIdentity destroys the current key pair and persists a new
	// one. On failure the prior identity remains intact. Callers must
	// invalidate every dependent room key.
	ResetIdentity(passphrase string) (Identity, error)
}

// RoomKeyStore owns the per-room key entries and their state machine.
// Implementations serialize transitions per room.
type RoomKeyStore interface {
	// Get returns the room's entry. Rooms never seen report
	// KeyStateMissing.
	Get(room RoomID) (RoomKey, error)
	// SetActive installs a new active key, superseding any prior entry.
	// Idempotent when keyID matches the current active entry.
	SetActive(room RoomID, keyID KeyID, key SymmetricKey) error
	// MarkRequested records that a key request is in flight.
	MarkRequested(room RoomID) error
	// MarkSuggested records an unwrapped suggestion. A later suggestion
	// overwrites a pending one.
	MarkSuggested(room RoomID, keyID KeyID, key SymmetricKey) error
	// RejectSuggested discards the pending suggestion; the room returns
	// to KeyStateMissing and may be re-requested.
	RejectSuggested(room RoomID) error
	// Clear drops the room's entry back to KeyStateMissing.
	Clear(room RoomID) error
	// ActiveRooms lists every room currently holding an active key.
	ActiveRooms() ([]RoomID, error)
}

// MessageCipher encrypts and decrypts message payloads with the active
// room key.
type MessageCipher interface {
	// Encrypt seals plaintext for the room. Fails with ErrNoActiveKey
	// when the room holds no active key; callers must run the exchange
	// protocol and retry, never fall back to plaintext.
	Encrypt(room RoomID, plaintext []byte) (EncryptedEnvelope, error)
	// Decrypt opens an envelope. Fails with ErrKeyMismatch when the
	// envelope references a superseded key version and with
	// ErrDecryptFailure on authentication failure.
	Decrypt(env EncryptedEnvelope) ([]byte, error)
}

// KeyExchange brings rooms from Missing or Suggested to Active (or
// Rejected) and propagates locally generated keys to members.
type KeyExchange interface {
	RequestRoomKey(ctx context.Context, room RoomID) error
	HandleKeyRequest(ctx context.Context, room RoomID, from MemberID) error
	HandleSuggestedKey(ctx context.Context, room RoomID, keyID KeyID, ciphertext []byte) error
	AcceptSuggestedKey(ctx context.Context, room RoomID) error
	RejectSuggestedKey(ctx context.Context, room RoomID) error
	GenerateRoomKey(ctx context.Context, room RoomID) (KeyID, error)
	SyncSubscriptionKeys(ctx context.Context) error
	ResetOwnIdentity(ctx context.Context, rooms []RoomID) error
}

// Transport is the abstracted server API client the core consumes.
// Methods are named by effect, not endpoint.
type Transport interface {
	// FetchRoomMemberKeys returns the public keys of members who do not
	// hold the room's key.
	FetchRoomMemberKeys(ctx context.Context, room RoomID) (map[MemberID]PublicKey, error)
	// PublishIdentityKey uploads this device's public key to the
	// directory.
	PublishIdentityKey(ctx context.Context, pub PublicKey) error
	// SendWrappedRoomKey delivers a wrapped key to one member.
	SendWrappedRoomKey(ctx context.Context, room RoomID, recipient MemberID, wrapped WrappedKey) error
	// RequestSubscriptionKeys bulk-fetches suggested keys for every room
	// joined since the last sync.
	RequestSubscriptionKeys(ctx context.Context) ([]SuggestedRoomKey, error)
	// AcceptSuggestedRoomKey acknowledges acceptance upstream.
	AcceptSuggestedRoomKey(ctx context.Context, room RoomID) error
	// RejectSuggestedRoomKey acknowledges rejection upstream.
	RejectSuggestedRoomKey(ctx context.Context, room RoomID) error
	// AnnounceRoomKeyID publishes the room's current key version.
	AnnounceRoomKeyID(ctx context.Context, room RoomID, keyID KeyID) error
	// ResetOwnIdentity informs the directory that a new public key
	// supersedes the old one.
	ResetOwnIdentity(ctx context.Context) error
	// SendMessage delivers an encrypted envelope to the room.
	SendMessage(ctx context.Context, env EncryptedEnvelope) error
	// ServerVersion reports the server version string used for
	// capability negotiation.
	ServerVersion(ctx context.Context) (string, error)
}

// EventStream is the inbound notification collaborator. Events arrive in
// server order; per-room ordering is preserved by the consumer.
type EventStream interface {
	// Events returns the channel of inbound notifications. The channel
	// is closed when the stream shuts down.
	Events() <-chan Event
	// BroadcastKeyRequest emits a key-request event addressed to the
	// room's members.
	BroadcastKeyRequest(ctx context.Context, room RoomID) error
}
