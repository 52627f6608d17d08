package domain

import "errors"

// ErrCryptoFailure is raised when an underlying cryptographic primitive
// fails. Fatal to the operation; never retried automatically.
var ErrCryptoFailure = errors.New("roomseal: cryptographic primitive failure")

// ErrDecryptFailure is raised on authentication or unwrap failure. The
// input is treated as untrusted and discarded.
var ErrDecryptFailure = errors.New("roomseal: decryption or authentication failure")

// ErrKeyMismatch is raised when an envelope references a key version
// other than the locally active one. Recoverable by re-requesting.
var ErrKeyMismatch = errors.New("roomseal: envelope key id does not match active room key")

// ErrNoActiveKey is raised when a room has no active key. Expected and
// transient; recoverable by running the exchange protocol.
var ErrNoActiveKey = errors.New("roomseal: no active key for room")

// ErrNetworkFailure is raised when a transport operation fails after
// exhausting retries.
var ErrNetworkFailure = errors.New("roomseal: transport failure")

// ErrNoIdentity is raised when no identity key pair has been created yet.
var ErrNoIdentity = errors.New("roomseal: identity not initialised")

// ErrSuperseded is raised to a queued sender whose pending plaintext was
// replaced by a later send for the same room.
var ErrSuperseded = errors.New("roomseal: queued message superseded by a later send")
