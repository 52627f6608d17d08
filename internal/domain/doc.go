// Package domain holds the shared types, typed errors, collaborator
// interfaces and event definitions used across the roomseal E2EE core.
//
// Contents
//
//   - Identifier and key types (RoomID, KeyID, MemberID, Fingerprint,
//     PublicKey, PrivateKey, SymmetricKey)
//   - Room key state machine values (KeyState)
//   - Wire and transit values (EncryptedEnvelope, WrappedKey)
//   - The error taxonomy of the crypto core
//   - Interfaces for the stores, the protocol, the cipher, and the two
//     external collaborators (Transport, EventStream)
//
// The package has no dependencies beyond the standard library so every
// other package can import it freely.
package domain
