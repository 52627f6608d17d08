package domain

// Event is an inbound notification from the event-stream collaborator.
// The set of implementations is closed.
type Event interface {
	Room() RoomID
}

// KeyRequested reports that a member asked for the room's key.
type KeyRequested struct {
	RoomID RoomID   `json:"room_id" cbor:"1,keyasint"`
	From   MemberID `json:"from" cbor:"2,keyasint"`
}

// Room returns the room the event concerns.
func (e KeyRequested) Room() RoomID { return e.RoomID }

// RoomKeySuggested delivers a room key wrapped for this identity.
type RoomKeySuggested struct {
	RoomID     RoomID `json:"room_id" cbor:"1,keyasint"`
	KeyID      KeyID  `json:"key_id" cbor:"2,keyasint"`
	Ciphertext []byte `json:"ciphertext" cbor:"3,keyasint"`
}

// Room returns the room the event concerns.
func (e RoomKeySuggested) Room() RoomID { return e.RoomID }

// RoomKeyIDUpdated announces that the room's current key version changed
// on the server side (a rotation elsewhere).
type RoomKeyIDUpdated struct {
	RoomID RoomID `json:"room_id" cbor:"1,keyasint"`
	KeyID  KeyID  `json:"key_id" cbor:"2,keyasint"`
}

// Room returns the room the event concerns.
func (e RoomKeyIDUpdated) Room() RoomID { return e.RoomID }
