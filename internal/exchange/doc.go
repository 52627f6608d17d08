// Package exchange implements the room key distribution protocol: it
// brings a room from Missing or Suggested to Active (or Rejected) and
// propagates locally generated keys to members who lack them.
//
// Shared state is limited to the RoomKeyStore and the pending-request
// table. Operations on the same room serialize through a per-room lock;
// operations on different rooms run in parallel. Identity reset takes a
// protocol-wide write lock ordered before any room lock.
//
// A key request resolves asynchronously: RequestRoomKey only records the
// pending slot and broadcasts the request; the Suggested key arrives
// later as an independent event. An unresolved request expires after a
// configurable timeout, freeing the slot for a retry.
package exchange
