package roomkeys

import (
	"path/filepath"
	"sync"
	"time"

	"roomseal/internal/domain"
)

const keysFilename = "room_keys.json"

// retired is one superseded key version kept for diagnostics.
type retired struct {
	KeyID     domain.KeyID `json:"key_id"`
	RetiredAt int64        `json:"retired_at"`
}

// entry is the in-memory state of one room.
type entry struct {
	state domain.KeyState

	// Active key material; valid when state is Active, and retained
	// underneath a pending suggestion.
	activeID  domain.KeyID
	activeKey domain.SymmetricKey

	// Pending suggestion slot; last write wins until accepted or
	// rejected.
	suggestedID  domain.KeyID
	suggestedKey domain.SymmetricKey

	history []retired
}

// persisted is the on-disk form of a room's active key. Requested and
// Suggested states are transient and never written out.
type persisted struct {
	KeyID   domain.KeyID        `json:"key_id"`
	Key     domain.SymmetricKey `json:"key"`
	History []retired           `json:"history,omitempty"`
}

// Store keeps per-room key entries, persisting active keys to disk.
// All transitions for a single room are serialized; distinct rooms
// proceed independently.
type Store struct {
	dir string

	mu    sync.Mutex
	rooms map[domain.RoomID]*entry

	fileMu sync.Mutex
}

// New returns a Store rooted at dir, loading any previously persisted
// active keys.
func New(dir string) (*Store, error) {
	s := &Store{dir: dir, rooms: make(map[domain.RoomID]*entry)}

	saved := make(map[domain.RoomID]persisted)
	if err := readJSON(s.path(), &saved); err != nil {
		return nil, err
	}
	for room, p := range saved {
		s.rooms[room] = &entry{
			state:     domain.KeyStateActive,
			activeID:  p.KeyID,
			activeKey: p.Key,
			history:   p.History,
		}
	}
	return s, nil
}

// Get returns the room's entry. Rooms never seen report KeyStateMissing.
func (s *Store) Get(room domain.RoomID) (domain.RoomKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rooms[room]
	if !ok {
		return domain.RoomKey{RoomID: room, State: domain.KeyStateMissing}, nil
	}
	rk := domain.RoomKey{RoomID: room, State: e.state}
	switch e.state {
	case domain.KeyStateActive:
		rk.KeyID, rk.Key = e.activeID, e.activeKey
	case domain.KeyStateSuggested:
		rk.KeyID, rk.Key = e.suggestedID, e.suggestedKey
	}
	return rk, nil
}

// SetActive installs a new active key, superseding any prior entry for
// the room. Idempotent when keyID matches the current active entry.
func (s *Store) SetActive(room domain.RoomID, keyID domain.KeyID, key domain.SymmetricKey) error {
	s.mu.Lock()
	e := s.ensure(room)
	if e.state == domain.KeyStateActive && e.activeID == keyID {
		s.mu.Unlock()
		return nil
	}
	e.retireActive()
	e.state = domain.KeyStateActive
	e.activeID = keyID
	e.activeKey = key
	e.suggestedID = ""
	e.suggestedKey = domain.SymmetricKey{}
	s.mu.Unlock()

	return s.persist()
}

// MarkRequested records that a key request is in flight for the room.
// A room that already holds an active key is left untouched.
func (s *Store) MarkRequested(room domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensure(room)
	if e.state == domain.KeyStateActive || e.state == domain.KeyStateSuggested {
		return nil
	}
	e.state = domain.KeyStateRequested
	return nil
}

// MarkSuggested records an unwrapped suggestion for the room. A later
// suggestion overwrites a pending one. Suggesting the key id that is
// already active is a no-op.
func (s *Store) MarkSuggested(room domain.RoomID, keyID domain.KeyID, key domain.SymmetricKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensure(room)
	if e.state == domain.KeyStateActive && e.activeID == keyID {
		return nil
	}
	e.state = domain.KeyStateSuggested
	e.suggestedID = keyID
	e.suggestedKey = key
	return nil
}

// RejectSuggested discards the pending suggestion. The room returns to
// Missing and may be re-requested; any prior active key is retired.
func (s *Store) RejectSuggested(room domain.RoomID) error {
	s.mu.Lock()
	e, ok := s.rooms[room]
	if !ok || e.state != domain.KeyStateSuggested {
		s.mu.Unlock()
		return nil
	}
	e.retireActive()
	e.state = domain.KeyStateMissing
	e.activeID = ""
	e.activeKey = domain.SymmetricKey{}
	e.suggestedID = ""
	e.suggestedKey = domain.SymmetricKey{}
	s.mu.Unlock()

	return s.persist()
}

// Clear drops the room's entry back to Missing, retiring any active key.
func (s *Store) Clear(room domain.RoomID) error {
	s.mu.Lock()
	e, ok := s.rooms[room]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	e.retireActive()
	e.state = domain.KeyStateMissing
	e.activeID = ""
	e.activeKey = domain.SymmetricKey{}
	e.suggestedID = ""
	e.suggestedKey = domain.SymmetricKey{}
	s.mu.Unlock()

	return s.persist()
}

// ActiveRooms lists every room currently holding an active key.
func (s *Store) ActiveRooms() ([]domain.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.RoomID
	for room, e := range s.rooms {
		if e.state == domain.KeyStateActive {
			out = append(out, room)
		}
	}
	return out, nil
}

// ensure returns the room's entry, creating a Missing one if needed.
// Callers hold s.mu.
func (s *Store) ensure(room domain.RoomID) *entry {
	e, ok := s.rooms[room]
	if !ok {
		e = &entry{state: domain.KeyStateMissing}
		s.rooms[room] = e
	}
	return e
}

// retireActive pushes the current active key id onto the history.
func (e *entry) retireActive() {
	if e.activeID == "" {
		return
	}
	e.history = append(e.history, retired{KeyID: e.activeID, RetiredAt: time.Now().Unix()})
}

// persist writes all active entries to disk. fileMu is taken before the
// snapshot so concurrent persists cannot write an older snapshot last.
func (s *Store) persist() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.Lock()
	saved := make(map[domain.RoomID]persisted)
	for room, e := range s.rooms {
		if e.state != domain.KeyStateActive {
			continue
		}
		saved[room] = persisted{KeyID: e.activeID, Key: e.activeKey, History: e.history}
	}
	s.mu.Unlock()

	return writeJSON(s.path(), saved, 0o600)
}

func (s *Store) path() string {
	return filepath.Join(s.dir, keysFilename)
}

// Compile-time assertion that Store implements domain.RoomKeyStore.
var _ domain.RoomKeyStore = (*Store)(nil)
