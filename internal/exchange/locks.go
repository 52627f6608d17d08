package exchange

import (
	"sync"

	"roomseal/internal/domain"
)

// lockMap hands out one mutex per room so same-room protocol steps
// serialize while distinct rooms proceed in parallel.
type lockMap struct {
	mu    sync.Mutex
	locks map[domain.RoomID]*sync.Mutex
}

func newLockMap() *lockMap {
	return &lockMap{locks: make(map[domain.RoomID]*sync.Mutex)}
}

// lock acquires the room's mutex and returns its unlock func.
func (l *lockMap) lock(room domain.RoomID) func() {
	l.mu.Lock()
	m, ok := l.locks[room]
	if !ok {
		m = &sync.Mutex{}
		l.locks[room] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
