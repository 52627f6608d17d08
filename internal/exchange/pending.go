package exchange

import (
	"sync"
	"time"

	"roomseal/internal/domain"
)

// pendingTable tracks in-flight key requests, at most one per room.
type pendingTable struct {
	mu   sync.Mutex
	reqs map[domain.RoomID]*pendingReq
}

type pendingReq struct {
	at    time.Time
	timer *time.Timer
}

func newPendingTable() *pendingTable {
	return &pendingTable{reqs: make(map[domain.RoomID]*pendingReq)}
}

// begin records a request for the room. It returns false when one is
// already outstanding. After ttl the slot is freed and onExpire runs.
func (t *pendingTable) begin(room domain.RoomID, ttl time.Duration, onExpire func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.reqs[room]; ok {
		return false
	}
	req := &pendingReq{at: time.Now()}
	req.timer = time.AfterFunc(ttl, func() {
		if t.expire(room) {
			onExpire()
		}
	})
	t.reqs[room] = req
	return true
}

// resolve frees the room's slot because its key arrived. It reports
// whether a request was outstanding.
func (t *pendingTable) resolve(room domain.RoomID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.reqs[room]
	if !ok {
		return false
	}
	req.timer.Stop()
	delete(t.reqs, room)
	return true
}

// expire frees the room's slot from the timeout path. It loses the race
// against resolve when the key arrived first.
func (t *pendingTable) expire(room domain.RoomID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.reqs[room]; !ok {
		return false
	}
	delete(t.reqs, room)
	return true
}

// snapshot lists the outstanding requests.
func (t *pendingTable) snapshot() []domain.PendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.PendingRequest, 0, len(t.reqs))
	for room, req := range t.reqs {
		out = append(out, domain.PendingRequest{RoomID: room, RequestedAt: req.at})
	}
	return out
}
