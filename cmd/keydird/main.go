// keydird is an in-memory key directory and event relay for developing
// against roomseal. Everything lives in process memory; restarting the
// server forgets all identities, suggestions and messages.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"roomseal/internal/domain"
	"roomseal/internal/transport"
)

type memberKey struct {
	MemberID  domain.MemberID  `json:"member_id"`
	PublicKey domain.PublicKey `json:"public_key"`
}

type publishIdentityRequest struct {
	PublicKey domain.PublicKey `json:"public_key"`
}

type sendWrappedKeyRequest struct {
	Recipient domain.MemberID   `json:"recipient"`
	Wrapped   domain.WrappedKey `json:"wrapped"`
}

type announceKeyIDRequest struct {
	KeyID domain.KeyID `json:"key_id"`
}

// feed is one member's ordered event queue. Cursors grow forever; a
// poller hands back its last cursor and receives everything after it.
type feed struct {
	frames []transport.EventFrame
	next   uint64
	wake   chan struct{}
}

type directory struct {
	mu sync.RWMutex

	identities map[domain.MemberID]domain.PublicKey
	holders    map[domain.RoomID]map[domain.MemberID]bool
	keyIDs     map[domain.RoomID]domain.KeyID
	suggested  map[domain.MemberID]map[domain.RoomID]domain.SuggestedRoomKey
	feeds      map[domain.MemberID]*feed
	messages   [][]byte
}

func newDirectory() *directory {
	return &directory{
		identities: make(map[domain.MemberID]domain.PublicKey),
		holders:    make(map[domain.RoomID]map[domain.MemberID]bool),
		keyIDs:     make(map[domain.RoomID]domain.KeyID),
		suggested:  make(map[domain.MemberID]map[domain.RoomID]domain.SuggestedRoomKey),
		feeds:      make(map[domain.MemberID]*feed),
	}
}

// push appends an event to one member's feed and wakes its pollers.
// Caller holds d.mu.
func (d *directory) push(to domain.MemberID, ev domain.Event) {
	f := d.feeds[to]
	if f == nil {
		f = &feed{wake: make(chan struct{})}
		d.feeds[to] = f
	}
	f.next++
	f.frames = append(f.frames, transport.EventFrame{Event: ev, Cursor: f.next})
	close(f.wake)
	f.wake = make(chan struct{})
}

func (d *directory) after(member domain.MemberID, cursor uint64) ([]transport.EventFrame, <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.feeds[member]
	if f == nil {
		f = &feed{wake: make(chan struct{})}
		d.feeds[member] = f
	}
	var out []transport.EventFrame
	for _, ef := range f.frames {
		if ef.Cursor > cursor {
			out = append(out, ef)
		}
	}
	return out, f.wake
}

func (d *directory) roomHolders(room domain.RoomID) map[domain.MemberID]bool {
	h := d.holders[room]
	if h == nil {
		h = make(map[domain.MemberID]bool)
		d.holders[room] = h
	}
	return h
}

func caller(r *http.Request) domain.MemberID {
	return domain.MemberID(r.Header.Get("X-Member"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	version := flag.String("version", "5.4.0", "version to report, gates client features")
	flag.Parse()

	d := newDirectory()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"version": *version})
	})

	mux.HandleFunc("POST /e2e/identity", func(w http.ResponseWriter, r *http.Request) {
		var req publishIdentityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		member := caller(r)
		d.mu.Lock()
		d.identities[member] = req.PublicKey
		d.mu.Unlock()
		log.Println("identity published for", member)
	})

	mux.HandleFunc("POST /e2e/identity/reset", func(w http.ResponseWriter, r *http.Request) {
		member := caller(r)
		d.mu.Lock()
		delete(d.identities, member)
		for _, h := range d.holders {
			delete(h, member)
		}
		delete(d.suggested, member)
		d.mu.Unlock()
		log.Println("identity reset for", member)
	})

	mux.HandleFunc("GET /e2e/rooms/{room}/members-without-key", func(w http.ResponseWriter, r *http.Request) {
		room := domain.RoomID(r.PathValue("room"))
		me := caller(r)
		d.mu.RLock()
		holders := d.holders[room]
		members := make([]memberKey, 0, len(d.identities))
		for id, pub := range d.identities {
			if id == me || holders[id] {
				continue
			}
			members = append(members, memberKey{MemberID: id, PublicKey: pub})
		}
		d.mu.RUnlock()
		writeJSON(w, map[string]any{"members": members})
	})

	mux.HandleFunc("POST /e2e/rooms/{room}/key", func(w http.ResponseWriter, r *http.Request) {
		room := domain.RoomID(r.PathValue("room"))
		var req sendWrappedKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		sk := domain.SuggestedRoomKey{
			RoomID:     room,
			KeyID:      req.Wrapped.KeyID,
			Ciphertext: req.Wrapped.Ciphertext,
		}
		d.mu.Lock()
		if d.suggested[req.Recipient] == nil {
			d.suggested[req.Recipient] = make(map[domain.RoomID]domain.SuggestedRoomKey)
		}
		d.suggested[req.Recipient][room] = sk
		d.push(req.Recipient, domain.RoomKeySuggested{
			RoomID: room, KeyID: sk.KeyID, Ciphertext: sk.Ciphertext,
		})
		d.mu.Unlock()
		log.Printf("wrapped key for %s delivered to %s", room, req.Recipient)
	})

	mux.HandleFunc("POST /e2e/rooms/{room}/key-request", func(w http.ResponseWriter, r *http.Request) {
		room := domain.RoomID(r.PathValue("room"))
		from := caller(r)
		d.mu.Lock()
		for id := range d.identities {
			if id == from {
				continue
			}
			d.push(id, domain.KeyRequested{RoomID: room, From: from})
		}
		d.mu.Unlock()
		log.Printf("key request for %s from %s", room, from)
	})

	mux.HandleFunc("POST /e2e/rooms/{room}/key/accept", func(w http.ResponseWriter, r *http.Request) {
		room := domain.RoomID(r.PathValue("room"))
		member := caller(r)
		d.mu.Lock()
		d.roomHolders(room)[member] = true
		delete(d.suggested[member], room)
		d.mu.Unlock()
	})

	mux.HandleFunc("POST /e2e/rooms/{room}/key/reject", func(w http.ResponseWriter, r *http.Request) {
		room := domain.RoomID(r.PathValue("room"))
		member := caller(r)
		d.mu.Lock()
		delete(d.suggested[member], room)
		d.mu.Unlock()
	})

	mux.HandleFunc("POST /e2e/rooms/{room}/key-id", func(w http.ResponseWriter, r *http.Request) {
		room := domain.RoomID(r.PathValue("room"))
		var req announceKeyIDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		owner := caller(r)
		d.mu.Lock()
		d.keyIDs[room] = req.KeyID
		d.roomHolders(room)[owner] = true
		for id := range d.identities {
			if id == owner {
				continue
			}
			d.push(id, domain.RoomKeyIDUpdated{RoomID: room, KeyID: req.KeyID})
		}
		d.mu.Unlock()
		log.Printf("key id for %s is now %s", room, req.KeyID)
	})

	mux.HandleFunc("GET /e2e/subscription-keys", func(w http.ResponseWriter, r *http.Request) {
		member := caller(r)
		d.mu.RLock()
		keys := make([]domain.SuggestedRoomKey, 0, len(d.suggested[member]))
		for _, sk := range d.suggested[member] {
			keys = append(keys, sk)
		}
		d.mu.RUnlock()
		writeJSON(w, map[string]any{"keys": keys})
	})

	mux.HandleFunc("POST /e2e/messages", func(w http.ResponseWriter, r *http.Request) {
		frame, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		d.mu.Lock()
		d.messages = append(d.messages, frame)
		n := len(d.messages)
		d.mu.Unlock()
		log.Printf("message %d stored (%d bytes) from %s", n, len(frame), caller(r))
	})

	mux.HandleFunc("GET /e2e/events", func(w http.ResponseWriter, r *http.Request) {
		member := caller(r)
		var cursor uint64
		if c := r.URL.Query().Get("cursor"); c != "" {
			v, err := strconv.ParseUint(c, 10, 64)
			if err != nil {
				http.Error(w, "bad cursor", 400)
				return
			}
			cursor = v
		}

		frames, wake := d.after(member, cursor)
		if len(frames) == 0 {
			select {
			case <-wake:
				frames, _ = d.after(member, cursor)
			case <-time.After(25 * time.Second):
			case <-r.Context().Done():
				return
			}
		}

		b, err := transport.EncodeFrames(frames)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/cbor")
		_, _ = w.Write(b)
	})

	log.Println("keydird listening on", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}
