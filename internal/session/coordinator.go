package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomseal/internal/domain"
)

// SuggestionPolicy decides whether a suggested key that unwrapped
// cleanly should be accepted. The default accepts everything.
type SuggestionPolicy func(room domain.RoomID, keyID domain.KeyID) bool

// AcceptAll is the default suggestion policy.
func AcceptAll(domain.RoomID, domain.KeyID) bool { return true }

// Config carries the coordinator tunables.
type Config struct {
	// Self is this device's member id; its own key-request broadcasts
	// are ignored when echoed back.
	Self domain.MemberID
	// SendTimeout bounds how long a queued send waits for a key.
	SendTimeout time.Duration
	// Policy decides on suggested keys. Nil means AcceptAll.
	Policy SuggestionPolicy
}

// Result is the outcome of receiving one envelope. Either Plaintext is
// set, or Undecryptable is true and Reason carries the typed cause
// (ErrKeyMismatch, ErrDecryptFailure or ErrNoActiveKey) so the caller
// can render a placeholder instead of dropping the message.
type Result struct {
	Plaintext     []byte
	Undecryptable bool
	Reason        error
}

// queuedSend is the one message a room may hold while waiting for a key.
type queuedSend struct {
	plaintext []byte
	done      chan error
}

// Coordinator sequences encryption, decryption and key exchange.
type Coordinator struct {
	cipher   domain.MessageCipher
	rooms    domain.RoomKeyStore
	exchange domain.KeyExchange
	server   domain.Transport
	stream   domain.EventStream
	cfg      Config
	log      zerolog.Logger

	mu     sync.Mutex
	queued map[domain.RoomID]*queuedSend
}

// New constructs a Coordinator.
func New(
	cipher domain.MessageCipher,
	rooms domain.RoomKeyStore,
	exchange domain.KeyExchange,
	server domain.Transport,
	stream domain.EventStream,
	cfg Config,
	log zerolog.Logger,
) *Coordinator {
	if cfg.Policy == nil {
		cfg.Policy = AcceptAll
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Coordinator{
		cipher:   cipher,
		rooms:    rooms,
		exchange: exchange,
		server:   server,
		stream:   stream,
		cfg:      cfg,
		log:      log.With().Str("component", "session").Logger(),
		queued:   make(map[domain.RoomID]*queuedSend),
	}
}

// Send encrypts and forwards plaintext to the room. Without an active
// key the plaintext is queued, the exchange protocol is triggered, and
// the call waits until the key arrives, the message is superseded by a
// later send, or the timeout passes (ErrNoActiveKey). Plaintext is
// never forwarded unencrypted.
func (c *Coordinator) Send(ctx context.Context, room domain.RoomID, plaintext []byte) error {
	rk, err := c.rooms.Get(room)
	if err != nil {
		return err
	}
	if rk.State == domain.KeyStateActive {
		return c.encryptAndForward(ctx, room, plaintext)
	}

	q := &queuedSend{plaintext: plaintext, done: make(chan error, 1)}
	c.mu.Lock()
	if prev, ok := c.queued[room]; ok {
		prev.done <- domain.ErrSuperseded
	}
	c.queued[room] = q
	c.mu.Unlock()

	if rk.State == domain.KeyStateMissing || rk.State == domain.KeyStateRequested {
		if err := c.exchange.RequestRoomKey(ctx, room); err != nil {
			c.log.Warn().Err(err).Stringer("room", room).Msg("key request from send failed")
		}
	}

	// The key may have turned Active between the first state read and
	// the queue insert, with the event-loop flush running in that gap
	// and finding nothing queued. Re-check so this send does not wait
	// out the timeout against a usable key.
	if rk, err := c.rooms.Get(room); err == nil && rk.State == domain.KeyStateActive {
		c.flush(ctx, room)
	}

	select {
	case err := <-q.done:
		return err
	case <-ctx.Done():
		c.dequeue(room, q)
		return ctx.Err()
	case <-time.After(c.cfg.SendTimeout):
		c.dequeue(room, q)
		return domain.ErrNoActiveKey
	}
}

// Receive decrypts an envelope and reports the structured outcome. It
// never blocks on key exchange; a stale key triggers a background
// re-request while the message is surfaced as undecryptable.
func (c *Coordinator) Receive(ctx context.Context, env domain.EncryptedEnvelope) Result {
	plaintext, err := c.cipher.Decrypt(env)
	if err == nil {
		return Result{Plaintext: plaintext}
	}

	switch {
	case errors.Is(err, domain.ErrKeyMismatch), errors.Is(err, domain.ErrNoActiveKey):
		c.log.Debug().Err(err).Stringer("room", env.RoomID).Msg("undecryptable envelope, re-requesting key")
		go func() {
			if reqErr := c.exchange.RequestRoomKey(ctx, env.RoomID); reqErr != nil {
				c.log.Warn().Err(reqErr).Stringer("room", env.RoomID).Msg("re-request failed")
			}
		}()
	case errors.Is(err, domain.ErrDecryptFailure):
		c.log.Warn().Err(err).Stringer("room", env.RoomID).Msg("envelope failed authentication")
	}
	return Result{Undecryptable: true, Reason: err}
}

// GenerateRoomKey creates and distributes a fresh key for the room (new
// encrypted room, or recovery when no member holds one) and releases
// any queued message.
func (c *Coordinator) GenerateRoomKey(ctx context.Context, room domain.RoomID) (domain.KeyID, error) {
	keyID, err := c.exchange.GenerateRoomKey(ctx, room)
	if err != nil {
		return "", err
	}
	c.flush(ctx, room)
	return keyID, nil
}

// ResetOwnIdentity rotates the identity key pair and invalidates every
// dependent room key; see the exchange protocol for the full sequence.
func (c *Coordinator) ResetOwnIdentity(ctx context.Context, joined []domain.RoomID) error {
	return c.exchange.ResetOwnIdentity(ctx, joined)
}

// Run consumes the event stream until ctx is cancelled or the stream
// closes. Events are handled in arrival order.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-c.stream.Events():
			if !ok {
				return nil
			}
			c.handle(ctx, ev)
		}
	}
}

// handle dispatches one inbound event.
func (c *Coordinator) handle(ctx context.Context, ev domain.Event) {
	switch ev := ev.(type) {
	case domain.KeyRequested:
		if ev.From == c.cfg.Self {
			return
		}
		if err := c.exchange.HandleKeyRequest(ctx, ev.RoomID, ev.From); err != nil {
			c.log.Warn().Err(err).Stringer("room", ev.RoomID).Msg("key request handling failed")
		}

	case domain.RoomKeySuggested:
		if err := c.exchange.HandleSuggestedKey(ctx, ev.RoomID, ev.KeyID, ev.Ciphertext); err != nil {
			// Untrusted input; discarded and logged, never fatal.
			c.log.Warn().Err(err).Stringer("room", ev.RoomID).Msg("suggested key discarded")
			return
		}
		rk, err := c.rooms.Get(ev.RoomID)
		if err != nil || rk.State != domain.KeyStateSuggested {
			return
		}
		if c.cfg.Policy(ev.RoomID, ev.KeyID) {
			if err := c.exchange.AcceptSuggestedKey(ctx, ev.RoomID); err != nil {
				c.log.Warn().Err(err).Stringer("room", ev.RoomID).Msg("accepting suggested key failed")
				return
			}
			c.flush(ctx, ev.RoomID)
		} else {
			if err := c.exchange.RejectSuggestedKey(ctx, ev.RoomID); err != nil {
				c.log.Warn().Err(err).Stringer("room", ev.RoomID).Msg("rejecting suggested key failed")
			}
		}

	case domain.RoomKeyIDUpdated:
		rk, err := c.rooms.Get(ev.RoomID)
		if err != nil {
			c.log.Warn().Err(err).Stringer("room", ev.RoomID).Msg("room lookup failed")
			return
		}
		if rk.State == domain.KeyStateActive && rk.KeyID == ev.KeyID {
			return
		}
		// The key rotated elsewhere; ours is stale.
		if err := c.rooms.Clear(ev.RoomID); err != nil {
			c.log.Warn().Err(err).Stringer("room", ev.RoomID).Msg("clearing stale key failed")
			return
		}
		if err := c.exchange.RequestRoomKey(ctx, ev.RoomID); err != nil {
			c.log.Warn().Err(err).Stringer("room", ev.RoomID).Msg("re-request after rotation failed")
		}
	}
}

// flush encrypts and forwards the room's queued message, if any, now
// that a key is active.
func (c *Coordinator) flush(ctx context.Context, room domain.RoomID) {
	c.mu.Lock()
	q, ok := c.queued[room]
	if ok {
		delete(c.queued, room)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	q.done <- c.encryptAndForward(ctx, room, q.plaintext)
}

// dequeue removes q from the room's slot if it is still the occupant.
func (c *Coordinator) dequeue(room domain.RoomID, q *queuedSend) {
	c.mu.Lock()
	if cur, ok := c.queued[room]; ok && cur == q {
		delete(c.queued, room)
	}
	c.mu.Unlock()
}

func (c *Coordinator) encryptAndForward(ctx context.Context, room domain.RoomID, plaintext []byte) error {
	env, err := c.cipher.Encrypt(room, plaintext)
	if err != nil {
		return err
	}
	return c.server.SendMessage(ctx, env)
}
