package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"roomseal/internal/crypto"
	"roomseal/internal/domain"
	"roomseal/internal/transport"
)

// Config carries the protocol tunables.
type Config struct {
	// Passphrase unlocks the identity keyring for the session.
	Passphrase string
	// RequestTimeout bounds how long a key request stays pending before
	// its slot is freed for retry.
	RequestTimeout time.Duration
	// RetryMin, RetryMax and MaxRetries shape the transport backoff.
	RetryMin   time.Duration
	RetryMax   time.Duration
	MaxRetries int
	// Caps gates protocol behaviour that needs server support.
	Caps transport.CapabilitySet
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		RetryMin:       100 * time.Millisecond,
		RetryMax:       5 * time.Second,
		MaxRetries:     4,
	}
}

// Protocol orchestrates requesting, sending, accepting, rejecting and
// rotating room keys between members.
type Protocol struct {
	keys   domain.KeyStore
	rooms  domain.RoomKeyStore
	server domain.Transport
	stream domain.EventStream
	cfg    Config
	log    zerolog.Logger

	pending *pendingTable
	roomMu  *lockMap

	// identityMu serializes identity reset against every in-flight
	// room operation. Held before any room lock.
	identityMu sync.RWMutex
}

// New constructs a Protocol with the given collaborators.
func New(
	keys domain.KeyStore,
	rooms domain.RoomKeyStore,
	server domain.Transport,
	stream domain.EventStream,
	cfg Config,
	log zerolog.Logger,
) *Protocol {
	return &Protocol{
		keys:    keys,
		rooms:   rooms,
		server:  server,
		stream:  stream,
		cfg:     cfg,
		log:     log.With().Str("component", "exchange").Logger(),
		pending: newPendingTable(),
		roomMu:  newLockMap(),
	}
}

// RequestRoomKey records a pending request for the room's key and
// broadcasts a key-request event to its members. A second call while a
// request is outstanding is a no-op. The call returns once the request
// is on the wire; the Suggested key arrives later as an independent
// event, or the request expires and the slot is freed for retry.
func (p *Protocol) RequestRoomKey(ctx context.Context, room domain.RoomID) error {
	p.identityMu.RLock()
	defer p.identityMu.RUnlock()
	unlock := p.roomMu.lock(room)
	defer unlock()

	rk, err := p.rooms.Get(room)
	if err != nil {
		return err
	}
	if rk.State == domain.KeyStateActive {
		return nil
	}

	ok := p.pending.begin(room, p.cfg.RequestTimeout, func() {
		p.log.Debug().Stringer("room", room).Msg("key request expired")
		unlock := p.roomMu.lock(room)
		defer unlock()
		// A key may have arrived between the slot expiring and this
		// callback taking the room lock. Only a still-Requested room
		// goes back to Missing; a Suggested or Active key stands.
		rk, err := p.rooms.Get(room)
		if err != nil {
			p.log.Warn().Err(err).Stringer("room", room).Msg("state read after request expiry")
			return
		}
		if rk.State != domain.KeyStateRequested {
			return
		}
		if err := p.rooms.Clear(room); err != nil {
			p.log.Warn().Err(err).Stringer("room", room).Msg("clear after request expiry")
		}
	})
	if !ok {
		p.log.Debug().Stringer("room", room).Msg("key request already pending")
		return nil
	}

	if err := p.rooms.MarkRequested(room); err != nil {
		p.pending.resolve(room)
		return err
	}

	var members map[domain.MemberID]domain.PublicKey
	err = p.withRetry(ctx, "fetch room member keys", func() error {
		var err error
		members, err = p.server.FetchRoomMemberKeys(ctx, room)
		return err
	})
	if err == nil {
		err = p.withRetry(ctx, "broadcast key request", func() error {
			return p.stream.BroadcastKeyRequest(ctx, room)
		})
	}
	if err != nil {
		// Free the slot and fall back to Missing; the caller may retry.
		p.pending.resolve(room)
		if clearErr := p.rooms.Clear(room); clearErr != nil {
			p.log.Warn().Err(clearErr).Stringer("room", room).Msg("clear after failed request")
		}
		return err
	}

	p.log.Debug().Stringer("room", room).Int("members", len(members)).
		Msg("key request broadcast")
	return nil
}

// HandleKeyRequest answers a peer's key request. When the local store
// holds an active key for the room it is wrapped for the requester's
// public key and sent to that one member. The key is never broadcast and
// never leaves the device unwrapped.
func (p *Protocol) HandleKeyRequest(ctx context.Context, room domain.RoomID, from domain.MemberID) error {
	p.identityMu.RLock()
	defer p.identityMu.RUnlock()
	unlock := p.roomMu.lock(room)
	defer unlock()

	rk, err := p.rooms.Get(room)
	if err != nil {
		return err
	}
	if rk.State != domain.KeyStateActive {
		p.log.Debug().Stringer("room", room).Stringer("from", from).
			Msg("ignoring key request, no active key to share")
		return nil
	}

	var members map[domain.MemberID]domain.PublicKey
	err = p.withRetry(ctx, "fetch room member keys", func() error {
		var err error
		members, err = p.server.FetchRoomMemberKeys(ctx, room)
		return err
	})
	if err != nil {
		return err
	}
	pub, ok := members[from]
	if !ok {
		return fmt.Errorf("no published public key for member %s in room %s", from, room)
	}

	ct, err := p.keys.Wrap(rk.Key, pub)
	if err != nil {
		return err
	}
	wrapped := domain.WrappedKey{
		RoomID:               room,
		KeyID:                rk.KeyID,
		RecipientFingerprint: crypto.Fingerprint(pub),
		Ciphertext:           ct,
	}
	if err := p.withRetry(ctx, "send wrapped room key", func() error {
		return p.server.SendWrappedRoomKey(ctx, room, from, wrapped)
	}); err != nil {
		return err
	}
	p.log.Debug().Stringer("room", room).Stringer("to", from).Msg("wrapped key sent")
	return nil
}

// HandleSuggestedKey unwraps a peer's key suggestion and records it in
// the suggestion slot. An unwrap failure discards the suggestion and
// leaves the room in its prior state. A later suggestion overwrites an
// unaccepted one.
func (p *Protocol) HandleSuggestedKey(ctx context.Context, room domain.RoomID, keyID domain.KeyID, ciphertext []byte) error {
	p.identityMu.RLock()
	defer p.identityMu.RUnlock()
	unlock := p.roomMu.lock(room)
	defer unlock()

	id, ok, err := p.keys.LoadIdentity(p.cfg.Passphrase)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNoIdentity
	}

	key, err := p.keys.Unwrap(ciphertext, id)
	if err != nil {
		p.log.Warn().Err(err).Stringer("room", room).Stringer("key", keyID).
			Msg("discarding suggestion that failed to unwrap")
		return err
	}
	if err := p.rooms.MarkSuggested(room, keyID, key); err != nil {
		return err
	}
	// The request, if any, resolved: the key is here awaiting acceptance.
	p.pending.resolve(room)

	p.log.Debug().Stringer("room", room).Stringer("key", keyID).Msg("key suggestion recorded")
	return nil
}

// AcceptSuggestedKey promotes the pending suggestion to the room's
// active key and acknowledges upstream when the server supports it.
func (p *Protocol) AcceptSuggestedKey(ctx context.Context, room domain.RoomID) error {
	p.identityMu.RLock()
	defer p.identityMu.RUnlock()
	unlock := p.roomMu.lock(room)
	defer unlock()

	rk, err := p.rooms.Get(room)
	if err != nil {
		return err
	}
	if rk.State != domain.KeyStateSuggested {
		return fmt.Errorf("room %s has no pending suggestion (state %s)", room, rk.State)
	}
	if err := p.rooms.SetActive(room, rk.KeyID, rk.Key); err != nil {
		return err
	}
	p.log.Info().Stringer("room", room).Stringer("key", rk.KeyID).Msg("suggested key accepted")

	if p.cfg.Caps.Has(transport.FeatureSuggestionAcks) {
		if err := p.withRetry(ctx, "accept suggested room key", func() error {
			return p.server.AcceptSuggestedRoomKey(ctx, room)
		}); err != nil {
			// The local transition stands; the server learns on next sync.
			p.log.Warn().Err(err).Stringer("room", room).Msg("accept acknowledgement failed")
		}
	}
	return nil
}

// RejectSuggestedKey discards the pending suggestion. The room returns
// to Missing and may be re-requested.
func (p *Protocol) RejectSuggestedKey(ctx context.Context, room domain.RoomID) error {
	p.identityMu.RLock()
	defer p.identityMu.RUnlock()
	unlock := p.roomMu.lock(room)
	defer unlock()

	if err := p.rooms.RejectSuggested(room); err != nil {
		return err
	}
	p.log.Info().Stringer("room", room).Msg("suggested key rejected")

	if p.cfg.Caps.Has(transport.FeatureSuggestionAcks) {
		if err := p.withRetry(ctx, "reject suggested room key", func() error {
			return p.server.RejectSuggestedRoomKey(ctx, room)
		}); err != nil {
			p.log.Warn().Err(err).Stringer("room", room).Msg("reject acknowledgement failed")
		}
	}
	return nil
}

// GenerateRoomKey creates a fresh content key for the room, installs it
// as active locally and opportunistically wraps and sends it to every
// member with a published public key. Partial delivery failure does not
// fail the local installation; unreached members request the key later.
func (p *Protocol) GenerateRoomKey(ctx context.Context, room domain.RoomID) (domain.KeyID, error) {
	p.identityMu.RLock()
	defer p.identityMu.RUnlock()
	unlock := p.roomMu.lock(room)
	defer unlock()

	key, err := crypto.NewSymmetricKey()
	if err != nil {
		return "", err
	}
	keyID := domain.KeyID(uuid.NewString())
	if err := p.rooms.SetActive(room, keyID, key); err != nil {
		return "", err
	}
	p.pending.resolve(room)
	p.log.Info().Stringer("room", room).Stringer("key", keyID).Msg("room key generated")

	if p.cfg.Caps.Has(transport.FeatureKeyIDAnnouncements) {
		if err := p.withRetry(ctx, "announce room key id", func() error {
			return p.server.AnnounceRoomKeyID(ctx, room, keyID)
		}); err != nil {
			p.log.Warn().Err(err).Stringer("room", room).Msg("key id announcement failed")
		}
	}

	var members map[domain.MemberID]domain.PublicKey
	err = p.withRetry(ctx, "fetch room member keys", func() error {
		var err error
		members, err = p.server.FetchRoomMemberKeys(ctx, room)
		return err
	})
	if err != nil {
		// Local key stands; members will request it independently.
		p.log.Warn().Err(err).Stringer("room", room).Msg("member fetch failed, skipping fan-out")
		return keyID, nil
	}

	var wg sync.WaitGroup
	for member, pub := range members {
		wg.Add(1)
		go func(member domain.MemberID, pub domain.PublicKey) {
			defer wg.Done()
			if err := p.distribute(ctx, room, keyID, key, member, pub); err != nil {
				p.log.Warn().Err(err).Stringer("room", room).Stringer("to", member).
					Msg("key fan-out failed for member")
			}
		}(member, pub)
	}
	wg.Wait()
	return keyID, nil
}

// distribute wraps and sends the key to a single member.
func (p *Protocol) distribute(
	ctx context.Context,
	room domain.RoomID,
	keyID domain.KeyID,
	key domain.SymmetricKey,
	member domain.MemberID,
	pub domain.PublicKey,
) error {
	ct, err := p.keys.Wrap(key, pub)
	if err != nil {
		return err
	}
	wrapped := domain.WrappedKey{
		RoomID:               room,
		KeyID:                keyID,
		RecipientFingerprint: crypto.Fingerprint(pub),
		Ciphertext:           ct,
	}
	return p.withRetry(ctx, "send wrapped room key", func() error {
		return p.server.SendWrappedRoomKey(ctx, room, member, wrapped)
	})
}

// SyncSubscriptionKeys bulk-fetches the suggested keys for every room
// joined since the last sync and records each one.
func (p *Protocol) SyncSubscriptionKeys(ctx context.Context) error {
	if !p.cfg.Caps.Has(transport.FeatureSubscriptionSync) {
		p.log.Debug().Msg("server lacks subscription key sync, skipping")
		return nil
	}

	var suggested []domain.SuggestedRoomKey
	err := p.withRetry(ctx, "request subscription keys", func() error {
		var err error
		suggested, err = p.server.RequestSubscriptionKeys(ctx)
		return err
	})
	if err != nil {
		return err
	}
	for _, s := range suggested {
		if err := p.HandleSuggestedKey(ctx, s.RoomID, s.KeyID, s.Ciphertext); err != nil {
			// One bad suggestion must not break the sync.
			p.log.Warn().Err(err).Stringer("room", s.RoomID).Msg("subscription key skipped")
		}
	}
	return nil
}

// ResetOwnIdentity destructively rotates the identity key pair, informs
// the directory, invalidates every room key this identity held and
// re-requests keys for the rooms still joined. A failed reset leaves the
// prior identity and the room keys intact.
func (p *Protocol) ResetOwnIdentity(ctx context.Context, joined []domain.RoomID) error {
	p.identityMu.Lock()
	id, err := p.keys.ResetIdentity(p.cfg.Passphrase)
	if err != nil {
		p.identityMu.Unlock()
		return err
	}

	if err := p.withRetry(ctx, "reset identity on server", func() error {
		return p.server.ResetOwnIdentity(ctx)
	}); err != nil {
		p.log.Warn().Err(err).Msg("server identity reset failed; directory updates on next publish")
	}
	if err := p.withRetry(ctx, "publish identity key", func() error {
		return p.server.PublishIdentityKey(ctx, id.Public)
	}); err != nil {
		p.log.Warn().Err(err).Msg("publishing new identity key failed")
	}

	// Every key wrapped for the old identity is unusable now.
	active, err := p.rooms.ActiveRooms()
	if err != nil {
		p.identityMu.Unlock()
		return err
	}
	for _, room := range active {
		if err := p.rooms.Clear(room); err != nil {
			p.identityMu.Unlock()
			return err
		}
	}
	p.identityMu.Unlock()
	p.log.Info().Int("invalidated", len(active)).Str("fingerprint", id.Fingerprint.String()).
		Msg("identity reset")

	for _, room := range joined {
		if err := p.RequestRoomKey(ctx, room); err != nil {
			p.log.Warn().Err(err).Stringer("room", room).Msg("re-request after reset failed")
		}
	}
	return nil
}

// PendingRequests snapshots the in-flight key requests.
func (p *Protocol) PendingRequests() []domain.PendingRequest {
	return p.pending.snapshot()
}

// Compile-time assertion that Protocol implements domain.KeyExchange.
var _ domain.KeyExchange = (*Protocol)(nil)
