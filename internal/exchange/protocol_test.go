package exchange_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"roomseal/internal/domain"
	"roomseal/internal/exchange"
	"roomseal/internal/keystore"
	"roomseal/internal/roomkeys"
	"roomseal/internal/transport"
)

const (
	room = domain.RoomID("r1")
	pass = "pass"
)

type sentWrapped struct {
	room      domain.RoomID
	recipient domain.MemberID
	wrapped   domain.WrappedKey
}

type fakeTransport struct {
	mu         sync.Mutex
	members    map[domain.MemberID]domain.PublicKey
	wrapped    []sentWrapped
	accepts    []domain.RoomID
	rejects    []domain.RoomID
	announced  []domain.KeyID
	published  []domain.PublicKey
	resets     int
	failSendTo map[domain.MemberID]bool
	subKeys    []domain.SuggestedRoomKey
}

func (f *fakeTransport) FetchRoomMemberKeys(_ context.Context, _ domain.RoomID) (map[domain.MemberID]domain.PublicKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[domain.MemberID]domain.PublicKey, len(f.members))
	for m, k := range f.members {
		out[m] = k
	}
	return out, nil
}

func (f *fakeTransport) PublishIdentityKey(_ context.Context, pub domain.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, pub)
	return nil
}

func (f *fakeTransport) SendWrappedRoomKey(_ context.Context, room domain.RoomID, recipient domain.MemberID, wrapped domain.WrappedKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSendTo[recipient] {
		return fmt.Errorf("%w: member unreachable", domain.ErrNetworkFailure)
	}
	f.wrapped = append(f.wrapped, sentWrapped{room: room, recipient: recipient, wrapped: wrapped})
	return nil
}

func (f *fakeTransport) RequestSubscriptionKeys(_ context.Context) ([]domain.SuggestedRoomKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subKeys, nil
}

func (f *fakeTransport) AcceptSuggestedRoomKey(_ context.Context, room domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepts = append(f.accepts, room)
	return nil
}

func (f *fakeTransport) RejectSuggestedRoomKey(_ context.Context, room domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, room)
	return nil
}

func (f *fakeTransport) AnnounceRoomKeyID(_ context.Context, _ domain.RoomID, keyID domain.KeyID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, keyID)
	return nil
}

func (f *fakeTransport) ResetOwnIdentity(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeTransport) SendMessage(_ context.Context, _ domain.EncryptedEnvelope) error {
	return nil
}

func (f *fakeTransport) ServerVersion(_ context.Context) (string, error) { return "7.0.0", nil }

func (f *fakeTransport) sentWrapped() []sentWrapped {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentWrapped(nil), f.wrapped...)
}

type fakeStream struct {
	mu         sync.Mutex
	broadcasts []domain.RoomID
	ch         chan domain.Event
}

func newFakeStream() *fakeStream { return &fakeStream{ch: make(chan domain.Event, 16)} }

func (f *fakeStream) Events() <-chan domain.Event { return f.ch }

func (f *fakeStream) BroadcastKeyRequest(_ context.Context, room domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, room)
	return nil
}

func (f *fakeStream) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

type fixture struct {
	keys   *keystore.FileStore
	rooms  *roomkeys.Store
	server *fakeTransport
	stream *fakeStream
	proto  *exchange.Protocol
	id     domain.Identity
}

func newFixture(t *testing.T, cfg exchange.Config) *fixture {
	t.Helper()

	keys := keystore.New(t.TempDir())
	id, err := keys.GenerateIdentity(pass)
	require.NoError(t, err)

	rooms, err := roomkeys.New(t.TempDir())
	require.NoError(t, err)

	server := &fakeTransport{members: map[domain.MemberID]domain.PublicKey{}}
	stream := newFakeStream()

	cfg.Passphrase = pass
	if cfg.Caps == nil {
		cfg.Caps = transport.AllCapabilities()
	}
	proto := exchange.New(keys, rooms, server, stream, cfg, zerolog.Nop())
	return &fixture{keys: keys, rooms: rooms, server: server, stream: stream, proto: proto, id: id}
}

func fastConfig() exchange.Config {
	cfg := exchange.DefaultConfig()
	cfg.RetryMin = time.Millisecond
	cfg.RetryMax = 2 * time.Millisecond
	cfg.MaxRetries = 1
	return cfg
}

func TestRequestRoomKey_Deduplicates(t *testing.T) {
	f := newFixture(t, fastConfig())
	ctx := context.Background()

	require.NoError(t, f.proto.RequestRoomKey(ctx, room))
	require.NoError(t, f.proto.RequestRoomKey(ctx, room))

	require.Equal(t, 1, f.stream.broadcastCount(), "duplicate request must not broadcast again")
	require.Len(t, f.proto.PendingRequests(), 1)

	rk, err := f.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateRequested, rk.State)
}

func TestRequestRoomKey_ExpiryFreesSlot(t *testing.T) {
	cfg := fastConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	require.NoError(t, f.proto.RequestRoomKey(ctx, room))
	require.Eventually(t, func() bool {
		return len(f.proto.PendingRequests()) == 0
	}, time.Second, 5*time.Millisecond, "pending slot must be freed on expiry")

	rk, err := f.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateMissing, rk.State, "room must return to missing after expiry")

	// The slot is free again; a retry issues a new broadcast.
	require.NoError(t, f.proto.RequestRoomKey(ctx, room))
	require.Equal(t, 2, f.stream.broadcastCount())
}

func TestRequestRoomKey_ExpiryKeepsSuggestionThatArrived(t *testing.T) {
	cfg := fastConfig()
	cfg.RequestTimeout = 30 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	require.NoError(t, f.proto.RequestRoomKey(ctx, room))

	ct, err := f.keys.Wrap(domain.SymmetricKey{7}, f.id.Public)
	require.NoError(t, err)

	// Land the suggestion at the timeout boundary. The unwrap holds the
	// room lock through the slow keyring load, so the expiry timer fires
	// mid-call; whatever the interleaving, the recorded suggestion must
	// survive the expiry callback.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.proto.HandleSuggestedKey(ctx, room, "k1", ct))

	rk, err := f.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateSuggested, rk.State)

	time.Sleep(100 * time.Millisecond)
	rk, err = f.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateSuggested, rk.State,
		"expiry must not wipe a suggestion that arrived before it")
	require.Empty(t, f.proto.PendingRequests())
}

func TestRequestRoomKey_ExpiryKeepsGeneratedKey(t *testing.T) {
	cfg := fastConfig()
	cfg.RequestTimeout = 30 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	require.NoError(t, f.proto.RequestRoomKey(ctx, room))

	time.Sleep(20 * time.Millisecond)
	keyID, err := f.proto.GenerateRoomKey(ctx, room)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	rk, err := f.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateActive, rk.State,
		"expiry must not wipe a freshly generated key")
	require.Equal(t, keyID, rk.KeyID)
}

func TestRequestRoomKey_ActiveRoomIsNoOp(t *testing.T) {
	f := newFixture(t, fastConfig())
	require.NoError(t, f.rooms.SetActive(room, "k1", domain.SymmetricKey{1}))

	require.NoError(t, f.proto.RequestRoomKey(context.Background(), room))
	require.Zero(t, f.stream.broadcastCount())
}

func TestHandleKeyRequest_NoActiveKey_SendsNothing(t *testing.T) {
	f := newFixture(t, fastConfig())

	require.NoError(t, f.proto.HandleKeyRequest(context.Background(), room, "bob"))
	require.Empty(t, f.server.sentWrapped())
}

func TestGenerateAndDistribute_TwoIdentities(t *testing.T) {
	// Generator side.
	gen := newFixture(t, fastConfig())
	ctx := context.Background()

	// Requester side, with its own identity and stores.
	req := newFixture(t, fastConfig())
	gen.server.members = map[domain.MemberID]domain.PublicKey{"bob": req.id.Public}

	keyID, err := gen.proto.GenerateRoomKey(ctx, room)
	require.NoError(t, err)

	rk, err := gen.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateActive, rk.State)
	require.Equal(t, keyID, rk.KeyID)
	require.Equal(t, []domain.KeyID{keyID}, gen.server.announced)

	// Fan-out wrapped the key for bob.
	sent := gen.server.sentWrapped()
	require.Len(t, sent, 1)
	require.Equal(t, domain.MemberID("bob"), sent[0].recipient)
	require.Equal(t, keyID, sent[0].wrapped.KeyID)

	// Bob unwraps, accepts, and ends active with the same key id.
	require.NoError(t, req.proto.HandleSuggestedKey(ctx, room, sent[0].wrapped.KeyID, sent[0].wrapped.Ciphertext))
	require.NoError(t, req.proto.AcceptSuggestedKey(ctx, room))

	got, err := req.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateActive, got.State)
	require.Equal(t, keyID, got.KeyID)
	require.Equal(t, rk.Key, got.Key, "both sides must hold the same content key")
	require.Equal(t, []domain.RoomID{room}, req.server.accepts)
}

func TestHandleKeyRequest_WrapsForRequesterOnly(t *testing.T) {
	gen := newFixture(t, fastConfig())
	req := newFixture(t, fastConfig())
	other := newFixture(t, fastConfig())
	ctx := context.Background()

	gen.server.members = map[domain.MemberID]domain.PublicKey{
		"bob":   req.id.Public,
		"carol": other.id.Public,
	}
	_, err := gen.proto.GenerateRoomKey(ctx, room)
	require.NoError(t, err)
	gen.server.mu.Lock()
	gen.server.wrapped = nil
	gen.server.mu.Unlock()

	require.NoError(t, gen.proto.HandleKeyRequest(ctx, room, "bob"))

	sent := gen.server.sentWrapped()
	require.Len(t, sent, 1, "key must go to the one requester, never broadcast")
	require.Equal(t, domain.MemberID("bob"), sent[0].recipient)

	// Key isolation: carol cannot unwrap bob's copy.
	_, err = other.keys.Unwrap(sent[0].wrapped.Ciphertext, other.id)
	require.ErrorIs(t, err, domain.ErrDecryptFailure)
}

func TestHandleSuggestedKey_UnwrapFailureDiscards(t *testing.T) {
	f := newFixture(t, fastConfig())
	ctx := context.Background()

	require.NoError(t, f.rooms.SetActive(room, "k1", domain.SymmetricKey{1}))

	err := f.proto.HandleSuggestedKey(ctx, room, "k2", []byte("not a sealed box"))
	require.ErrorIs(t, err, domain.ErrDecryptFailure)

	rk, err := f.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateActive, rk.State, "room must stay in its prior state")
	require.Equal(t, domain.KeyID("k1"), rk.KeyID)
}

func TestSuggestedKeys_LastWriteWins(t *testing.T) {
	f := newFixture(t, fastConfig())
	ctx := context.Background()

	first, err := f.keys.Wrap(domain.SymmetricKey{1}, f.id.Public)
	require.NoError(t, err)
	second, err := f.keys.Wrap(domain.SymmetricKey{2}, f.id.Public)
	require.NoError(t, err)

	require.NoError(t, f.proto.HandleSuggestedKey(ctx, room, "k1", first))
	require.NoError(t, f.proto.HandleSuggestedKey(ctx, room, "k2", second))
	require.NoError(t, f.proto.AcceptSuggestedKey(ctx, room))

	rk, err := f.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateActive, rk.State)
	require.Equal(t, domain.KeyID("k2"), rk.KeyID)
	require.Equal(t, domain.SymmetricKey{2}, rk.Key)
}

func TestRejectSuggestedKey_BackToMissing(t *testing.T) {
	f := newFixture(t, fastConfig())
	ctx := context.Background()

	ct, err := f.keys.Wrap(domain.SymmetricKey{1}, f.id.Public)
	require.NoError(t, err)
	require.NoError(t, f.proto.HandleSuggestedKey(ctx, room, "k1", ct))
	require.NoError(t, f.proto.RejectSuggestedKey(ctx, room))

	rk, err := f.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateMissing, rk.State)
	require.Equal(t, []domain.RoomID{room}, f.server.rejects)
}

func TestCapabilityGating_NoAcksOnOldServer(t *testing.T) {
	cfg := fastConfig()
	cfg.Caps = transport.ResolveCapabilities("4.9.0") // predates suggestion acks
	f := newFixture(t, cfg)
	ctx := context.Background()

	ct, err := f.keys.Wrap(domain.SymmetricKey{1}, f.id.Public)
	require.NoError(t, err)
	require.NoError(t, f.proto.HandleSuggestedKey(ctx, room, "k1", ct))
	require.NoError(t, f.proto.AcceptSuggestedKey(ctx, room))

	require.Empty(t, f.server.accepts, "old servers must not receive acknowledgements")
	rk, err := f.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateActive, rk.State, "local transition must stand regardless")
}

func TestGenerateRoomKey_PartialFanOutFailure(t *testing.T) {
	gen := newFixture(t, fastConfig())
	req := newFixture(t, fastConfig())
	ctx := context.Background()

	gen.server.members = map[domain.MemberID]domain.PublicKey{
		"bob":   req.id.Public,
		"carol": req.id.Public,
	}
	gen.server.failSendTo = map[domain.MemberID]bool{"carol": true}

	keyID, err := gen.proto.GenerateRoomKey(ctx, room)
	require.NoError(t, err, "partial fan-out failure must not fail the local install")

	rk, err := gen.rooms.Get(room)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateActive, rk.State)
	require.Equal(t, keyID, rk.KeyID)

	sent := gen.server.sentWrapped()
	require.Len(t, sent, 1)
	require.Equal(t, domain.MemberID("bob"), sent[0].recipient)
}

func TestSyncSubscriptionKeys(t *testing.T) {
	f := newFixture(t, fastConfig())
	ctx := context.Background()

	good, err := f.keys.Wrap(domain.SymmetricKey{7}, f.id.Public)
	require.NoError(t, err)
	f.server.subKeys = []domain.SuggestedRoomKey{
		{RoomID: "r1", KeyID: "k1", Ciphertext: good},
		{RoomID: "r2", KeyID: "k2", Ciphertext: []byte("garbage")},
	}

	require.NoError(t, f.proto.SyncSubscriptionKeys(ctx), "one bad key must not break the sync")

	rk, err := f.rooms.Get("r1")
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateSuggested, rk.State)

	rk, err = f.rooms.Get("r2")
	require.NoError(t, err)
	require.Equal(t, domain.KeyStateMissing, rk.State)
}

func TestResetOwnIdentity_InvalidatesAndRerequests(t *testing.T) {
	f := newFixture(t, fastConfig())
	ctx := context.Background()

	require.NoError(t, f.rooms.SetActive("r1", "k1", domain.SymmetricKey{1}))
	require.NoError(t, f.rooms.SetActive("r2", "k2", domain.SymmetricKey{2}))

	require.NoError(t, f.proto.ResetOwnIdentity(ctx, []domain.RoomID{"r1"}))

	for _, room := range []domain.RoomID{"r1", "r2"} {
		rk, err := f.rooms.Get(room)
		require.NoError(t, err)
		require.NotEqual(t, domain.KeyStateActive, rk.State, "room %s must lose its active key", room)
	}
	require.Equal(t, 1, f.server.resets)
	require.Len(t, f.server.published, 1)

	// The still-joined room was re-requested with the new identity.
	require.Equal(t, 1, f.stream.broadcastCount())
	newID, ok, err := f.keys.LoadIdentity(pass)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, f.id.Public, newID.Public)
	require.Equal(t, f.server.published[0], newID.Public)
}

func TestOldWrappedKey_FailsAfterReset(t *testing.T) {
	f := newFixture(t, fastConfig())
	ctx := context.Background()

	ct, err := f.keys.Wrap(domain.SymmetricKey{9}, f.id.Public)
	require.NoError(t, err)

	require.NoError(t, f.proto.ResetOwnIdentity(ctx, nil))

	err = f.proto.HandleSuggestedKey(ctx, room, "k1", ct)
	require.ErrorIs(t, err, domain.ErrDecryptFailure, "keys wrapped for the old identity must not unwrap")
}

func TestRetry_NetworkFailureSurfacesTyped(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.server.failSendTo = map[domain.MemberID]bool{"bob": true}
	f.server.members = map[domain.MemberID]domain.PublicKey{"bob": f.id.Public}
	ctx := context.Background()

	require.NoError(t, f.rooms.SetActive(room, "k1", domain.SymmetricKey{1}))

	err := f.proto.HandleKeyRequest(ctx, room, "bob")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrNetworkFailure))
}
