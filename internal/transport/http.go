package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"roomseal/internal/cipher"
	"roomseal/internal/domain"
)

// Tagged request/result bodies, one pair per server operation.

type memberKey struct {
	MemberID  domain.MemberID  `json:"member_id"`
	PublicKey domain.PublicKey `json:"public_key"`
}

type memberKeysResult struct {
	Members []memberKey `json:"members"`
}

type publishIdentityRequest struct {
	PublicKey domain.PublicKey `json:"public_key"`
}

type sendWrappedKeyRequest struct {
	Recipient domain.MemberID   `json:"recipient"`
	Wrapped   domain.WrappedKey `json:"wrapped"`
}

type subscriptionKeysResult struct {
	Keys []domain.SuggestedRoomKey `json:"keys"`
}

type announceKeyIDRequest struct {
	KeyID domain.KeyID `json:"key_id"`
}

type versionResult struct {
	Version string `json:"version"`
}

// HTTP is the server API client. The member identity authenticates
// requests; real deployments put a session token behind the same field.
type HTTP struct {
	Base   string
	Member domain.MemberID
	HTTP   *http.Client
}

// NewHTTP returns a client for the server at base acting as member.
func NewHTTP(base string, member domain.MemberID) *HTTP {
	return &HTTP{Base: base, Member: member, HTTP: http.DefaultClient}
}

// FetchRoomMemberKeys returns public keys of members lacking the room key.
func (c *HTTP) FetchRoomMemberKeys(ctx context.Context, room domain.RoomID) (map[domain.MemberID]domain.PublicKey, error) {
	var res memberKeysResult
	if err := c.getJSON(ctx, "/e2e/rooms/"+url.PathEscape(room.String())+"/members-without-key", &res); err != nil {
		return nil, err
	}
	out := make(map[domain.MemberID]domain.PublicKey, len(res.Members))
	for _, m := range res.Members {
		out[m.MemberID] = m.PublicKey
	}
	return out, nil
}

// PublishIdentityKey uploads this device's public key to the directory.
func (c *HTTP) PublishIdentityKey(ctx context.Context, pub domain.PublicKey) error {
	return c.postJSON(ctx, "/e2e/identity", publishIdentityRequest{PublicKey: pub}, nil)
}

// SendWrappedRoomKey delivers a wrapped key to one member's mailbox.
func (c *HTTP) SendWrappedRoomKey(ctx context.Context, room domain.RoomID, recipient domain.MemberID, wrapped domain.WrappedKey) error {
	return c.postJSON(ctx, "/e2e/rooms/"+url.PathEscape(room.String())+"/key",
		sendWrappedKeyRequest{Recipient: recipient, Wrapped: wrapped}, nil)
}

// RequestSubscriptionKeys bulk-fetches suggested keys for every joined room.
func (c *HTTP) RequestSubscriptionKeys(ctx context.Context) ([]domain.SuggestedRoomKey, error) {
	var res subscriptionKeysResult
	if err := c.getJSON(ctx, "/e2e/subscription-keys", &res); err != nil {
		return nil, err
	}
	return res.Keys, nil
}

// AcceptSuggestedRoomKey acknowledges acceptance upstream.
func (c *HTTP) AcceptSuggestedRoomKey(ctx context.Context, room domain.RoomID) error {
	return c.postJSON(ctx, "/e2e/rooms/"+url.PathEscape(room.String())+"/key/accept", struct{}{}, nil)
}

// RejectSuggestedRoomKey acknowledges rejection upstream.
func (c *HTTP) RejectSuggestedRoomKey(ctx context.Context, room domain.RoomID) error {
	return c.postJSON(ctx, "/e2e/rooms/"+url.PathEscape(room.String())+"/key/reject", struct{}{}, nil)
}

// AnnounceRoomKeyID publishes the room's current key version.
func (c *HTTP) AnnounceRoomKeyID(ctx context.Context, room domain.RoomID, keyID domain.KeyID) error {
	return c.postJSON(ctx, "/e2e/rooms/"+url.PathEscape(room.String())+"/key-id",
		announceKeyIDRequest{KeyID: keyID}, nil)
}

// ResetOwnIdentity tells the directory a new public key supersedes the
// old one.
func (c *HTTP) ResetOwnIdentity(ctx context.Context) error {
	return c.postJSON(ctx, "/e2e/identity/reset", struct{}{}, nil)
}

// SendMessage posts an encrypted envelope as a CBOR frame.
func (c *HTTP) SendMessage(ctx context.Context, env domain.EncryptedEnvelope) error {
	frame, err := cipher.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/e2e/messages", bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/cbor")
	return c.do(req, nil)
}

// ServerVersion reports the server version string.
func (c *HTTP) ServerVersion(ctx context.Context) (string, error) {
	var res versionResult
	if err := c.getJSON(ctx, "/version", &res); err != nil {
		return "", err
	}
	return res.Version, nil
}

func (c *HTTP) newRequest(ctx context.Context, method, path string, body *bytes.Reader) (*http.Request, error) {
	var r *http.Request
	var err error
	if body == nil {
		r, err = http.NewRequestWithContext(ctx, method, c.Base+path, nil)
	} else {
		r, err = http.NewRequestWithContext(ctx, method, c.Base+path, body)
	}
	if err != nil {
		return nil, err
	}
	r.Header.Set("X-Member", c.Member.String())
	return r, nil
}

func (c *HTTP) postJSON(ctx context.Context, path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTP) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTP) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrNetworkFailure, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s %s: %s", domain.ErrNetworkFailure, req.Method, req.URL.Path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Compile-time assertion that HTTP implements domain.Transport.
var _ domain.Transport = (*HTTP)(nil)
