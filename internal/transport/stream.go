package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"roomseal/internal/domain"
)

// Event frame types on the wire.
const (
	frameKeyRequested     = "key-requested"
	frameRoomKeySuggested = "room-key-suggested"
	frameRoomKeyIDUpdated = "room-key-id-updated"
)

// frame is one CBOR event record from the long-poll feed.
type frame struct {
	Type   string          `cbor:"1,keyasint"`
	Body   cbor.RawMessage `cbor:"2,keyasint"`
	Cursor uint64          `cbor:"3,keyasint"`
}

type broadcastKeyRequestBody struct {
	RoomID domain.RoomID `json:"room_id"`
}

// Stream long-polls the server's event feed and delivers decoded events
// on a channel, preserving server order.
type Stream struct {
	client *HTTP
	log    zerolog.Logger

	events chan domain.Event
	cursor uint64
}

// NewStream returns a stream reading events through the given client.
func NewStream(client *HTTP, log zerolog.Logger) *Stream {
	return &Stream{
		client: client,
		log:    log.With().Str("component", "stream").Logger(),
		events: make(chan domain.Event, 16),
	}
}

// Events returns the inbound event channel. It is closed when Run
// returns.
func (s *Stream) Events() <-chan domain.Event { return s.events }

// BroadcastKeyRequest emits a key-request event addressed to the room's
// members.
func (s *Stream) BroadcastKeyRequest(ctx context.Context, room domain.RoomID) error {
	return s.client.postJSON(ctx, "/e2e/rooms/"+url.PathEscape(room.String())+"/key-request",
		broadcastKeyRequestBody{RoomID: room}, nil)
}

// Run polls the feed until ctx is cancelled, then closes the event
// channel. Poll failures back off for a beat and resume; the cursor
// makes resumption lossless.
func (s *Stream) Run(ctx context.Context) {
	defer close(s.events)
	for {
		frames, err := s.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Msg("event poll failed")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		for _, f := range frames {
			ev, err := decodeEvent(f)
			if err != nil {
				s.log.Warn().Err(err).Str("type", f.Type).Msg("dropping undecodable event frame")
				continue
			}
			s.cursor = f.Cursor
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// poll fetches the next batch of frames after the current cursor.
func (s *Stream) poll(ctx context.Context) ([]frame, error) {
	req, err := s.client.newRequest(ctx, http.MethodGet,
		"/e2e/events?cursor="+strconv.FormatUint(s.cursor, 10), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: poll events: %v", domain.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: poll events: %s", domain.ErrNetworkFailure, resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: poll events: %v", domain.ErrNetworkFailure, err)
	}
	var frames []frame
	if err := cbor.Unmarshal(b, &frames); err != nil {
		return nil, fmt.Errorf("malformed event batch: %w", err)
	}
	return frames, nil
}

func decodeEvent(f frame) (domain.Event, error) {
	switch f.Type {
	case frameKeyRequested:
		var ev domain.KeyRequested
		if err := cbor.Unmarshal(f.Body, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case frameRoomKeySuggested:
		var ev domain.RoomKeySuggested
		if err := cbor.Unmarshal(f.Body, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case frameRoomKeyIDUpdated:
		var ev domain.RoomKeyIDUpdated
		if err := cbor.Unmarshal(f.Body, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
	return nil, fmt.Errorf("unknown event type %q", f.Type)
}

// EncodeFrames serialises event frames for the wire. Used by servers
// and tests feeding the stream.
func EncodeFrames(frames []EventFrame) ([]byte, error) {
	out := make([]frame, 0, len(frames))
	for _, ef := range frames {
		body, err := cbor.Marshal(ef.Event)
		if err != nil {
			return nil, err
		}
		var typ string
		switch ef.Event.(type) {
		case domain.KeyRequested:
			typ = frameKeyRequested
		case domain.RoomKeySuggested:
			typ = frameRoomKeySuggested
		case domain.RoomKeyIDUpdated:
			typ = frameRoomKeyIDUpdated
		default:
			return nil, fmt.Errorf("unencodable event %T", ef.Event)
		}
		out = append(out, frame{Type: typ, Body: body, Cursor: ef.Cursor})
	}
	return cbor.Marshal(out)
}

// EventFrame pairs an event with its feed cursor.
type EventFrame struct {
	Event  domain.Event
	Cursor uint64
}

// Compile-time assertion that Stream implements domain.EventStream.
var _ domain.EventStream = (*Stream)(nil)
