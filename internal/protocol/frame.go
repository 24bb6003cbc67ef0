// Package protocol defines the frames and payloads exchanged between
// collaboration clients and the relay.
package protocol

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// FrameKind tells a request, its acknowledgement and an unsolicited event apart.
type FrameKind string

const (
	KindRequest FrameKind = "req"
	KindAck     FrameKind = "ack"
	KindEvent   FrameKind = "evt"
)

// Frame is one websocket binary message.
type Frame struct {
	Kind  FrameKind `bson:"k"`
	ID    string    `bson:"id,omitempty"`
	Event string    `bson:"ev,omitempty"`
	// Origin is the member a forwarded request came from.
	Origin string   `bson:"o,omitempty"`
	Body   bson.Raw `bson:"b,omitempty"`
	Err    string   `bson:"err,omitempty"`
}

var errNoBody = errors.New("frame has no body")

// NewFrame builds a frame whose body is the BSON encoding of body. A nil body
// leaves the frame without one.
func NewFrame(kind FrameKind, id, event string, body any) (Frame, error) {
	f := Frame{Kind: kind, ID: id, Event: event}
	if body == nil {
		return f, nil
	}
	raw, err := EncodeBody(body)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s body: %w", event, err)
	}
	f.Body = raw
	return f, nil
}

// EncodeBody marshals v unless it is already raw BSON.
func EncodeBody(v any) (bson.Raw, error) {
	switch b := v.(type) {
	case bson.Raw:
		return b, nil
	case []byte:
		return bson.Raw(b), nil
	}
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bson.Raw(data), nil
}

// Marshal encodes the frame for the wire.
func (f Frame) Marshal() ([]byte, error) {
	return bson.Marshal(f)
}

// Decode unmarshals the frame body into v.
func (f Frame) Decode(v any) error {
	if len(f.Body) == 0 {
		return fmt.Errorf("%s: %w", f.Event, errNoBody)
	}
	if err := bson.Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("decode %s body: %w", f.Event, err)
	}
	return nil
}

// ParseFrame decodes one wire message.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := bson.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}
	switch f.Kind {
	case KindRequest, KindAck, KindEvent:
	default:
		return Frame{}, fmt.Errorf("parse frame: unknown kind %q", f.Kind)
	}
	return f, nil
}
