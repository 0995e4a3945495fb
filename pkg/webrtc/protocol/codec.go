package protocol

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNoPayload is returned by Frame.Bind when the frame carries no data.
var ErrNoPayload = errors.New("frame has no payload")

// Codec encodes and decodes {event, data} frames for one connection.
type Codec interface {
	Name() string
	// Binary reports whether frames travel as binary WebSocket messages.
	Binary() bool
	Encode(event string, payload any) ([]byte, error)
	Decode(frame []byte) (Frame, error)
}

// Frame is a decoded inbound message whose payload has not been parsed yet.
type Frame struct {
	Event string
	Data  []byte

	unmarshal func([]byte, any) error
}

// Bind parses the frame payload into v.
func (f Frame) Bind(v any) error {
	if len(f.Data) == 0 {
		return ErrNoPayload
	}
	return f.unmarshal(f.Data, v)
}

// CodecByName resolves the codec requested by a client. The empty name selects JSON.
func CodecByName(name string) (Codec, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, true
	case "msgpack":
		return MsgPack, true
	default:
		return nil, false
	}
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

type jsonCodec struct{}

type jsonOut struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type jsonIn struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(jsonOut{Event: event, Data: payload})
}

func (jsonCodec) Decode(frame []byte) (Frame, error) {
	var in jsonIn
	if err := json.Unmarshal(frame, &in); err != nil {
		return Frame{}, err
	}
	if in.Event == "" {
		return Frame{}, errors.New("frame has no event name")
	}
	data := []byte(in.Data)
	if string(data) == "null" {
		data = nil
	}
	return Frame{Event: in.Event, Data: data, unmarshal: json.Unmarshal}, nil
}

type msgpackCodec struct{}

type msgpackOut struct {
	Event string `msgpack:"event"`
	Data  any    `msgpack:"data,omitempty"`
}

type msgpackIn struct {
	Event string             `msgpack:"event"`
	Data  msgpack.RawMessage `msgpack:"data,omitempty"`
}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(event string, payload any) ([]byte, error) {
	return msgpack.Marshal(msgpackOut{Event: event, Data: payload})
}

func (msgpackCodec) Decode(frame []byte) (Frame, error) {
	var in msgpackIn
	if err := msgpack.Unmarshal(frame, &in); err != nil {
		return Frame{}, err
	}
	if in.Event == "" {
		return Frame{}, errors.New("frame has no event name")
	}
	data := []byte(in.Data)
	// 0xc0 is msgpack nil.
	if len(data) == 1 && data[0] == 0xc0 {
		data = nil
	}
	return Frame{Event: in.Event, Data: data, unmarshal: msgpack.Unmarshal}, nil
}
