// Package protocol implements the newline-delimited JSON framing used between
// chat clients and the server.
//
// A frame is one JSON object followed by a single '\n'. Every frame carries an
// "action" string; the remaining keys depend on the action. encoding/json
// escapes control characters inside strings, so the delimiter never appears
// inside an encoded payload.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codefionn/scee/internal/logger"
)

// Delimiter terminates every frame on the wire.
const Delimiter byte = '\n'

const actionKey = "action"

var (
	// ErrEmptyFrame is returned for a frame with no payload
	ErrEmptyFrame = errors.New("empty frame")
	// ErrMissingAction is returned when a frame has no usable action field
	ErrMissingAction = errors.New("frame has no action")
)

// Envelope is one decoded frame. It is immutable once constructed.
type Envelope struct {
	Action string
	raw    []byte
	fields map[string]json.RawMessage
}

// Encode produces a self-delimited frame for action. fields may be nil, a
// map, or a struct that marshals to a JSON object; an "action" key in fields
// is overwritten.
func Encode(action string, fields any) ([]byte, error) {
	if action == "" {
		return nil, ErrMissingAction
	}

	obj := make(map[string]json.RawMessage)
	if fields != nil {
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s fields: %w", action, err)
		}
		if !bytes.Equal(data, []byte("null")) {
			if err := json.Unmarshal(data, &obj); err != nil {
				return nil, fmt.Errorf("%s fields are not a JSON object: %w", action, err)
			}
		}
	}

	actionJSON, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}
	obj[actionKey] = actionJSON

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", action, err)
	}
	return append(data, Delimiter), nil
}

// MustEncode is Encode for payloads that are known to marshal
func MustEncode(action string, fields any) []byte {
	data, err := Encode(action, fields)
	if err != nil {
		panic(err)
	}
	return data
}

// Parse decodes one frame, with or without its trailing delimiter.
func Parse(frame []byte) (*Envelope, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	rawAction, ok := fields[actionKey]
	if !ok {
		return nil, ErrMissingAction
	}
	var action string
	if err := json.Unmarshal(rawAction, &action); err != nil || action == "" {
		return nil, ErrMissingAction
	}
	delete(fields, actionKey)

	return &Envelope{
		Action: action,
		raw:    append([]byte(nil), frame...),
		fields: fields,
	}, nil
}

// Decode is Parse for the read loop: a malformed frame is logged and yields
// nil, which callers treat as drop-and-continue.
func Decode(frame []byte) *Envelope {
	env, err := Parse(frame)
	if err != nil {
		if !errors.Is(err, ErrEmptyFrame) {
			logger.Debug("Dropping malformed frame: %v", err)
		}
		return nil
	}
	return env
}

// Bind unmarshals the whole frame into v
func (e *Envelope) Bind(v any) error {
	if err := json.Unmarshal(e.raw, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Action, err)
	}
	return nil
}

// Field returns the raw JSON of one field
func (e *Envelope) Field(key string) (json.RawMessage, bool) {
	v, ok := e.fields[key]
	return v, ok
}

// Fields returns every field except the action, decoded into generic values
func (e *Envelope) Fields() map[string]any {
	out := make(map[string]any, len(e.fields))
	for k, raw := range e.fields {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			out[k] = v
		}
	}
	return out
}
