package envelope

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// JSONCodec is the default Serializer/Deserializer, matching gobite's own
// event payloads (plain JSON-tagged structs) per SPEC_FULL.md's domain stack:
// "stdlib encoding/json as the default Serializer/Deserializer... the
// Serializer contract stays pluggable". TypesByName must hold one
// constructor (see Register) per MessageType the codec is expected to decode.
type JSONCodec struct {
	TypesByName map[string]func() any
}

// NewJSONCodec returns a codec with no registered types; call Register before
// using it to deserialize.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{TypesByName: make(map[string]func() any)}
}

// Register associates messageType with a constructor returning a fresh
// pointer to decode into, e.g. Register("Order", func() any { return new(Order) }).
func (c *JSONCodec) Register(messageType string, newMessage func() any) {
	c.TypesByName[messageType] = newMessage
}

// Serialize renders message as JSON.
func (c *JSONCodec) Serialize(message any) ([]byte, error) {
	return json.Marshal(message)
}

// Deserialize decodes body into the Go type registered for messageType,
// returning the decoded value itself rather than a pointer to it — the bus's
// dispatch table keys handlers by value type (see internal/bus), so
// Register's constructor returns a fresh pointer to unmarshal into but
// Deserialize hands back what that pointer points to.
func (c *JSONCodec) Deserialize(body []byte, messageType string) (any, error) {
	newMessage, ok := c.TypesByName[messageType]
	if !ok {
		return nil, fmt.Errorf("envelope: no Go type registered for message type %q", messageType)
	}
	out := newMessage()
	if err := json.Unmarshal(body, out); err != nil {
		return nil, err
	}
	return reflect.ValueOf(out).Elem().Interface(), nil
}
