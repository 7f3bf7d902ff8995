// Package outbox implements the transactional outbox: a writer enlisted in
// the application's database transaction, a FIFO reader, and a background
// worker that drains pending rows through a Delegated Producer.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/silverbackgo/silverback/internal/envelope"
)

// Message is a persisted outbox row.
type Message struct {
	ID                 int64
	MessageType        string
	Content            []byte
	Headers            []envelope.Header
	EndpointName       string
	SerializedEndpoint string // empty when the endpoint resolver is static
	Created            time.Time
}

// headerWire is the JSON-multimap wire shape for Message.Headers (spec.md §6:
// "Headers TEXT (JSON multimap)").
type headerWire struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EncodeHeaders renders headers as the JSON multimap stored in the outbox row.
func EncodeHeaders(h *envelope.Headers) ([]byte, error) {
	all := h.All()
	wire := make([]headerWire, len(all))
	for i, e := range all {
		wire[i] = headerWire{Name: e.Name, Value: string(e.Value)}
	}
	return json.Marshal(wire)
}

// DecodeHeaders reverses EncodeHeaders.
func DecodeHeaders(raw []byte) (*envelope.Headers, error) {
	var wire []headerWire
	if len(raw) == 0 {
		return envelope.NewHeaders(), nil
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	h := envelope.NewHeaders()
	for _, w := range wire {
		h.Add(w.Name, []byte(w.Value))
	}
	return h, nil
}
