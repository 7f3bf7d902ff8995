package outbox

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/silverbackgo/silverback/internal/envelope"
)

// EndpointRegistry resolves outbox rows back to an Endpoint. A dynamic
// resolver's serialized form is used when present; otherwise the first
// EndpointConfiguration registered under a raw name wins, and a warning is
// logged each time another configuration tries to register under an
// already-used raw name (spec.md §9's open question, made concrete).
type EndpointRegistry struct {
	mu       sync.Mutex
	byName   map[string]envelope.Endpoint
	resolver envelope.EndpointResolver // used only when a row carries SerializedEndpoint
}

// NewEndpointRegistry builds a registry. resolver may be nil if no endpoint
// in the deployment uses a dynamic resolver.
func NewEndpointRegistry(resolver envelope.EndpointResolver) *EndpointRegistry {
	return &EndpointRegistry{byName: make(map[string]envelope.Endpoint), resolver: resolver}
}

// Register associates a raw endpoint name with its Endpoint. If a
// configuration is already registered under name, the new one is dropped and
// a warning is logged.
func (r *EndpointRegistry) Register(name string, endpoint envelope.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		slog.Warn("outbox: duplicate endpoint configuration for raw name, keeping the first registered", "endpoint", name)
		return
	}
	r.byName[name] = endpoint
}

// Lookup implements EndpointLookup.
func (r *EndpointRegistry) Lookup(rawName, serialized string) (envelope.Endpoint, error) {
	if serialized != "" && r.resolver != nil {
		return r.resolver.DeserializeEndpoint(serialized)
	}

	r.mu.Lock()
	endpoint, ok := r.byName[rawName]
	r.mu.Unlock()
	if !ok {
		return envelope.Endpoint{}, fmt.Errorf("outbox: no endpoint configuration registered for %q", rawName)
	}
	return endpoint, nil
}
