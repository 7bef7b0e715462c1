package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Router dispatches commands to feature transports by Command.Type.
//
// Each registered type is one variant of the command set known at the transport boundary; the
// engine itself stays generic over the payload.
type Router struct {
	mu     sync.RWMutex
	routes map[string]Transport
}

var _ Transport = (*Router)(nil)

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Transport)}
}

// Handle registers the transport for a command type, replacing any previous registration.
func (r *Router) Handle(commandType string, transport Transport) {
	if commandType == "" {
		panic("outbox: empty command type")
	}
	if transport == nil {
		panic("outbox: nil Transport")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[commandType] = transport
}

// Types returns the registered command types.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	sort.Strings(types)

	return types
}

// Execute implements Transport. Unknown types are rejected as fatal.
func (r *Router) Execute(ctx context.Context, cmd Command) (Result, error) {
	r.mu.RLock()
	transport, ok := r.routes[cmd.Type]
	r.mu.RUnlock()

	if !ok {
		return Fatal(fmt.Errorf("%w: %s", ErrUnknownCommandType, cmd.Type)), nil
	}

	return transport.Execute(ctx, cmd)
}

// Typed adapts a handler for a concrete payload type P.
// An undecodable payload is a permanent rejection.
func Typed[P any](fn func(ctx context.Context, cmd Command, payload P) (Result, error)) Transport {
	return TransportFunc(func(ctx context.Context, cmd Command) (Result, error) {
		var payload P
		if len(cmd.Payload) > 0 {
			if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
				return Fatal(fmt.Errorf("outbox: decode %s payload: %w", cmd.Type, err)), nil
			}
		}

		return fn(ctx, cmd, payload)
	})
}
