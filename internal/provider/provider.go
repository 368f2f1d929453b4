// Package provider defines the contract between the execution queue and
// the handlers that perform real-world actions. Callers guarantee at most
// one Execute call per action via the idempotency ledger; providers only
// need to perform the side effect for the single call they receive.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/conciergehq/concierge/internal/intent"
)

// Result is the outcome of a provider call. Expected business failures
// come back as Success=false with an Error string; Go errors are reserved
// for exceptional conditions (network down, programmer error).
type Result struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Provider interface {
	Execute(ctx context.Context, payload intent.Payload) (Result, error)
}

// Func adapts a plain function to the Provider interface.
type Func func(ctx context.Context, payload intent.Payload) (Result, error)

func (f Func) Execute(ctx context.Context, payload intent.Payload) (Result, error) {
	return f(ctx, payload)
}

var ErrNoProvider = errors.New("no provider registered for intent kind")

// Registry maps intent kinds to their providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[intent.Kind]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[intent.Kind]Provider)}
}

func (r *Registry) Register(kind intent.Kind, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[kind] = p
}

func (r *Registry) Lookup(kind intent.Kind) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, kind)
	}
	return p, nil
}

func (r *Registry) Kinds() []intent.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]intent.Kind, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	return out
}
