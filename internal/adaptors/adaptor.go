/*

Adaptor contract. An adaptor translates an opaque external-position handle
into a USD value; the vault core custodies handles without interpreting them.
Concrete protocol integrations register themselves here and the engine routes
valuation refreshes through the registry while the vault is Normal.

*/

package adaptors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/types"
)

var (
	ErrUnknownAdaptor   = errors.New("adaptor is not registered")
	ErrAdaptorIDEmpty   = errors.New("adaptor ID is empty")
	ErrDuplicateAdaptor = errors.New("adaptor is already registered")
)

// Adaptor values positions held at one external protocol.
type Adaptor interface {
	// ID is the routing key stored in ExternalHandle.AdaptorID.
	ID() string
	// Value returns the USD value of the position behind handle and the time
	// the underlying data was observed.
	Value(ctx context.Context, handle types.ExternalHandle, now time.Time) (sdkmath.LegacyDec, time.Time, error)
}

// Registry routes handles to their adaptors.
type Registry struct {
	mu       sync.RWMutex
	adaptors map[string]Adaptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adaptors: make(map[string]Adaptor)}
}

// Register adds an adaptor. Duplicate IDs are rejected.
func (r *Registry) Register(a Adaptor) error {
	if a == nil || a.ID() == "" {
		return ErrAdaptorIDEmpty
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adaptors[a.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAdaptor, a.ID())
	}
	r.adaptors[a.ID()] = a
	return nil
}

// Value resolves the handle's adaptor and values the position.
func (r *Registry) Value(ctx context.Context, handle types.ExternalHandle, now time.Time) (sdkmath.LegacyDec, time.Time, error) {
	r.mu.RLock()
	a, ok := r.adaptors[handle.AdaptorID]
	r.mu.RUnlock()
	if !ok {
		return sdkmath.LegacyDec{}, time.Time{}, fmt.Errorf("%w: %s", ErrUnknownAdaptor, handle.AdaptorID)
	}
	return a.Value(ctx, handle, now)
}

// IDs lists the registered adaptor IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adaptors))
	for id := range r.adaptors {
		ids = append(ids, id)
	}
	return ids
}
