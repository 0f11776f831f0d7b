package codec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mireska/weir/media"
)

// Registration describes one decoder implementation.
type Registration struct {
	ID   media.CodecID
	Name string
	New  func() Decoder
}

// Registry maps codec IDs to decoder implementations. The zero value is
// ready to use, and a Registry is safe for concurrent use. Registering the
// same ID again replaces the earlier entry.
type Registry struct {
	mu   sync.RWMutex
	byID map[media.CodecID]Registration
}

func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID == nil {
		r.byID = make(map[media.CodecID]Registration)
	}
	r.byID[reg.ID] = reg
}

// Lookup finds the registration for a codec ID.
func (r *Registry) Lookup(id media.CodecID) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", ErrDecoderNotFound, id)
	}
	return reg, nil
}

// IDs lists the registered codec IDs in ascending order.
func (r *Registry) IDs() []media.CodecID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]media.CodecID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear removes every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = nil
}

var defaultRegistry = &Registry{}

// DefaultRegistry is the registry used by NewContext when no WithRegistry
// option is given. weir.Init populates it with the built-in decoders.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a decoder to the default registry.
func Register(reg Registration) {
	defaultRegistry.Register(reg)
}
