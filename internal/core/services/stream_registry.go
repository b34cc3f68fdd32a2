package services

import (
	"sync"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"
)

// StreamRegistry is the deduplicated set of discovered media sources, keyed by
// stream id and kept in discovery order. Streams stay here while capture is
// disabled so that enabling later still picks them up.
type StreamRegistry struct {
	mu      sync.RWMutex
	sources map[domain.StreamID]ports.MediaSource
	order   []domain.StreamID
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		sources: make(map[domain.StreamID]ports.MediaSource),
	}
}

// Register adds src and reports whether it was new. Registering a known id is
// a no-op.
func (r *StreamRegistry) Register(src ports.MediaSource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[src.ID()]; exists {
		return false
	}
	r.sources[src.ID()] = src
	r.order = append(r.order, src.ID())
	return true
}

// Deregister removes the stream and returns it.
func (r *StreamRegistry) Deregister(id domain.StreamID) (ports.MediaSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, exists := r.sources[id]
	if !exists {
		return nil, false
	}
	r.removeLocked(id)
	return src, true
}

// DeregisterSource removes src only if it still owns its id. A source that
// was replaced by a newer one under the same id leaves the registry alone.
func (r *StreamRegistry) DeregisterSource(src ports.MediaSource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.sources[src.ID()]; !exists || current != src {
		return false
	}
	r.removeLocked(src.ID())
	return true
}

func (r *StreamRegistry) removeLocked(id domain.StreamID) {
	delete(r.sources, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *StreamRegistry) Contains(id domain.StreamID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sources[id]
	return exists
}

// Snapshot returns the registered sources in discovery order.
func (r *StreamRegistry) Snapshot() []ports.MediaSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ports.MediaSource, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

func (r *StreamRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
