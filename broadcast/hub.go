// Package broadcast fans persisted readings out to live viewers.
//
// The ingestion worker hands readings to a Bridge over a bounded channel.
// A single dispatch goroutine drains it and writes to every viewer in the
// Hub. Delivery is best effort: a viewer whose send fails is dropped, the
// others are unaffected, and nothing is replayed.
package broadcast

import (
	"errors"
	"sync"

	"github.com/eddielth/edge-ingest/logger"
	"github.com/eddielth/edge-ingest/metrics"
)

var (
	// ErrUnavailable is returned by Publish when the dispatch loop cannot take the reading
	ErrUnavailable = errors.New("broadcast unavailable")
	// ErrViewerGone is returned by a viewer that can no longer receive
	ErrViewerGone = errors.New("viewer gone")
)

// Viewer is one live connection
type Viewer interface {
	ID() string
	Send(msg []byte) error
	Close()
}

// Hub is the registry of active viewers
type Hub struct {
	mu      sync.RWMutex
	viewers map[string]Viewer
	metrics *metrics.Metrics
	log     *logger.Component
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		viewers: make(map[string]Viewer),
		metrics: m,
		log:     logger.Named("broadcast"),
	}
}

// Add registers a viewer
func (h *Hub) Add(v Viewer) {
	h.mu.Lock()
	h.viewers[v.ID()] = v
	n := len(h.viewers)
	h.mu.Unlock()

	h.metrics.SetViewers(n)
	h.log.Info("viewer %s connected (%d active)", v.ID(), n)
}

// Remove unregisters and closes a viewer. Unknown ids are ignored.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	v, ok := h.viewers[id]
	delete(h.viewers, id)
	n := len(h.viewers)
	h.mu.Unlock()

	if !ok {
		return
	}
	v.Close()
	h.metrics.SetViewers(n)
	h.log.Info("viewer %s disconnected (%d active)", id, n)
}

// Count returns the number of active viewers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Broadcast sends msg to every viewer and removes the ones that fail.
// It returns how many viewers received it.
func (h *Hub) Broadcast(msg []byte) int {
	h.mu.RLock()
	snapshot := make([]Viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		snapshot = append(snapshot, v)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, v := range snapshot {
		if err := v.Send(msg); err != nil {
			h.log.Warn("dropping viewer %s: %v", v.ID(), err)
			h.Remove(v.ID())
			continue
		}
		delivered++
	}

	h.metrics.Delivered(delivered)
	return delivered
}

// CloseAll disconnects every viewer
func (h *Hub) CloseAll() {
	h.mu.Lock()
	viewers := h.viewers
	h.viewers = make(map[string]Viewer)
	h.mu.Unlock()

	for _, v := range viewers {
		v.Close()
	}
	h.metrics.SetViewers(0)
}
