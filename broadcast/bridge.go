package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/eddielth/edge-ingest/logger"
	"github.com/eddielth/edge-ingest/metrics"
	"github.com/eddielth/edge-ingest/model"
)

// Message is the JSON document viewers receive for each reading
type Message struct {
	ID              int64    `json:"id"`
	NodeID          string   `json:"node_id"`
	TemperatureC    *float64 `json:"temperature_c"`
	HumidityPct     *float64 `json:"humidity_pct"`
	SoilMoisturePct *float64 `json:"soil_moisture_pct"`
	Motion          *bool    `json:"motion"`
	Timestamp       string   `json:"timestamp"`
}

// NewMessage flattens a persisted reading
func NewMessage(r model.Reading) Message {
	return Message{
		ID:              r.ID,
		NodeID:          r.NodeID,
		TemperatureC:    r.TemperatureC,
		HumidityPct:     r.HumidityPct,
		SoilMoisturePct: r.SoilMoisturePct,
		Motion:          r.Motion,
		Timestamp:       r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Bridge moves readings from the ingestion worker to the dispatch goroutine
type Bridge struct {
	hub     *Hub
	events  chan model.Reading
	metrics *metrics.Metrics
	log     *logger.Component

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBridge creates a bridge with room for buffer pending readings
func NewBridge(hub *Hub, buffer int, m *metrics.Metrics) *Bridge {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bridge{
		hub:     hub,
		events:  make(chan model.Reading, buffer),
		metrics: m,
		log:     logger.Named("broadcast"),
	}
}

// Start launches the dispatch goroutine. It stops with ctx or Stop.
// Readings left over from an earlier run are discarded.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}
	b.drain()
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	b.running = true
	go b.dispatch(ctx, b.done)
}

// Stop ends the dispatch goroutine and waits for it. Pending readings are discarded.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.cancel()
	done := b.done
	b.mu.Unlock()

	<-done

	b.mu.Lock()
	b.drain()
	b.mu.Unlock()
}

// drain empties the event buffer. Caller holds b.mu.
func (b *Bridge) drain() {
	for {
		select {
		case <-b.events:
		default:
			return
		}
	}
}

// Running reports whether the dispatch goroutine is accepting readings
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Publish queues a reading for dispatch without blocking. When the loop is
// not running or the buffer is full the reading is dropped and
// ErrUnavailable returned.
func (b *Bridge) Publish(r model.Reading) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		b.metrics.Dropped()
		return fmt.Errorf("%w: dispatch loop not running", ErrUnavailable)
	}
	select {
	case b.events <- r:
		return nil
	default:
		b.metrics.Dropped()
		return fmt.Errorf("%w: buffer full", ErrUnavailable)
	}
}

func (b *Bridge) dispatch(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.running = false
			b.mu.Unlock()
			return
		case r := <-b.events:
			b.deliver(r)
		}
	}
}

func (b *Bridge) deliver(r model.Reading) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error("panic delivering reading %d: %v", r.ID, p)
		}
	}()

	msg, err := json.Marshal(NewMessage(r))
	if err != nil {
		b.log.Error("encode reading %d: %v", r.ID, err)
		return
	}
	n := b.hub.Broadcast(msg)
	b.log.Debug("reading %d delivered to %d viewers", r.ID, n)
}
