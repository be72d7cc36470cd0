package ingest

import (
	"sync"
	"time"
)

// TopicKey is the field the subscriber adds to every decoded message
const TopicKey = "_topic"

// Message is one decoded broker payload
type Message map[string]any

// Topic returns the topic the message arrived on, if recorded
func (m Message) Topic() string {
	topic, _ := m[TopicKey].(string)
	return topic
}

// Queue is an unbounded FIFO between the MQTT callback and the ingestion worker.
// Push never blocks.
type Queue struct {
	mu     sync.Mutex
	items  []Message
	signal chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends a message and wakes a waiting Pop
func (q *Queue) Push(msg Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop removes the oldest message, waiting at most timeout for one to arrive
func (q *Queue) Pop(timeout time.Duration) (Message, bool) {
	if msg, ok := q.tryPop(); ok {
		return msg, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.signal:
			if msg, ok := q.tryPop(); ok {
				return msg, true
			}
		case <-timer.C:
			return q.tryPop()
		}
	}
}

func (q *Queue) tryPop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// keep the signal armed for the remaining items
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return msg, true
}

// Len returns the number of waiting messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
