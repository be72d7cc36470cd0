package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/eddielth/edge-ingest/ingest"
	"github.com/eddielth/edge-ingest/logger"
	"github.com/eddielth/edge-ingest/metrics"
)

// Subscriber decodes broker messages and queues them for the ingestion worker.
// It runs on paho's callback goroutine and does nothing slow.
type Subscriber struct {
	queue   *ingest.Queue
	metrics *metrics.Metrics
	log     *logger.Component
}

func NewSubscriber(queue *ingest.Queue, m *metrics.Metrics) *Subscriber {
	return &Subscriber{
		queue:   queue,
		metrics: m,
		log:     logger.Named("mqtt"),
	}
}

// HandleMessage is the MessageHandler given to the client. It reports
// whether the message was queued.
func (s *Subscriber) HandleMessage(topic string, payload []byte) (queued bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic handling message on %s: %v", topic, r)
			queued = false
		}
	}()

	if IsStatusTopic(topic) {
		return false
	}
	s.metrics.Received()

	msg, err := decode(payload)
	if err != nil {
		s.metrics.Malformed()
		s.log.Warn("discarding message on %s: %v", topic, err)
		return false
	}

	msg[ingest.TopicKey] = topic
	s.queue.Push(msg)
	s.metrics.SetQueueDepth(s.queue.Len())
	s.log.Debug("queued message from %s", topic)
	return true
}

func decode(payload []byte) (ingest.Message, error) {
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("payload is null")
	}
	return ingest.Message(msg), nil
}
