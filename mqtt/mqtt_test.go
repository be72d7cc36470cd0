package mqtt

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/edge-ingest/config"
	"github.com/eddielth/edge-ingest/ingest"
	"github.com/eddielth/edge-ingest/metrics"
)

func TestIsStatusTopic(t *testing.T) {
	assert.True(t, IsStatusTopic("iot/env/room1/reading/status"))
	assert.True(t, IsStatusTopic("iot/env/room1/status "))
	assert.False(t, IsStatusTopic("iot/env/room1/reading"))
	assert.False(t, IsStatusTopic("iot/env/status-board/reading"))
}

func TestSubscriber_QueuesObjects(t *testing.T) {
	q := ingest.NewQueue()
	m := metrics.New()
	s := NewSubscriber(q, m)

	ok := s.HandleMessage("iot/env/room1/reading", []byte(`{"node_id":"n1","temperature_c":"22,0"}`))
	require.True(t, ok)

	msg, popped := q.Pop(time.Millisecond)
	require.True(t, popped)
	assert.Equal(t, "n1", msg["node_id"])
	assert.Equal(t, "22,0", msg["temperature_c"])
	assert.Equal(t, "iot/env/room1/reading", msg.Topic())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived))
}

func TestSubscriber_DiscardsMalformed(t *testing.T) {
	q := ingest.NewQueue()
	m := metrics.New()
	s := NewSubscriber(q, m)

	for _, payload := range []string{`not json`, `[1,2,3]`, `"text"`, `42`, `null`, `{"node_id":`, ``} {
		assert.False(t, s.HandleMessage("iot/env/room1/reading", []byte(payload)), payload)
	}
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 7.0, testutil.ToFloat64(m.MessagesMalformed))

	// the stream continues after bad input
	assert.True(t, s.HandleMessage("iot/env/room1/reading", []byte(`{}`)))
	assert.Equal(t, 1, q.Len())
}

func TestSubscriber_IgnoresStatus(t *testing.T) {
	q := ingest.NewQueue()
	s := NewSubscriber(q, nil)

	assert.False(t, s.HandleMessage("iot/env/room1/reading/status", []byte(`{"state":"online"}`)))
	assert.Equal(t, 0, q.Len())
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(config.MQTTConfig{Topic: "iot/+/+/reading"}, nil)
	assert.Error(t, err)

	_, err = NewClient(config.MQTTConfig{Broker: "tcp://localhost:1883"}, nil)
	assert.Error(t, err)

	c, err := NewClient(config.MQTTConfig{Broker: "tcp://localhost:1883", Topic: "iot/+/+/reading"}, func(string, []byte) {})
	require.NoError(t, err)
	assert.Equal(t, Status{Broker: "tcp://localhost:1883", Topic: "iot/+/+/reading"}, c.Status())
	assert.Contains(t, c.config.ClientID, "edge-ingest-")
}
