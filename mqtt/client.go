// Package mqtt owns the broker connection and feeds decoded messages to the
// ingestion queue.
package mqtt

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/eddielth/edge-ingest/config"
	"github.com/eddielth/edge-ingest/logger"
)

// MessageHandler is the callback function type for handling MQTT messages
type MessageHandler func(topic string, payload []byte)

// Client represents an MQTT client
type Client struct {
	client    mqtt.Client
	config    config.MQTTConfig
	handler   MessageHandler
	connected atomic.Bool
	log       *logger.Component
}

// Status is the connection snapshot reported by the health endpoint
type Status struct {
	Broker    string `json:"broker"`
	Topic     string `json:"topic"`
	Connected bool   `json:"connected"`
}

func init() {
	mqtt.ERROR = pahoLogger{level: logger.ERROR}
	mqtt.CRITICAL = pahoLogger{level: logger.ERROR}
	mqtt.WARN = pahoLogger{level: logger.WARN}
}

// NewClient prepares a client that subscribes to cfg.Topic on every
// (re)connect and passes each message to handler.
func NewClient(cfg config.MQTTConfig, handler MessageHandler) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("MQTT topic cannot be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "edge-ingest-" + uuid.NewString()[:8]
	}

	c := &Client{
		config:  cfg,
		handler: handler,
		log:     logger.Named("mqtt"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.connected.Store(false)
		c.log.Error("MQTT connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		c.log.Info("trying to reconnect to MQTT broker...")
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// subscriptions made here survive reconnects
func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info("connected to MQTT broker: %s", c.config.Broker)

	token := client.Subscribe(c.config.Topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		c.handler(msg.Topic(), msg.Payload())
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			c.log.Warn("subscription to topic %s timed out", c.config.Topic)
			return
		}
		if err := token.Error(); err != nil {
			c.log.Error("failed to subscribe to topic %s: %v", c.config.Topic, err)
			return
		}
		c.log.Info("subscribed to topic: %s", c.config.Topic)
	}()
}

// Connect starts connecting in the background. With connect retry enabled it
// returns as soon as the first attempt is under way, so a broker that is
// down at startup does not keep the rest of the service from running.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return fmt.Errorf("connect to MQTT broker %s: %w", c.config.Broker, token.Error())
	}
	return nil
}

// Disconnect disconnects from the MQTT broker
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	c.connected.Store(false)
	c.log.Info("disconnected from MQTT broker")
}

// Status reports the broker, topic and current connection state
func (c *Client) Status() Status {
	return Status{
		Broker:    c.config.Broker,
		Topic:     c.config.Topic,
		Connected: c.connected.Load(),
	}
}

// pahoLogger forwards paho's internal diagnostics to the logger package
type pahoLogger struct {
	level logger.LogLevel
}

func (p pahoLogger) Println(v ...interface{}) {
	p.Printf("%s", strings.TrimSpace(fmt.Sprintln(v...)))
}

func (p pahoLogger) Printf(format string, v ...interface{}) {
	l := logger.Named("paho")
	switch p.level {
	case logger.ERROR:
		l.Error(format, v...)
	case logger.WARN:
		l.Warn(format, v...)
	default:
		l.Debug(format, v...)
	}
}
