// Command mqtt_publisher simulates sensor nodes publishing readings.
//
//	go run . -mode continuous -nodes 3
//	go run . -mode messy
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const firmware = "sim-go-0.2.0"

// Reading is the wire format the edge service expects
type Reading struct {
	NodeID          string  `json:"node_id"`
	TemperatureC    float64 `json:"temperature_c"`
	HumidityPct     float64 `json:"humidity_pct"`
	SoilMoisturePct float64 `json:"soil_moisture_pct"`
	Motion          bool    `json:"motion"`
	Timestamp       string  `json:"timestamp"`
	Firmware        string  `json:"firmware"`
}

// node keeps the random walk state of one simulated device
type node struct {
	id    string
	topic string
	temp  float64
	hum   float64
	soil  float64
}

func newNode(ns, kind, id string) *node {
	return &node{
		id:    id,
		topic: fmt.Sprintf("%s/%s/%s/reading", ns, kind, id),
		temp:  24,
		hum:   55,
		soil:  40,
	}
}

func walk(v, step, lo, hi float64) float64 {
	v += rand.Float64()*2*step - step
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (n *node) next() Reading {
	n.temp = walk(n.temp, 0.3, 18, 35)
	n.hum = walk(n.hum, 1.2, 30, 90)
	n.soil = walk(n.soil, 1.5, 10, 90)

	return Reading{
		NodeID:          n.id,
		TemperatureC:    round2(n.temp),
		HumidityPct:     round2(n.hum),
		SoilMoisturePct: round2(n.soil),
		Motion:          rand.Float64() < 0.1,
		Timestamp:       time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Firmware:        firmware,
	}
}

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	username := flag.String("username", "", "MQTT username")
	password := flag.String("password", "", "MQTT password")
	ns := flag.String("ns", "iot", "topic namespace")
	kind := flag.String("kind", "env", "device kind, the second topic segment")
	nodes := flag.Int("nodes", 1, "number of simulated nodes")
	interval := flag.Duration("interval", 2*time.Second, "publish interval per node")
	mode := flag.String("mode", "continuous", "run mode: single, messy, continuous")
	flag.Parse()

	sims := make([]*node, *nodes)
	for i := range sims {
		sims[i] = newNode(*ns, *kind, fmt.Sprintf("envnode-sim-%02d", i+1))
	}
	// presence of the first node doubles as the simulator's own
	statusTopic := sims[0].topic + "/status"

	opts := paho.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID("edge-sim-" + uuid.NewString()[:8])
	if *username != "" {
		opts.SetUsername(*username)
		opts.SetPassword(*password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetWill(statusTopic, "offline", 1, true)
	opts.SetOnConnectHandler(func(c paho.Client) {
		fmt.Printf("connected to %s\n", *broker)
		c.Publish(statusTopic, 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		fmt.Printf("connection lost: %v\n", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Printf("failed to connect to MQTT broker: %v\n", token.Error())
		os.Exit(1)
	}

	switch *mode {
	case "single":
		publish(client, sims[0].topic, sims[0].next())
	case "messy":
		publishMessy(client, sims[0].topic, sims[0].id)
	case "continuous":
		publishContinuous(client, sims, *interval)
	default:
		fmt.Println("unknown mode, use single, messy or continuous")
		os.Exit(1)
	}

	client.Publish(statusTopic, 1, true, "offline").WaitTimeout(time.Second)
	client.Disconnect(250)
}

func publish(client paho.Client, topic string, payload any) {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		var err error
		if data, err = json.Marshal(p); err != nil {
			fmt.Printf("JSON encoding failed: %v\n", err)
			return
		}
	}

	token := client.Publish(topic, 0, false, data)
	token.Wait()
	if token.Error() != nil {
		fmt.Printf("publish failed: %v\n", token.Error())
		return
	}
	fmt.Printf("[%s] -> %s %s\n", time.Now().Format("15:04:05"), topic, data)
}

// publishMessy sends the field encodings the service has to tolerate,
// plus one payload that is not JSON at all
func publishMessy(client paho.Client, topic, id string) {
	payloads := []any{
		map[string]any{"node_id": id, "temperature_c": "22,0", "timestamp": "2025-01-01T00:00:00Z"},
		map[string]any{"node_id": id, "humidity_pct": " 61,5 ", "motion": "yes"},
		map[string]any{"node_id": id, "soil_moisture_pct": 18, "motion": 0, "timestamp": "2025-01-01 12:30:00"},
		map[string]any{"temperature_c": "n/a", "motion": "maybe", "timestamp": "yesterday"},
		`{"node_id": "broken"`,
		map[string]any{"node_id": 42, "temperature_c": 31.5, "motion": "ON"},
	}
	for _, p := range payloads {
		publish(client, topic, p)
		time.Sleep(100 * time.Millisecond)
	}
}

func publishContinuous(client paho.Client, sims []*node, interval time.Duration) {
	stop := make(chan struct{})
	for _, n := range sims {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				publish(client, n.topic, n.next())
				select {
				case <-stop:
					return
				case <-ticker.C:
				}
			}
		}()
		fmt.Printf("node %s publishes every %v on %s\n", n.id, interval, n.topic)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	close(stop)
	fmt.Println("disconnecting...")
}
