// Package bus adapts the robot's externally supplied pub/sub bus (an MQTT
// broker). It is intentionally a thin client: topics in, payloads out.
package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Topics shared between skills and the agent framework.
const (
	TopicHumanInput = "robot/human_input"
	TopicSay        = "robot/say"

	TopicGPSLocation = "robot/gps/location"
	TopicGPSVelocity = "robot/gps/velocity"
	TopicGPSQuality  = "robot/gps/quality"

	TopicRadarPoints = "robot/radar/points"
	TopicRadarInfo   = "robot/radar/info"

	TopicCameraImage = "robot/camera/image"
)

type Config struct {
	// Broker is the MQTT broker URL, e.g. "tcp://localhost:1883".
	Broker   string
	ClientID string

	ConnectTimeout time.Duration
}

type Bus struct {
	cfg    Config
	client mqtt.Client

	mu        sync.Mutex
	lastErr   string
	published uint64
	received  uint64
}

type Snapshot struct {
	Broker    string `json:"broker"`
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Received  uint64 `json:"received"`
	LastError string `json:"last_error,omitempty"`
}

func New(cfg Config) (*Bus, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("bus broker is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		cfg.ClientID = "skillsd-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &Bus{cfg: cfg}, nil
}

// Connect dials the broker. The underlying client reconnects on its own after
// transient drops; a failed initial connect is returned to the caller.
func (b *Bus) Connect() error {
	if b == nil {
		return fmt.Errorf("bus is nil")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetConnectTimeout(b.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.setError(fmt.Sprintf("bus connection lost: %v", err))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(b.cfg.ConnectTimeout) {
		return fmt.Errorf("bus connect timeout broker=%s", b.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("bus connect failed broker=%s: %w", b.cfg.Broker, err)
	}

	b.mu.Lock()
	b.client = client
	b.lastErr = ""
	b.mu.Unlock()
	return nil
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
}

// Publish sends payload on topic at QoS 0 without waiting for delivery, so
// sensor read loops are never stalled by the broker.
func (b *Bus) Publish(topic string, payload []byte) error {
	if b == nil {
		return fmt.Errorf("bus is nil")
	}
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return fmt.Errorf("bus is not connected")
	}

	client.Publish(topic, 0, false, payload)

	b.mu.Lock()
	b.published++
	b.mu.Unlock()
	return nil
}

func (b *Bus) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus marshal topic=%s: %w", topic, err)
	}
	return b.Publish(topic, payload)
}

// Subscribe registers fn for every message on topic. fn runs on the client's
// delivery goroutine and should be fast.
func (b *Bus) Subscribe(topic string, fn func(topic string, payload []byte)) error {
	if b == nil {
		return fmt.Errorf("bus is nil")
	}
	if fn == nil {
		return fmt.Errorf("bus handler is nil")
	}
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return fmt.Errorf("bus is not connected")
	}

	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		b.mu.Lock()
		b.received++
		b.mu.Unlock()
		fn(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("bus subscribe topic=%s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Snapshot() Snapshot {
	if b == nil {
		return Snapshot{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	connected := b.client != nil && b.client.IsConnected()
	return Snapshot{
		Broker:    b.cfg.Broker,
		Connected: connected,
		Published: b.published,
		Received:  b.received,
		LastError: b.lastErr,
	}
}

func (b *Bus) setError(msg string) {
	b.mu.Lock()
	b.lastErr = msg
	b.mu.Unlock()
}
