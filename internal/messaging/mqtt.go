package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/accessgate/internal/monitoring"
)

// MQTTOptions configures a broker connection.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Ordered delivers messages on one goroutine in arrival order. Backends
	// leave it off so slow frames from one device do not stall others.
	Ordered        bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	Topics         Topics
}

// MQTTBus is a Bus backed by an MQTT broker. Subscriptions are replayed on
// every reconnect.
type MQTTBus struct {
	client mqtt.Client
	opts   MQTTOptions

	mu   sync.Mutex
	subs map[string]Handler

	ctx    context.Context
	cancel context.CancelFunc
}

// DialMQTT connects to the broker and returns a ready bus.
func DialMQTT(opts MQTTOptions) (*MQTTBus, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.Topics.Prefix == "" {
		opts.Topics = NewTopics("")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &MQTTBus{
		opts:   opts,
		subs:   make(map[string]Handler),
		ctx:    ctx,
		cancel: cancel,
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(opts.Ordered).
		SetConnectTimeout(opts.ConnectTimeout).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			monitoring.Logf("mqtt: connection lost: %v", err)
		})
	if opts.Username != "" {
		co.SetUsername(opts.Username).SetPassword(opts.Password)
	}
	b.client = mqtt.NewClient(co)

	tok := b.client.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		monitoring.Logf("mqtt: broker %s not reachable yet, retrying in background", opts.Broker)
		return b, nil
	}
	if err := tok.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, err)
	}
	return b, nil
}

func (b *MQTTBus) onConnect(c mqtt.Client) {
	monitoring.Logf("mqtt: connected to %s", b.opts.Broker)
	b.mu.Lock()
	defer b.mu.Unlock()
	for filter, h := range b.subs {
		if err := b.subscribe(filter, h); err != nil {
			monitoring.Logf("mqtt: resubscribe %s: %v", filter, err)
		}
	}
}

func (b *MQTTBus) subscribe(filter string, h Handler) error {
	tok := b.client.Subscribe(filter, 1, func(_ mqtt.Client, m mqtt.Message) {
		h(b.ctx, Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	if !tok.WaitTimeout(b.opts.PublishTimeout) {
		return fmt.Errorf("subscribe %s: timed out", filter)
	}
	return tok.Error()
}

func (b *MQTTBus) Subscribe(filter string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[filter] = h
	if !b.client.IsConnectionOpen() {
		return nil
	}
	return b.subscribe(filter, h)
}

func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.PublishQoS(ctx, topic, b.opts.Topics.QoS(topic), payload)
}

func (b *MQTTBus) PublishQoS(ctx context.Context, topic string, qos byte, payload []byte) error {
	tok := b.client.Publish(topic, qos, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.opts.PublishTimeout):
		return fmt.Errorf("publish %s: timed out", topic)
	}
}

func (b *MQTTBus) Close() error {
	b.cancel()
	b.client.Disconnect(250)
	return nil
}
