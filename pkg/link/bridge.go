package link

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/glowlink-io/glowlink/pkg/log"
)

// BridgeConfig holds the configuration shared by both sides of the MQTT
// bridge.
type BridgeConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// DeviceID selects the endpoint topic set this bridge binds to.
	DeviceID string

	// TopicRoot is the base namespace for all endpoint topics.
	TopicRoot string

	// KeepAlive in seconds. Default is 30.
	KeepAlive uint16

	// SessionExpiry in seconds.
	SessionExpiry uint32

	// ConnectTimeout for the initial connection. Default is 5s.
	ConnectTimeout time.Duration

	// AckTimeout bounds the wait for one write acknowledgement. Default is 10s.
	AckTimeout time.Duration

	// CleanStart indicates whether to start a clean session.
	CleanStart bool

	// InsecureSkipVerify disables TLS certificate verification. For
	// testing only.
	InsecureSkipVerify bool
}

// setBridgeDefaults applies safe default values to the configuration.
func setBridgeDefaults(cfg *BridgeConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30
	}
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = "glowlink/v1"
	}
}

// Validate checks if the configuration is valid.
func (c *BridgeConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return err
	}
	if c.DeviceID == "" {
		return errors.New("device id is required")
	}
	return nil
}

// messageHandler is the callback invoked for messages on a subscribed topic.
type messageHandler func(ctx context.Context, topic string, payload []byte)

// conn wraps an autopaho connection manager with handler routing and
// automatic re-subscription after a reconnect.
type conn struct {
	cfg  *BridgeConfig
	will *paho.WillMessage
	cm   *autopaho.ConnectionManager

	// subscriptions holds the registered handlers.
	// Key: topic (string), Value: subscriptionEntry
	subscriptions sync.Map
}

type subscriptionEntry struct {
	topic   string
	qos     byte
	handler messageHandler
}

func newConn(cfg *BridgeConfig, will *paho.WillMessage) (*conn, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bridge config is required")
	}

	setBridgeDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bridge config: %w", err)
	}

	return &conn{cfg: cfg, will: will}, nil
}

// start initiates the broker connection. It is non-blocking; use await to
// wait for the connection to come up.
func (c *conn) start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.cfg.BrokerURL) // Already validated

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg: &tls.Config{
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		},
		WillMessage: c.will,
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.router,
			},
		},
		OnConnectionUp: c.onConnectionUp,
		OnConnectError: c.onConnectError,
	}

	log.Info("Starting bridge connection", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return err
	}
	c.cm = cm
	return nil
}

func (c *conn) stop(ctx context.Context) {
	if c.cm != nil {
		_ = c.cm.Disconnect(ctx)
		log.Info("Bridge connection closed")
	}
}

func (c *conn) await(ctx context.Context) error {
	if c.cm == nil {
		return fmt.Errorf("bridge not started")
	}
	return c.cm.AwaitConnection(ctx)
}

func (c *conn) publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	if c.cm == nil {
		return fmt.Errorf("bridge not started")
	}

	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Retain:  retain,
		Payload: payload,
	})

	return err
}

// subscribe registers a handler and sends the SUBSCRIBE packet. If the
// connection drops and comes back, onConnectionUp re-subscribes.
func (c *conn) subscribe(ctx context.Context, topic string, qos byte, handler messageHandler) error {
	if c.cm == nil {
		return fmt.Errorf("bridge not started")
	}

	c.subscriptions.Store(topic, subscriptionEntry{
		topic:   topic,
		qos:     qos,
		handler: handler,
	})

	_, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: qos},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}

	return nil
}

// onConnectionUp is called when the connection is established or re-established.
func (c *conn) onConnectionUp(cm *autopaho.ConnectionManager, ack *paho.Connack) {
	log.Info("Bridge connection established")

	// Re-subscribe to all registered topics
	c.subscriptions.Range(func(key, value any) bool {
		entry := value.(subscriptionEntry)
		if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{
				{Topic: entry.topic, QoS: entry.qos},
			},
		}); err != nil {
			log.Error(err, "Failed to re-subscribe", "topic", entry.topic)
		}
		return true
	})
}

func (c *conn) onConnectError(err error) {
	log.Error(err, "Bridge connection failed, retrying...")
}

func (c *conn) onClientError(err error) {
	log.Error(err, "Bridge client internal error")
}

func (c *conn) onServerDisconnect(d *paho.Disconnect) {
	if d.Properties != nil {
		log.Warn("Broker requested disconnect", "reason", d.Properties.ReasonString)
	} else {
		log.Warn("Broker requested disconnect")
	}
}

// router dispatches incoming messages to the registered handlers. Endpoint
// topics are fully specified, so a direct lookup is enough.
func (c *conn) router(p paho.PublishReceived) (bool, error) {
	value, ok := c.subscriptions.Load(p.Packet.Topic)
	if !ok {
		log.Debug("Received message on unhandled topic", "topic", p.Packet.Topic)
		return true, nil
	}

	entry := value.(subscriptionEntry)

	// Execute the handler outside the reader loop.
	go entry.handler(context.Background(), p.Packet.Topic, p.Packet.Payload)

	return true, nil
}
