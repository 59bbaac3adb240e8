package link

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"

	"github.com/glowlink-io/glowlink/pkg/link/topic"
	"github.com/glowlink-io/glowlink/pkg/log"
	"github.com/glowlink-io/glowlink/pkg/wire"
)

// ackFrame is one decoded acknowledgement delivered to a pending write.
type ackFrame struct {
	result wire.Result
	data   []byte
}

// mqttClient implements Client over the MQTT bridge. Every endpoint write is
// published as a sequence-numbered frame; the device answers on the matching
// ack topic and the write call unblocks when its sequence number comes back.
type mqttClient struct {
	cfg    *BridgeConfig
	topics *topic.Builder
	conn   *conn

	seq     atomic.Uint32
	pending sync.Map // seq (uint32) -> chan ackFrame

	mu        sync.Mutex
	statusFns []func(wire.Status)

	connected atomic.Bool
}

var _ Client = (*mqttClient)(nil)

// NewMQTTClient creates the application side of an MQTT-bridged update link.
func NewMQTTClient(cfg *BridgeConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bridge config is required")
	}
	setBridgeDefaults(cfg)

	return &mqttClient{
		cfg:    cfg,
		topics: topic.NewBuilder(cfg.TopicRoot),
	}, nil
}

func (c *mqttClient) Connect(ctx context.Context) error {
	// The will message lets the device observe an ungraceful link loss.
	will := &paho.WillMessage{
		Topic:   c.topics.Presence(c.cfg.DeviceID),
		Payload: []byte(topic.PresenceOffline),
		QoS:     1,
		Retain:  true,
	}

	cn, err := newConn(c.cfg, will)
	if err != nil {
		return err
	}
	c.conn = cn

	if err := cn.start(ctx); err != nil {
		return &Error{Endpoint: wire.EndpointCommand, Err: err}
	}

	awaitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := cn.await(awaitCtx); err != nil {
		cn.stop(context.Background())
		return &Error{Endpoint: wire.EndpointCommand, Err: fmt.Errorf("broker unreachable: %w", err)}
	}

	dev := c.cfg.DeviceID
	ackTopics := []string{
		c.topics.CommandAck(dev),
		c.topics.HashAck(dev),
		c.topics.DataAck(dev),
		c.topics.StatusReadAck(dev),
		c.topics.ConfigReadAck(dev),
		c.topics.ConfigSetAck(dev),
	}
	for _, t := range ackTopics {
		if err := cn.subscribe(ctx, t, 1, c.handleAck); err != nil {
			cn.stop(context.Background())
			return &Error{Endpoint: wire.EndpointCommand, Err: err}
		}
	}

	if err := cn.subscribe(ctx, c.topics.Status(dev), 1, c.handleStatusNotify); err != nil {
		cn.stop(context.Background())
		return &Error{Endpoint: wire.EndpointStatus, Err: err}
	}

	if err := cn.publish(ctx, c.topics.Presence(dev), 1, true, []byte(topic.PresenceOnline)); err != nil {
		cn.stop(context.Background())
		return &Error{Endpoint: wire.EndpointCommand, Err: err}
	}

	c.connected.Store(true)
	log.Info("Update link connected", "device", dev)
	return nil
}

func (c *mqttClient) Close(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	c.connected.Store(false)

	// A retained offline marker tells the device this was a deliberate
	// departure; the will only fires on ungraceful loss.
	_ = c.conn.publish(ctx, c.topics.Presence(c.cfg.DeviceID), 1, true, []byte(topic.PresenceOffline))

	c.conn.stop(ctx)
	c.conn = nil
	return nil
}

func (c *mqttClient) WriteCommand(ctx context.Context, cmd wire.Command) error {
	_, err := c.write(ctx, wire.EndpointCommand, c.topics.Command(c.cfg.DeviceID), []byte{byte(cmd)})
	return err
}

func (c *mqttClient) WriteHash(ctx context.Context, digest [wire.HashSize]byte) error {
	_, err := c.write(ctx, wire.EndpointHash, c.topics.Hash(c.cfg.DeviceID), digest[:])
	return err
}

func (c *mqttClient) WriteData(ctx context.Context, chunk []byte) error {
	_, err := c.write(ctx, wire.EndpointData, c.topics.Data(c.cfg.DeviceID), chunk)
	return err
}

func (c *mqttClient) ReadStatus(ctx context.Context) (wire.Status, error) {
	data, err := c.write(ctx, wire.EndpointStatus, c.topics.StatusRead(c.cfg.DeviceID), nil)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, &Error{Endpoint: wire.EndpointStatus, Err: fmt.Errorf("malformed status payload: %d bytes", len(data))}
	}
	return wire.Status(data[0]), nil
}

func (c *mqttClient) SubscribeStatus(ctx context.Context, fn func(wire.Status)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFns = append(c.statusFns, fn)
	return nil
}

func (c *mqttClient) ReadConfig(ctx context.Context) ([]byte, error) {
	return c.write(ctx, wire.EndpointConfig, c.topics.ConfigRead(c.cfg.DeviceID), nil)
}

func (c *mqttClient) WriteConfig(ctx context.Context, cfg []byte) error {
	_, err := c.write(ctx, wire.EndpointConfig, c.topics.ConfigSet(c.cfg.DeviceID), cfg)
	return err
}

// write publishes one sequence-numbered frame and blocks until the matching
// acknowledgement arrives, the ack timeout fires, or ctx expires. A nack is
// returned as the corresponding wire taxonomy error.
func (c *mqttClient) write(ctx context.Context, ep wire.Endpoint, writeTopic string, payload []byte) ([]byte, error) {
	if !c.connected.Load() || c.conn == nil {
		return nil, &Error{Endpoint: ep, Err: ErrNotConnected}
	}

	seq := c.seq.Add(1)
	ch := make(chan ackFrame, 1)
	c.pending.Store(seq, ch)
	defer c.pending.Delete(seq)

	if err := c.conn.publish(ctx, writeTopic, 1, false, wire.EncodeFrame(seq, payload)); err != nil {
		return nil, &Error{Endpoint: ep, Err: err}
	}

	ackCtx, cancel := context.WithTimeout(ctx, c.cfg.AckTimeout)
	defer cancel()

	select {
	case ack := <-ch:
		if ack.result != wire.ResultOK {
			return nil, ack.result.Err()
		}
		return ack.data, nil
	case <-ackCtx.Done():
		if ctx.Err() != nil {
			return nil, &Error{Endpoint: ep, Err: ctx.Err()}
		}
		return nil, &Error{Endpoint: ep, Err: ErrAckTimeout}
	}
}

func (c *mqttClient) handleAck(ctx context.Context, t string, payload []byte) {
	seq, result, data, err := wire.DecodeAck(payload)
	if err != nil {
		log.Warn("Dropping malformed ack frame", "topic", t, "err", err)
		return
	}

	value, ok := c.pending.Load(seq)
	if !ok {
		// Late ack for a write that already timed out.
		log.Debug("Dropping ack with no pending write", "seq", seq)
		return
	}

	// Exactly one ack is consumed per sequence number; a QoS 1 redelivery
	// or an ack racing the write's timeout must never block this handler.
	select {
	case value.(chan ackFrame) <- ackFrame{result: result, data: data}:
	default:
		log.Debug("Dropping duplicate ack", "seq", seq)
	}
}

func (c *mqttClient) handleStatusNotify(ctx context.Context, t string, payload []byte) {
	if len(payload) != 1 {
		log.Warn("Dropping malformed status notification", "bytes", len(payload))
		return
	}
	status := wire.Status(payload[0])

	c.mu.Lock()
	fns := make([]func(wire.Status), len(c.statusFns))
	copy(fns, c.statusFns)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}
