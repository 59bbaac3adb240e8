package link

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/glowlink-io/glowlink/pkg/link/topic"
	"github.com/glowlink-io/glowlink/pkg/log"
	"github.com/glowlink-io/glowlink/pkg/wire"
)

// mqttDevice implements Device over the MQTT bridge. It decodes endpoint
// write frames, hands them to the transport adapter, and publishes the
// acknowledgement only after the adapter has applied the write.
type mqttDevice struct {
	cfg     *BridgeConfig
	topics  *topic.Builder
	conn    *conn
	handler Handler

	// clientSeen tracks whether a client presence marker was observed, so
	// a retained offline marker from a previous session does not fire a
	// spurious link loss at startup.
	clientSeen atomic.Bool
}

var _ Device = (*mqttDevice)(nil)

// NewMQTTDevice creates the device side of an MQTT-bridged update link.
func NewMQTTDevice(cfg *BridgeConfig) (Device, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bridge config is required")
	}
	setBridgeDefaults(cfg)

	return &mqttDevice{
		cfg:    cfg,
		topics: topic.NewBuilder(cfg.TopicRoot),
	}, nil
}

func (d *mqttDevice) Start(ctx context.Context, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	d.handler = h

	cn, err := newConn(d.cfg, nil)
	if err != nil {
		return err
	}
	d.conn = cn

	if err := cn.start(ctx); err != nil {
		return err
	}

	awaitCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()
	if err := cn.await(awaitCtx); err != nil {
		cn.stop(context.Background())
		return fmt.Errorf("broker unreachable: %w", err)
	}

	dev := d.cfg.DeviceID
	subs := []struct {
		t string
		h messageHandler
	}{
		{d.topics.Command(dev), d.handleCommand},
		{d.topics.Hash(dev), d.handleHash},
		{d.topics.Data(dev), d.handleData},
		{d.topics.StatusRead(dev), d.handleStatusRead},
		{d.topics.ConfigRead(dev), d.handleConfigRead},
		{d.topics.ConfigSet(dev), d.handleConfigSet},
		{d.topics.Presence(dev), d.handlePresence},
	}
	for _, s := range subs {
		if err := cn.subscribe(ctx, s.t, 1, s.h); err != nil {
			cn.stop(context.Background())
			return err
		}
	}

	log.Info("Device endpoints bound", "device", dev)
	return nil
}

func (d *mqttDevice) Notify(ctx context.Context, status wire.Status) error {
	if d.conn == nil {
		return ErrNotConnected
	}
	// Retained so a client connecting later reads the current status.
	return d.conn.publish(ctx, d.topics.Status(d.cfg.DeviceID), 1, true, []byte{byte(status)})
}

func (d *mqttDevice) Stop(ctx context.Context) {
	if d.conn != nil {
		d.conn.stop(ctx)
		d.conn = nil
	}
}

// ack publishes the acknowledgement for one applied write.
func (d *mqttDevice) ack(ctx context.Context, ackTopic string, seq uint32, err error, data []byte) {
	result := wire.ResultOf(err)
	if pubErr := d.conn.publish(ctx, ackTopic, 1, false, wire.EncodeAck(seq, result, data)); pubErr != nil {
		log.Error(pubErr, "Failed to publish write acknowledgement", "topic", ackTopic, "seq", seq)
	}
}

func (d *mqttDevice) handleCommand(ctx context.Context, t string, payload []byte) {
	seq, body, err := wire.DecodeFrame(payload)
	if err != nil {
		log.Warn("Dropping malformed command frame", "err", err)
		return
	}

	ackTopic := d.topics.CommandAck(d.cfg.DeviceID)
	if len(body) != 1 || !wire.Command(body[0]).Valid() {
		d.ack(ctx, ackTopic, seq, wire.ErrSequence, nil)
		return
	}

	d.ack(ctx, ackTopic, seq, d.handler.WriteCommand(ctx, wire.Command(body[0])), nil)
}

func (d *mqttDevice) handleHash(ctx context.Context, t string, payload []byte) {
	seq, body, err := wire.DecodeFrame(payload)
	if err != nil {
		log.Warn("Dropping malformed hash frame", "err", err)
		return
	}

	ackTopic := d.topics.HashAck(d.cfg.DeviceID)
	if len(body) != wire.HashSize {
		d.ack(ctx, ackTopic, seq, wire.ErrSequence, nil)
		return
	}

	var digest [wire.HashSize]byte
	copy(digest[:], body)
	d.ack(ctx, ackTopic, seq, d.handler.WriteHash(ctx, digest), nil)
}

func (d *mqttDevice) handleData(ctx context.Context, t string, payload []byte) {
	seq, body, err := wire.DecodeFrame(payload)
	if err != nil {
		log.Warn("Dropping malformed data frame", "err", err)
		return
	}

	d.ack(ctx, d.topics.DataAck(d.cfg.DeviceID), seq, d.handler.WriteData(ctx, body), nil)
}

func (d *mqttDevice) handleStatusRead(ctx context.Context, t string, payload []byte) {
	seq, _, err := wire.DecodeFrame(payload)
	if err != nil {
		log.Warn("Dropping malformed status read frame", "err", err)
		return
	}

	status := d.handler.ReadStatus(ctx)
	d.ack(ctx, d.topics.StatusReadAck(d.cfg.DeviceID), seq, nil, []byte{byte(status)})
}

func (d *mqttDevice) handleConfigRead(ctx context.Context, t string, payload []byte) {
	seq, _, err := wire.DecodeFrame(payload)
	if err != nil {
		log.Warn("Dropping malformed config read frame", "err", err)
		return
	}

	d.ack(ctx, d.topics.ConfigReadAck(d.cfg.DeviceID), seq, nil, d.handler.ReadConfig(ctx))
}

func (d *mqttDevice) handleConfigSet(ctx context.Context, t string, payload []byte) {
	seq, body, err := wire.DecodeFrame(payload)
	if err != nil {
		log.Warn("Dropping malformed config set frame", "err", err)
		return
	}

	d.ack(ctx, d.topics.ConfigSetAck(d.cfg.DeviceID), seq, d.handler.WriteConfig(ctx, body), nil)
}

func (d *mqttDevice) handlePresence(ctx context.Context, t string, payload []byte) {
	switch string(payload) {
	case topic.PresenceOnline:
		d.clientSeen.Store(true)
	case topic.PresenceOffline:
		// Ignore retained offline markers from before this device started.
		if d.clientSeen.CompareAndSwap(true, false) {
			log.Info("Client presence lost")
			d.handler.LinkLost()
		}
	default:
		log.Warn("Dropping malformed presence payload", "payload", string(payload))
	}
}
