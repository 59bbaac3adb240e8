package link

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/glowlink-io/glowlink/pkg/wire"
)

func TestAckDeliveryFillsPendingWrite(t *testing.T) {
	c := &mqttClient{}
	ch := make(chan ackFrame, 1)
	c.pending.Store(uint32(7), ch)

	c.handleAck(context.Background(), "ack", wire.EncodeAck(7, wire.ResultOK, []byte{0x02}))

	select {
	case ack := <-ch:
		if ack.result != wire.ResultOK {
			t.Errorf("result = %s, want ok", ack.result)
		}
		if !bytes.Equal(ack.data, []byte{0x02}) {
			t.Errorf("data = %v, want [0x02]", ack.data)
		}
	default:
		t.Fatal("ack never reached the pending write")
	}
}

func TestDuplicateAckDoesNotBlockHandler(t *testing.T) {
	c := &mqttClient{}
	ch := make(chan ackFrame, 1)
	c.pending.Store(uint32(9), ch)

	frame := wire.EncodeAck(9, wire.ResultOK, nil)
	c.handleAck(context.Background(), "ack", frame)

	// A QoS 1 redelivery of the same ack finds the buffer full. The handler
	// must drop it rather than hang.
	done := make(chan struct{})
	go func() {
		c.handleAck(context.Background(), "ack", frame)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("duplicate ack blocked the handler")
	}

	if ack := <-ch; ack.result != wire.ResultOK {
		t.Errorf("result = %s, want ok", ack.result)
	}
}

func TestLateAckWithNoPendingWriteIsDropped(t *testing.T) {
	c := &mqttClient{}

	done := make(chan struct{})
	go func() {
		c.handleAck(context.Background(), "ack", wire.EncodeAck(42, wire.ResultSequence, nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("late ack blocked the handler")
	}
}
