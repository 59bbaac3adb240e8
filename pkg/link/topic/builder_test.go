package topic

import (
	"testing"
)

func TestBuilder(t *testing.T) {
	b := NewBuilder("glowlink/v1")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"command", b.Command("lamp-01"), "glowlink/v1/ota/command/lamp-01"},
		{"command ack", b.CommandAck("lamp-01"), "glowlink/v1/ota/command/ack/lamp-01"},
		{"hash", b.Hash("lamp-01"), "glowlink/v1/ota/hash/lamp-01"},
		{"data ack", b.DataAck("lamp-01"), "glowlink/v1/ota/data/ack/lamp-01"},
		{"status", b.Status("lamp-01"), "glowlink/v1/ota/status/lamp-01"},
		{"status read", b.StatusRead("lamp-01"), "glowlink/v1/ota/status/read/lamp-01"},
		{"config set ack", b.ConfigSetAck("lamp-01"), "glowlink/v1/config/set/ack/lamp-01"},
		{"presence", b.Presence("lamp-01"), "glowlink/v1/presence/lamp-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
