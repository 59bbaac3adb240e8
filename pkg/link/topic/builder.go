package topic

import (
	"fmt"
)

// Constants defining the standard topic segments.
// These act as the protocol contract between client and device bridges.
// Changing these values will break compatibility with deployed devices.
const (
	// SuffixCommand represents the control register write topic (client -> device).
	// Structure: {root}/ota/command/{deviceID}
	SuffixCommand = "ota/command"

	// SuffixCommandAck represents the control write acknowledgement topic (device -> client).
	// Structure: {root}/ota/command/ack/{deviceID}
	SuffixCommandAck = "ota/command/ack"

	// SuffixHash represents the expected-digest register write topic (client -> device).
	// Structure: {root}/ota/hash/{deviceID}
	SuffixHash = "ota/hash"

	// SuffixHashAck represents the digest write acknowledgement topic (device -> client).
	// Structure: {root}/ota/hash/ack/{deviceID}
	SuffixHashAck = "ota/hash/ack"

	// SuffixData represents the image chunk write topic (client -> device).
	// Structure: {root}/ota/data/{deviceID}
	SuffixData = "ota/data"

	// SuffixDataAck represents the chunk write acknowledgement topic (device -> client).
	// Structure: {root}/ota/data/ack/{deviceID}
	SuffixDataAck = "ota/data/ack"

	// SuffixStatus represents the retained session status mirror (device -> client).
	// Structure: {root}/ota/status/{deviceID}
	SuffixStatus = "ota/status"

	// SuffixStatusRead represents an acknowledged status read request (client -> device).
	// Structure: {root}/ota/status/read/{deviceID}
	SuffixStatusRead = "ota/status/read"

	// SuffixStatusReadAck carries the status byte back to the reader (device -> client).
	// Structure: {root}/ota/status/read/ack/{deviceID}
	SuffixStatusReadAck = "ota/status/read/ack"

	// SuffixConfigRead represents an acknowledged config read request (client -> device).
	// Structure: {root}/config/read/{deviceID}
	SuffixConfigRead = "config/read"

	// SuffixConfigReadAck carries the config payload back to the reader (device -> client).
	// Structure: {root}/config/read/ack/{deviceID}
	SuffixConfigReadAck = "config/read/ack"

	// SuffixConfigSet represents a config register write (client -> device).
	// Structure: {root}/config/set/{deviceID}
	SuffixConfigSet = "config/set"

	// SuffixConfigSetAck represents the config write acknowledgement (device -> client).
	// Structure: {root}/config/set/ack/{deviceID}
	SuffixConfigSetAck = "config/set/ack"

	// SuffixPresence represents the client presence topic. The client publishes
	// a retained "online" marker here and registers an "offline" will message,
	// which is how the device observes link loss.
	// Structure: {root}/presence/{deviceID}
	SuffixPresence = "presence"
)

// Presence payloads.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Builder encapsulates the logic for constructing MQTT topic strings.
// It ensures consistency between the client and device bridges.
type Builder struct {
	// root is the base namespace for all topics (e.g., "glowlink/v1").
	root string
}

// NewBuilder creates a new Builder with the specified root namespace.
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Command returns the control register write topic for a device.
func (b *Builder) Command(deviceID string) string {
	return b.build(SuffixCommand, deviceID)
}

// CommandAck returns the control write acknowledgement topic for a device.
func (b *Builder) CommandAck(deviceID string) string {
	return b.build(SuffixCommandAck, deviceID)
}

// Hash returns the expected-digest write topic for a device.
func (b *Builder) Hash(deviceID string) string {
	return b.build(SuffixHash, deviceID)
}

// HashAck returns the digest write acknowledgement topic for a device.
func (b *Builder) HashAck(deviceID string) string {
	return b.build(SuffixHashAck, deviceID)
}

// Data returns the image chunk write topic for a device.
func (b *Builder) Data(deviceID string) string {
	return b.build(SuffixData, deviceID)
}

// DataAck returns the chunk write acknowledgement topic for a device.
func (b *Builder) DataAck(deviceID string) string {
	return b.build(SuffixDataAck, deviceID)
}

// Status returns the retained status mirror topic for a device.
func (b *Builder) Status(deviceID string) string {
	return b.build(SuffixStatus, deviceID)
}

// StatusRead returns the acknowledged status read topic for a device.
func (b *Builder) StatusRead(deviceID string) string {
	return b.build(SuffixStatusRead, deviceID)
}

// StatusReadAck returns the status read response topic for a device.
func (b *Builder) StatusReadAck(deviceID string) string {
	return b.build(SuffixStatusReadAck, deviceID)
}

// ConfigRead returns the acknowledged config read topic for a device.
func (b *Builder) ConfigRead(deviceID string) string {
	return b.build(SuffixConfigRead, deviceID)
}

// ConfigReadAck returns the config read response topic for a device.
func (b *Builder) ConfigReadAck(deviceID string) string {
	return b.build(SuffixConfigReadAck, deviceID)
}

// ConfigSet returns the config register write topic for a device.
func (b *Builder) ConfigSet(deviceID string) string {
	return b.build(SuffixConfigSet, deviceID)
}

// ConfigSetAck returns the config write acknowledgement topic for a device.
func (b *Builder) ConfigSetAck(deviceID string) string {
	return b.build(SuffixConfigSetAck, deviceID)
}

// Presence returns the client presence topic for a device.
func (b *Builder) Presence(deviceID string) string {
	return b.build(SuffixPresence, deviceID)
}

// build is a private helper to construct the final topic string.
// Pattern: {root}/{suffix}/{identifier}
func (b *Builder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
