package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/glowlink-io/glowlink/pkg/link"
)

var _ IOptions = (*LinkOptions)(nil)

// LinkOptions contains configuration for the MQTT-bridged update link.
type LinkOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	// DeviceID selects the device whose endpoint topics this link binds to.
	DeviceID string `json:"device-id" mapstructure:"device-id"`

	// Client behavior
	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	AckTimeout     time.Duration `json:"ack-timeout" mapstructure:"ack-timeout"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify controls whether the client verifies the broker's
	// certificate chain and host name. For testing only.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot prefixes every endpoint topic: {TopicRoot}/{DeviceID}/...
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
}

// NewLinkOptions creates a new LinkOptions with default values.
func NewLinkOptions() *LinkOptions {
	return &LinkOptions{
		Broker:             "tcp://127.0.0.1:1883",
		KeepAlive:          30 * time.Second,
		ConnectTimeout:     5 * time.Second,
		AckTimeout:         10 * time.Second,
		SessionExpiry:      60,
		CleanStart:         true,
		InsecureSkipVerify: false,
		TopicRoot:          "glowlink/v1",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *LinkOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Broker == "" {
		errors = append(errors, fmt.Errorf("link broker URL must not be empty"))
	}
	if o.DeviceID == "" {
		errors = append(errors, fmt.Errorf("link device ID must not be empty"))
	}

	return errors
}

// AddFlags adds flags for LinkOptions to the specified FlagSet.
func (o *LinkOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "link.broker", o.Broker, "The URL of the MQTT broker bridging the update link.")
	fs.StringVar(&o.Username, "link.username", o.Username, "The username for broker authentication.")
	fs.StringVar(&o.Password, "link.password", o.Password, "The password for broker authentication.")
	fs.StringVar(&o.ClientID, "link.client-id", o.ClientID, "Explicit MQTT client ID (optional, usually generated).")
	fs.StringVar(&o.DeviceID, "link.device-id", o.DeviceID, "The ID of the device this link addresses.")

	fs.DurationVar(&o.KeepAlive, "link.keep-alive", o.KeepAlive, "MQTT keep alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "link.connect-timeout", o.ConnectTimeout, "Timeout for establishing the broker connection.")
	fs.DurationVar(&o.AckTimeout, "link.ack-timeout", o.AckTimeout, "Timeout for one endpoint write acknowledgement.")
	fs.Uint32Var(&o.SessionExpiry, "link.session-expiry", o.SessionExpiry, "MQTT session expiry interval in seconds.")
	fs.BoolVar(&o.InsecureSkipVerify, "link.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")

	// Topics
	fs.StringVar(&o.TopicRoot, "link.topic-root", o.TopicRoot, "Topic prefix for the device endpoint topics.")
}

func (o *LinkOptions) ToBridgeConfig() *link.BridgeConfig {
	return &link.BridgeConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		DeviceID:           o.DeviceID,
		TopicRoot:          o.TopicRoot,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		AckTimeout:         o.AckTimeout,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
}
