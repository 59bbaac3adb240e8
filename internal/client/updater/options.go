package updater

import (
	"time"

	"github.com/glowlink-io/glowlink/pkg/log"
	"github.com/glowlink-io/glowlink/pkg/wire"
)

// Phase identifies where in the update sequence a Progress report was taken.
type Phase string

const (
	PhaseArming       Phase = "arming"
	PhaseTransferring Phase = "transferring"
	PhaseCommitting   Phase = "committing"
	PhaseComplete     Phase = "complete"
)

// Progress is a snapshot of a running update, delivered to the progress
// callback.
type Progress struct {
	Phase       Phase
	SentBytes   int
	TotalBytes  int
	ChunksSent  int
	TotalChunks int
	Percentage  float64
	Elapsed     time.Duration
}

// Config holds the tunable behavior of an Updater.
type Config struct {
	// ChunkSize is the payload size of one data endpoint write.
	ChunkSize int

	// StatusPollEvery is how many chunks to send between status register
	// polls. Zero disables polling.
	StatusPollEvery int

	// ProgressCallback, when set, receives Progress snapshots. It runs on
	// the update goroutine and must not block.
	ProgressCallback func(Progress)

	Logger log.Logger
}

func defaultConfig() Config {
	return Config{
		ChunkSize:       wire.DefaultChunkSize,
		StatusPollEvery: 20,
		Logger:          log.Std().WithName("updater"),
	}
}

// Option configures an Updater.
type Option func(*Config)

// WithChunkSize overrides the data write payload size. Values above the
// device's advertised ceiling will fail the session.
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.ChunkSize = size
		}
	}
}

// WithStatusPollEvery sets how many chunks are sent between status polls.
// Zero disables mid-transfer polling.
func WithStatusPollEvery(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.StatusPollEvery = n
		}
	}
}

// WithProgressCallback installs a progress listener.
func WithProgressCallback(fn func(Progress)) Option {
	return func(c *Config) {
		c.ProgressCallback = fn
	}
}

// WithLogger overrides the updater logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
