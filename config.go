package evh

// config.go - EVH configuration with boundary validation.

import "time"

// Config configures a New EVH. Zero values fall back to the documented
// defaults.
type Config struct {
	// Threads is the number of worker goroutines, each pinned to one
	// selector instance.
	Threads int
	// SyncChannelSize is defaulted but not read by any EVH path:
	// AddServer sizes its acknowledgement channel by Threads, so every
	// worker's ack fits.
	SyncChannelSize int
	// WriteQueueSize bounds the per-worker write-request queue.
	WriteQueueSize int
	// NewHandleQueueSize bounds the per-worker new-handle queue.
	NewHandleQueueSize int
	// MaxEventsIn bounds the EventIn batch submitted before each select
	// call.
	MaxEventsIn int
	// MaxEvents bounds the Event batch returned by one select call.
	MaxEvents int
	// HousekeepingFrequencyMillis is the interval, in milliseconds, at
	// which the housekeeper callback runs.
	HousekeepingFrequencyMillis int
	// ReadSlabCount is the number of slabs in each worker's SlabPool.
	// Must be strictly less than 2^32.
	ReadSlabCount int
	// MaxHandlesPerThread bounds how many connections one worker's
	// hashtables may hold.
	MaxHandlesPerThread int
	// SlabPayloadSize overrides the default per-slab payload size.
	SlabPayloadSize int
	// SlabLinkWidth overrides the default forward-link width.
	SlabLinkWidth int
	// MaxWriteChunk bounds how large a single fragment WriteHandle.Write
	// forwards to the write core.
	MaxWriteChunk int
	// AcceptBacklog is the listen() backlog passed to CreateListeners.
	AcceptBacklog int
	// Logger receives non-fatal diagnostics. Defaults to the package
	// logger set via SetStructuredLogger, or a no-op logger.
	Logger Logger
}

const (
	defaultThreads             = 4
	defaultSyncChannelSize     = 1
	defaultWriteQueueSize      = 1024
	defaultNewHandleQueueSize  = 1024
	defaultMaxEventsIn         = 256
	defaultMaxEvents           = 256
	defaultHousekeepingMillis  = 1000
	defaultReadSlabCount       = 1024
	defaultMaxHandlesPerThread = 10_000
	defaultMaxWriteChunk       = 1000
	defaultAcceptBacklog       = 128

	// maxReadSlabCount caps ReadSlabCount at 2^32-1; the legal range is
	// [0, maxReadSlabCount] inclusive.
	maxReadSlabCount = (1 << 32) - 1
)

func (c Config) withDefaults() Config {
	if c.Threads <= 0 {
		c.Threads = defaultThreads
	}
	if c.SyncChannelSize <= 0 {
		c.SyncChannelSize = defaultSyncChannelSize
	}
	if c.WriteQueueSize <= 0 {
		c.WriteQueueSize = defaultWriteQueueSize
	}
	if c.NewHandleQueueSize <= 0 {
		c.NewHandleQueueSize = defaultNewHandleQueueSize
	}
	if c.MaxEventsIn <= 0 {
		c.MaxEventsIn = defaultMaxEventsIn
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = defaultMaxEvents
	}
	if c.HousekeepingFrequencyMillis <= 0 {
		c.HousekeepingFrequencyMillis = defaultHousekeepingMillis
	}
	if c.ReadSlabCount <= 0 {
		c.ReadSlabCount = defaultReadSlabCount
	}
	if c.MaxHandlesPerThread <= 0 {
		c.MaxHandlesPerThread = defaultMaxHandlesPerThread
	}
	if c.SlabPayloadSize <= 0 {
		c.SlabPayloadSize = DefaultPayloadSize
	}
	if c.SlabLinkWidth <= 0 {
		c.SlabLinkWidth = DefaultLinkWidth
	}
	if c.MaxWriteChunk <= 0 {
		c.MaxWriteChunk = defaultMaxWriteChunk
	}
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = defaultAcceptBacklog
	}
	if c.Logger == nil {
		c.Logger = getGlobalLogger()
	}
	return c
}

func (c Config) validate() error {
	if c.ReadSlabCount > maxReadSlabCount {
		return &ConfigError{Field: "read_slab_count", Reason: "must be < 2^32"}
	}
	if c.SlabPayloadSize+c.SlabLinkWidth > maxSlabSize {
		return &ConfigError{Field: "slab_size", Reason: "exceeds 2^16"}
	}
	slabSize := c.SlabPayloadSize + c.SlabLinkWidth
	if slabSize < 4*c.SlabLinkWidth {
		return &ConfigError{Field: "slab_size", Reason: "must be at least 4x link width"}
	}
	if c.Threads <= 0 {
		return &ConfigError{Field: "threads", Reason: "must be positive"}
	}
	return nil
}

func (c Config) housekeepingInterval() time.Duration {
	return time.Duration(c.HousekeepingFrequencyMillis) * time.Millisecond
}

func (c Config) slabSize() int { return c.SlabPayloadSize + c.SlabLinkWidth }
