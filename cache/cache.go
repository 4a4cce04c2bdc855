package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/agentuity/go-warehouse/logger"
)

// Store is the contract every tier implements. Values are opaque bytes; the
// expiration instant is computed by the caller and stored unchanged.
//
// Absent and expired keys are reported as found=false with a nil error.
// Implementations are safe for concurrent use.
type Store interface {
	// Set inserts or replaces the entry for key.
	Set(ctx context.Context, key string, val []byte, expires time.Time) error
	// Get returns the entry for key unless it is absent or expired at now.
	// The caller owns the returned value.
	Get(ctx context.Context, key string, now time.Time) (Entry, bool, error)
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// RemoveAll deletes every entry.
	RemoveAll(ctx context.Context) error
	// RemoveExpired deletes every entry expired at now.
	RemoveExpired(ctx context.Context, now time.Time) error
	// RemoveSince deletes every entry written at or after since.
	RemoveSince(ctx context.Context, since time.Time) error
	// Usage returns the bytes (or cost units) currently held.
	Usage() int64
	// Capacity returns the configured limit for Usage, zero when unbounded.
	Capacity() int64
	// Close releases background resources.
	Close() error
}

// Entry is a stored value plus its metadata. Entries are replaced wholesale on
// update and must be treated as read-only.
type Entry struct {
	Value        []byte
	Expires      time.Time
	Created      time.Time
	LastAccessed time.Time
}

// Clock supplies the current time for expiry and access bookkeeping.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a ManualClock reading now.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// config holds the resolved options for a tier.
type config struct {
	log      logger.Logger
	clock    Clock
	fs       billy.Filesystem
	pressure <-chan struct{}
}

// Option configures a tier.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		log:   logger.NewNop(),
		clock: SystemClock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLogger sets the logger used for eviction, purge and recovery events.
// Defaults to a logger that discards everything.
func WithLogger(log logger.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock sets the clock used for write and access timestamps.
// Defaults to SystemClock.
func WithClock(clock Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithFilesystem sets the filesystem provider for a Disk tier. When set,
// DiskConfig.Directory is a path inside that filesystem. Defaults to the
// operating system filesystem rooted at DiskConfig.Directory.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(c *config) { c.fs = fs }
}

// WithPressureSignal connects an auto-purging Memory tier to a memory pressure
// source. Every value received triggers Purge. Ignored by other tiers.
func WithPressureSignal(signal <-chan struct{}) Option {
	return func(c *config) { c.pressure = signal }
}
