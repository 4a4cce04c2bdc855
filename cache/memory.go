package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentuity/go-warehouse/expiry"
)

// MemoryConfig configures a Memory tier. Zero limits mean unbounded.
type MemoryConfig struct {
	// Expiry is the default policy the facade applies to writes.
	Expiry expiry.Expiry
	// CountLimit bounds the number of entries.
	CountLimit uint64
	// TotalCostLimit bounds the summed cost of all entries.
	TotalCostLimit uint64
}

// AutoPurgingConfig configures a Memory tier that shrinks itself when the host
// reports memory pressure.
type AutoPurgingConfig struct {
	Expiry expiry.Expiry
	// MemoryCapacityBytes is the hard cost limit.
	MemoryCapacityBytes uint64
	// PreferredUsageAfterPurge is the usage Purge shrinks down to.
	PreferredUsageAfterPurge uint64
}

// Validate checks PreferredUsageAfterPurge <= MemoryCapacityBytes.
func (c AutoPurgingConfig) Validate() error {
	if c.PreferredUsageAfterPurge > c.MemoryCapacityBytes {
		return configError("preferred usage after purge (%d) exceeds memory capacity (%d)", c.PreferredUsageAfterPurge, c.MemoryCapacityBytes)
	}
	return nil
}

type memoryItem struct {
	key   string
	entry Entry
	cost  uint64
}

// Memory is an in-process LRU tier bounded by entry count and total cost.
type Memory struct {
	mutex     sync.Mutex
	items     map[string]*list.Element
	lru       *list.List // front is most recently used
	cost      uint64
	cfg       MemoryConfig
	preferred uint64
	evictions atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	opts      config
}

var _ Store = (*Memory)(nil)

// NewMemory returns a Memory tier. Purge on a tier built this way empties it.
func NewMemory(cfg MemoryConfig, opts ...Option) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		items:  make(map[string]*list.Element),
		lru:    list.New(),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		opts:   applyOptions(opts),
	}
}

// NewAutoPurgingMemory returns a Memory tier whose cost limit is
// MemoryCapacityBytes. When a pressure signal is supplied with
// WithPressureSignal, every receive purges the tier down to
// PreferredUsageAfterPurge until Close is called or the channel is closed.
func NewAutoPurgingMemory(cfg AutoPurgingConfig, opts ...Option) (*Memory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := NewMemory(MemoryConfig{
		Expiry:         cfg.Expiry,
		TotalCostLimit: cfg.MemoryCapacityBytes,
	}, opts...)
	m.preferred = cfg.PreferredUsageAfterPurge
	if m.opts.pressure != nil {
		m.waitGroup.Add(1)
		go m.listen(m.opts.pressure)
	}
	return m, nil
}

func (m *Memory) listen(signal <-chan struct{}) {
	defer m.waitGroup.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case _, ok := <-signal:
			if !ok {
				return
			}
			m.Purge()
		}
	}
}

// Expiry returns the tier's default expiry policy.
func (m *Memory) Expiry() expiry.Expiry {
	return m.cfg.Expiry
}

// Set stores val with a cost equal to its length.
func (m *Memory) Set(ctx context.Context, key string, val []byte, expires time.Time) error {
	return m.SetWithCost(ctx, key, val, expires, uint64(len(val)))
}

// SetWithCost stores val with an explicit cost, then evicts least recently
// used entries until the tier is within its limits. An entry whose cost alone
// exceeds the cost limit is not kept, and any previous entry for key is dropped.
func (m *Memory) SetWithCost(_ context.Context, key string, val []byte, expires time.Time, cost uint64) error {
	now := m.opts.clock.Now()
	item := &memoryItem{
		key: key,
		entry: Entry{
			Value:        append([]byte(nil), val...),
			Expires:      expires,
			Created:      now,
			LastAccessed: now,
		},
		cost: cost,
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.cfg.TotalCostLimit > 0 && cost > m.cfg.TotalCostLimit {
		if el, ok := m.items[key]; ok {
			m.removeElementLocked(el)
		}
		m.evictions.Add(1)
		m.opts.log.Debug("evicted %s from memory: cost %d exceeds limit %d", key, cost, m.cfg.TotalCostLimit)
		return nil
	}
	if el, ok := m.items[key]; ok {
		m.cost -= el.Value.(*memoryItem).cost
		el.Value = item
		m.lru.MoveToFront(el)
	} else {
		m.items[key] = m.lru.PushFront(item)
	}
	m.cost += cost
	m.evictLocked()
	return nil
}

func (m *Memory) overLimitLocked() bool {
	if m.cfg.CountLimit > 0 && uint64(len(m.items)) > m.cfg.CountLimit {
		return true
	}
	return m.cfg.TotalCostLimit > 0 && m.cost > m.cfg.TotalCostLimit
}

func (m *Memory) evictLocked() {
	for m.overLimitLocked() {
		el := m.lru.Back()
		if el == nil {
			return
		}
		item := m.removeElementLocked(el)
		m.evictions.Add(1)
		m.opts.log.Debug("evicted %s from memory (cost %d, usage %d)", item.key, item.cost, m.cost)
	}
}

func (m *Memory) removeElementLocked(el *list.Element) *memoryItem {
	item := m.lru.Remove(el).(*memoryItem)
	delete(m.items, item.key)
	m.cost -= item.cost
	return item
}

// Get returns the entry for key. An entry expired at now is removed and
// reported as absent. A hit makes key the most recently used entry. The
// returned value is a copy.
func (m *Memory) Get(_ context.Context, key string, now time.Time) (Entry, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	el, ok := m.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	item := el.Value.(*memoryItem)
	if expiry.IsExpired(item.entry.Expires, now) {
		m.removeElementLocked(el)
		return Entry{}, false, nil
	}
	touched := *item
	touched.entry.LastAccessed = m.opts.clock.Now()
	el.Value = &touched
	m.lru.MoveToFront(el)
	entry := touched.entry
	entry.Value = append([]byte(nil), entry.Value...)
	return entry, true, nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mutex.Lock()
	if el, ok := m.items[key]; ok {
		m.removeElementLocked(el)
	}
	m.mutex.Unlock()
	return nil
}

func (m *Memory) RemoveAll(_ context.Context) error {
	m.mutex.Lock()
	m.items = make(map[string]*list.Element)
	m.lru.Init()
	m.cost = 0
	m.mutex.Unlock()
	return nil
}

func (m *Memory) RemoveExpired(_ context.Context, now time.Time) error {
	m.removeWhere(func(e Entry) bool { return expiry.IsExpired(e.Expires, now) })
	return nil
}

func (m *Memory) RemoveSince(_ context.Context, since time.Time) error {
	m.removeWhere(func(e Entry) bool { return !e.Created.Before(since) })
	return nil
}

func (m *Memory) removeWhere(match func(Entry) bool) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var removed int
	for el := m.lru.Front(); el != nil; {
		next := el.Next()
		if match(el.Value.(*memoryItem).entry) {
			m.removeElementLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

// Purge evicts least recently used entries until usage is at or below the
// preferred usage after purge. It returns the number of entries evicted.
func (m *Memory) Purge() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	before := m.cost
	var purged int
	for m.cost > m.preferred {
		el := m.lru.Back()
		if el == nil {
			break
		}
		m.removeElementLocked(el)
		purged++
	}
	if purged > 0 {
		m.evictions.Add(uint64(purged))
		m.opts.log.Info("purged %d entries from memory, usage %d -> %d", purged, before, m.cost)
	}
	return purged
}

// Usage returns the summed cost of all entries.
func (m *Memory) Usage() int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return int64(m.cost)
}

// Capacity returns the cost limit, zero when unbounded.
func (m *Memory) Capacity() int64 {
	return int64(m.cfg.TotalCostLimit)
}

// Len returns the number of entries, including expired ones not yet removed.
func (m *Memory) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.items)
}

// Evictions returns the number of entries removed by capacity limits or purges.
func (m *Memory) Evictions() uint64 {
	return m.evictions.Load()
}

// Close stops the pressure listener. It is safe to call more than once.
func (m *Memory) Close() error {
	m.once.Do(func() {
		m.cancel()
		m.waitGroup.Wait()
	})
	return nil
}
