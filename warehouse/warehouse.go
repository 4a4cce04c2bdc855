package warehouse

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/agentuity/go-warehouse/cache"
	"github.com/agentuity/go-warehouse/serializer"
)

// NotApplicable is reported by the capacity and usage accessors of a tier the
// Warehouse was not configured with.
const NotApplicable int64 = -1

// Mode names the tier layout of a Warehouse.
type Mode string

const (
	ModeMemory      Mode = "memory"
	ModeDisk        Mode = "disk"
	ModeHybrid      Mode = "hybrid"
	ModeAutoPurging Mode = "auto-purging"
)

// Entry is a decoded object and its expiration.
type Entry[T any] struct {
	Object  T
	Expires time.Time
}

// Stats counts reads and writes since the Warehouse was created.
type Stats struct {
	Hits            uint64
	Misses          uint64
	Writes          uint64
	MemoryEvictions uint64
	DiskEvictions   uint64
}

// Warehouse stores values of type T in a memory tier, a disk tier or both.
// Values are encoded with the Serializer given at construction. Expired
// entries are never returned; they read as absent.
type Warehouse[T any] struct {
	mode       Mode
	store      cache.Store
	memory     *cache.Memory
	disk       *cache.Disk
	hybrid     *cache.Hybrid
	serializer serializer.Serializer[T]
	opts       options
	telemetry  *telemetry
	closers    []func() error

	hits   atomic.Uint64
	misses atomic.Uint64
	writes atomic.Uint64
}

func newWarehouse[T any](mode Mode, s serializer.Serializer[T], o options, memory *cache.Memory, disk *cache.Disk) *Warehouse[T] {
	if s == nil {
		panic("warehouse: a serializer is required")
	}
	w := &Warehouse[T]{
		mode:       mode,
		memory:     memory,
		disk:       disk,
		serializer: s,
		opts:       o,
		telemetry:  newTelemetry(o, mode, o.log),
	}
	switch {
	case memory != nil && disk != nil:
		w.hybrid = cache.NewHybrid(memory, disk, o.tierOptions()...)
		w.store = w.hybrid
	case memory != nil:
		w.store = memory
	default:
		w.store = disk
	}
	return w
}

// NewMemory returns a Warehouse backed only by a memory tier.
func NewMemory[T any](cfg cache.MemoryConfig, s serializer.Serializer[T], opts ...Option) *Warehouse[T] {
	o := applyOptions(opts)
	return newWarehouse(ModeMemory, s, o, cache.NewMemory(cfg, o.tierOptions()...), nil)
}

// NewDisk returns a Warehouse backed only by a disk tier.
func NewDisk[T any](cfg cache.DiskConfig, s serializer.Serializer[T], opts ...Option) (*Warehouse[T], error) {
	o := applyOptions(opts)
	disk, err := cache.OpenDisk(cfg, o.tierOptions()...)
	if err != nil {
		return nil, err
	}
	return newWarehouse(ModeDisk, s, o, nil, disk), nil
}

// NewHybrid returns a Warehouse with a memory tier in front of a disk tier.
// Each tier applies its own expiry policy to writes.
func NewHybrid[T any](mem cache.MemoryConfig, disk cache.DiskConfig, s serializer.Serializer[T], opts ...Option) (*Warehouse[T], error) {
	o := applyOptions(opts)
	d, err := cache.OpenDisk(disk, o.tierOptions()...)
	if err != nil {
		return nil, err
	}
	return newWarehouse(ModeHybrid, s, o, cache.NewMemory(mem, o.tierOptions()...), d), nil
}

// NewAutoPurging returns a hybrid Warehouse whose memory tier purges itself
// on memory pressure, signalled through WithPressureSignal or by calling
// Purge.
func NewAutoPurging[T any](mem cache.AutoPurgingConfig, disk cache.DiskConfig, s serializer.Serializer[T], opts ...Option) (*Warehouse[T], error) {
	o := applyOptions(opts)
	m, err := cache.NewAutoPurgingMemory(mem, o.tierOptions()...)
	if err != nil {
		return nil, err
	}
	d, err := cache.OpenDisk(disk, o.tierOptions()...)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return newWarehouse(ModeAutoPurging, s, o, m, d), nil
}

// Mode returns the tier layout.
func (w *Warehouse[T]) Mode() Mode {
	return w.mode
}

// SetObject encodes value and stores it under key. The expiration comes from
// WithExpiry when given, otherwise from each tier's policy.
func (w *Warehouse[T]) SetObject(ctx context.Context, key string, value T, opts ...SetOption) (err error) {
	ctx, span := w.telemetry.start(ctx, "SetObject")
	defer func() { w.telemetry.end(span, err) }()

	var so setOptions
	for _, opt := range opts {
		opt(&so)
	}
	data, err := w.serializer.Encode(value)
	if err != nil {
		return errors.Wrapf(err, "encoding %q", key)
	}
	now := w.opts.clock.Now()
	switch {
	case so.override:
		err = w.store.Set(ctx, key, data, so.expiry.Resolve(now))
	case w.hybrid != nil:
		err = w.hybrid.SetTiered(ctx, key, data, w.memory.Expiry().Resolve(now), w.disk.Expiry().Resolve(now))
	case w.memory != nil:
		err = w.memory.Set(ctx, key, data, w.memory.Expiry().Resolve(now))
	default:
		err = w.disk.Set(ctx, key, data, w.disk.Expiry().Resolve(now))
	}
	if err != nil {
		return err
	}
	w.writes.Add(1)
	w.telemetry.wrote(ctx)
	return nil
}

func (w *Warehouse[T]) get(ctx context.Context, key string) (cache.Entry, bool, error) {
	entry, found, err := w.store.Get(ctx, key, w.opts.clock.Now())
	if err != nil {
		return cache.Entry{}, false, err
	}
	if found {
		w.hits.Add(1)
	} else {
		w.misses.Add(1)
	}
	return entry, found, nil
}

// Object returns the value stored under key. An absent or expired key returns
// found=false and a nil error; bytes that fail to decode are an error.
func (w *Warehouse[T]) Object(ctx context.Context, key string) (value T, found bool, err error) {
	ctx, span := w.telemetry.start(ctx, "Object")
	defer func() { w.telemetry.end(span, err) }()

	entry, found, err := w.get(ctx, key)
	if err != nil {
		return value, false, err
	}
	w.telemetry.read(ctx, span, found)
	if !found {
		return value, false, nil
	}
	value, err = w.serializer.Decode(entry.Value)
	if err != nil {
		return value, false, errors.Wrapf(err, "decoding %q", key)
	}
	return value, true, nil
}

// Entry is like Object but also returns the expiration. An absent key is
// reported as cache.ErrNotFound.
func (w *Warehouse[T]) Entry(ctx context.Context, key string) (result Entry[T], err error) {
	ctx, span := w.telemetry.start(ctx, "Entry")
	defer func() { w.telemetry.end(span, err) }()

	entry, found, err := w.get(ctx, key)
	if err != nil {
		return result, err
	}
	w.telemetry.read(ctx, span, found)
	if !found {
		return result, errors.Wrapf(cache.ErrNotFound, "key %q", key)
	}
	value, err := w.serializer.Decode(entry.Value)
	if err != nil {
		return result, errors.Wrapf(err, "decoding %q", key)
	}
	return Entry[T]{Object: value, Expires: entry.Expires}, nil
}

// ExistsObject reports whether a fresh entry is stored under key.
func (w *Warehouse[T]) ExistsObject(ctx context.Context, key string) (bool, error) {
	_, found, err := w.get(ctx, key)
	return found, err
}

// IsExpiredObject reports whether key has no fresh entry, either because it
// was never stored or because its entry has expired.
func (w *Warehouse[T]) IsExpiredObject(ctx context.Context, key string) (bool, error) {
	_, found, err := w.get(ctx, key)
	if err != nil {
		return false, err
	}
	return !found, nil
}

// RemoveObject deletes key from every tier. Removing an absent key is not an
// error.
func (w *Warehouse[T]) RemoveObject(ctx context.Context, key string) (err error) {
	ctx, span := w.telemetry.start(ctx, "RemoveObject")
	defer func() { w.telemetry.end(span, err) }()
	return w.store.Remove(ctx, key)
}

// RemoveObjectIfExpired deletes key when it has no fresh entry and does
// nothing otherwise.
func (w *Warehouse[T]) RemoveObjectIfExpired(ctx context.Context, key string) error {
	_, found, err := w.store.Get(ctx, key, w.opts.clock.Now())
	if err != nil || found {
		return err
	}
	return w.store.Remove(ctx, key)
}

// RemoveExpiredObjects deletes every expired entry. Every entry is attempted;
// failures are joined into the returned error.
func (w *Warehouse[T]) RemoveExpiredObjects(ctx context.Context) (err error) {
	ctx, span := w.telemetry.start(ctx, "RemoveExpiredObjects")
	defer func() { w.telemetry.end(span, err) }()
	return w.store.RemoveExpired(ctx, w.opts.clock.Now())
}

// RemoveStoredObjects deletes every entry written at or after since.
func (w *Warehouse[T]) RemoveStoredObjects(ctx context.Context, since time.Time) (err error) {
	ctx, span := w.telemetry.start(ctx, "RemoveStoredObjects")
	defer func() { w.telemetry.end(span, err) }()
	return w.store.RemoveSince(ctx, since)
}

// RemoveAll deletes every entry.
func (w *Warehouse[T]) RemoveAll(ctx context.Context) (err error) {
	ctx, span := w.telemetry.start(ctx, "RemoveAll")
	defer func() { w.telemetry.end(span, err) }()
	return w.store.RemoveAll(ctx)
}

// Purge shrinks the memory tier to its preferred usage and returns the
// number of entries evicted. It is the callback form of the pressure signal.
// A Warehouse without a memory tier does nothing.
func (w *Warehouse[T]) Purge() int {
	if w.memory == nil {
		return 0
	}
	return w.memory.Purge()
}

// MemoryCapacity returns the memory cost limit, zero when unbounded, or
// NotApplicable without a memory tier.
func (w *Warehouse[T]) MemoryCapacity() int64 {
	if w.memory == nil {
		return NotApplicable
	}
	return w.memory.Capacity()
}

// DiskCapacity returns the disk size limit in bytes, zero when unbounded, or
// NotApplicable without a disk tier.
func (w *Warehouse[T]) DiskCapacity() int64 {
	if w.disk == nil {
		return NotApplicable
	}
	return w.disk.Capacity()
}

// CurrentMemoryUsage returns the summed cost of the memory tier or
// NotApplicable.
func (w *Warehouse[T]) CurrentMemoryUsage() int64 {
	if w.memory == nil {
		return NotApplicable
	}
	return w.memory.Usage()
}

// CurrentDiskUsage returns the bytes held by the disk tier, each entry
// counting its payload plus cache.HeaderSize, or NotApplicable.
func (w *Warehouse[T]) CurrentDiskUsage() int64 {
	if w.disk == nil {
		return NotApplicable
	}
	return w.disk.Usage()
}

// Stats returns the read and write counters.
func (w *Warehouse[T]) Stats() Stats {
	s := Stats{
		Hits:   w.hits.Load(),
		Misses: w.misses.Load(),
		Writes: w.writes.Load(),
	}
	if w.memory != nil {
		s.MemoryEvictions = w.memory.Evictions()
	}
	if w.disk != nil {
		s.DiskEvictions = w.disk.Evictions()
	}
	return s
}

// Close stops background listeners. The Warehouse must not be used after.
func (w *Warehouse[T]) Close() error {
	errs := make([]error, 0, len(w.closers)+1)
	for _, c := range w.closers {
		errs = append(errs, c())
	}
	errs = append(errs, w.store.Close())
	return errors.Join(errs...)
}
