package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"
)

const keyStripes = 64

// Hybrid chains a memory tier in front of a disk tier. Writes go to disk
// first, reads try memory first and promote disk hits into memory. A
// promotion holds its key against Set and Remove, so it never brings back a
// removed key or replaces a newer value. Operations are otherwise not atomic
// across the two tiers.
type Hybrid struct {
	memory Store
	disk   Store
	group  singleflight.Group
	opts   config

	// bulk is held shared by single-key operations and exclusively by the
	// bulk removals.
	bulk    sync.RWMutex
	stripes [keyStripes]sync.Mutex
}

var _ Store = (*Hybrid)(nil)

// NewHybrid returns a Store layering memory over disk. Both tiers are
// required; panics if either is nil.
func NewHybrid(memory, disk Store, opts ...Option) *Hybrid {
	if memory == nil || disk == nil {
		panic("cache: NewHybrid requires a memory and a disk tier")
	}
	return &Hybrid{memory: memory, disk: disk, opts: applyOptions(opts)}
}

// Memory returns the memory tier.
func (h *Hybrid) Memory() Store { return h.memory }

// Disk returns the disk tier.
func (h *Hybrid) Disk() Store { return h.disk }

// Set writes the same expiration to both tiers.
func (h *Hybrid) Set(ctx context.Context, key string, val []byte, expires time.Time) error {
	return h.SetTiered(ctx, key, val, expires, expires)
}

// SetTiered writes to disk and then to memory, each with its own expiration.
// When the disk write fails the memory tier is left without a copy of key and
// the disk error is returned. When only the memory write fails the memory copy
// is dropped and the write still succeeds, since the disk tier holds the value.
func (h *Hybrid) SetTiered(ctx context.Context, key string, val []byte, memExpires, diskExpires time.Time) error {
	unlock := h.lockKey(key)
	defer unlock()
	if err := h.disk.Set(ctx, key, val, diskExpires); err != nil {
		if rerr := h.memory.Remove(ctx, key); rerr != nil {
			return errors.Join(err, errors.Wrapf(rerr, "dropping memory copy of %s", key))
		}
		return err
	}
	if err := h.memory.Set(ctx, key, val, memExpires); err != nil {
		if rerr := h.memory.Remove(ctx, key); rerr != nil {
			return errors.Join(err, rerr)
		}
		h.opts.log.Warn("memory write for %s failed, serving from disk: %s", key, err)
	}
	return nil
}

// Get returns the memory entry when present, otherwise the disk entry. A disk
// hit is copied into memory with the disk entry's expiration. Concurrent
// misses for the same key share one disk read.
func (h *Hybrid) Get(ctx context.Context, key string, now time.Time) (Entry, bool, error) {
	entry, found, err := h.memory.Get(ctx, key, now)
	if err != nil || found {
		return entry, found, err
	}
	v, err, shared := h.group.Do(key, func() (interface{}, error) {
		unlock := h.lockKey(key)
		defer unlock()
		entry, found, err := h.disk.Get(ctx, key, now)
		if err != nil || !found {
			return nil, err
		}
		if err := h.memory.Set(ctx, key, entry.Value, entry.Expires); err != nil {
			h.opts.log.Warn("failed to promote %s into memory: %s", key, err)
		}
		return entry, nil
	})
	if err != nil || v == nil {
		return Entry{}, false, err
	}
	entry = v.(Entry)
	if shared {
		entry.Value = append([]byte(nil), entry.Value...)
	}
	return entry, true, nil
}

// Remove deletes key from both tiers and returns every tier failure.
func (h *Hybrid) Remove(ctx context.Context, key string) error {
	unlock := h.lockKey(key)
	defer unlock()
	return h.both(func(s Store) error {
		return s.Remove(ctx, key)
	})
}

func (h *Hybrid) RemoveAll(ctx context.Context) error {
	h.bulk.Lock()
	defer h.bulk.Unlock()
	return h.both(func(s Store) error {
		return s.RemoveAll(ctx)
	})
}

func (h *Hybrid) RemoveExpired(ctx context.Context, now time.Time) error {
	h.bulk.Lock()
	defer h.bulk.Unlock()
	return h.both(func(s Store) error {
		return s.RemoveExpired(ctx, now)
	})
}

func (h *Hybrid) RemoveSince(ctx context.Context, since time.Time) error {
	h.bulk.Lock()
	defer h.bulk.Unlock()
	return h.both(func(s Store) error {
		return s.RemoveSince(ctx, since)
	})
}

// lockKey takes the stripe guarding key and returns its release.
func (h *Hybrid) lockKey(key string) func() {
	h.bulk.RLock()
	mu := &h.stripes[xxhash.Sum64String(key)%keyStripes]
	mu.Lock()
	return func() {
		mu.Unlock()
		h.bulk.RUnlock()
	}
}

// both runs fn against memory then disk regardless of failures and joins the
// errors, each wrapped with the tier it came from.
func (h *Hybrid) both(fn func(s Store) error) error {
	var errs []error
	for _, t := range []struct {
		name  string
		store Store
	}{{"memory", h.memory}, {"disk", h.disk}} {
		if err := fn(t.store); err != nil {
			h.opts.log.Warn("%s tier failed: %s", t.name, err)
			errs = append(errs, errors.Wrapf(err, "%s tier", t.name))
		}
	}
	return errors.Join(errs...)
}

// Usage reports the disk tier, which holds every entry.
func (h *Hybrid) Usage() int64 {
	return h.disk.Usage()
}

// Capacity reports the disk tier.
func (h *Hybrid) Capacity() int64 {
	return h.disk.Capacity()
}

func (h *Hybrid) Close() error {
	return errors.Join(h.memory.Close(), h.disk.Close())
}
