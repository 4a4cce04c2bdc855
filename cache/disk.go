package cache

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"github.com/agentuity/go-warehouse/expiry"
)

// DefaultDirectoryName is the directory created under the user cache
// directory when DiskConfig.Directory is empty.
const DefaultDirectoryName = "warehouse"

// DiskConfig configures a Disk tier.
type DiskConfig struct {
	// Directory is the base directory. Namespaces live in sub-directories.
	Directory string
	// Namespace names the sub-directory owned by this tier.
	Namespace string
	// Expiry is the default policy the facade applies to writes.
	Expiry expiry.Expiry
	// MaxSizeBytes bounds Usage. Zero means unbounded.
	MaxSizeBytes uint64
	// FileProtection is handed to the filesystem provider for every file
	// written, when the provider implements Protector.
	FileProtection any
}

// Validate checks that the namespace is a single, non-empty path element.
func (c DiskConfig) Validate() error {
	ns := c.Namespace
	if ns == "" {
		return configError("disk namespace is required")
	}
	if ns == "." || ns == ".." || ns == tempDirName || strings.ContainsAny(ns, `/\`) {
		return configError("disk namespace %q must be a single directory name", ns)
	}
	return nil
}

type diskRecord struct {
	name     string
	size     int64
	created  time.Time
	expires  time.Time
	accessed time.Time
}

// Disk is a persistent tier storing one file per key under a namespace
// directory. Every file is a fixed size header followed by the payload; the
// header carries the key check and the created, expires and last accessed
// times. Writes go to a temporary file that is renamed over the final name,
// so a failed write never damages the previous entry.
type Disk struct {
	mutex     sync.Mutex
	fs        billy.Filesystem
	dir       string
	cfg       DiskConfig
	index     map[string]*diskRecord // file name to record
	usage     int64
	evictions atomic.Uint64
	opts      config
}

var _ Store = (*Disk)(nil)

// OpenDisk opens or creates the namespace directory, removes temporary files
// left by interrupted writes and rebuilds the index from the entry headers.
// Files whose header cannot be read are skipped.
func OpenDisk(cfg DiskConfig, opts ...Option) (*Disk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	fs := o.fs
	var dir string
	if fs == nil {
		base := cfg.Directory
		if base == "" {
			userDir, err := os.UserCacheDir()
			if err != nil {
				return nil, ioError(err, "resolving user cache directory")
			}
			base = filepath.Join(userDir, DefaultDirectoryName)
		}
		fs = NewOSFilesystem(base)
		dir = cfg.Namespace
	} else {
		dir = fs.Join(cfg.Directory, cfg.Namespace)
	}
	d := &Disk{
		fs:    fs,
		dir:   dir,
		cfg:   cfg,
		index: make(map[string]*diskRecord),
		opts:  o,
	}
	if err := d.prepare(); err != nil {
		return nil, err
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	o.log.Debug("opened disk namespace %s with %d entries (%d bytes)", dir, len(d.index), d.usage)
	return d, nil
}

func (d *Disk) tempDir() string {
	return d.fs.Join(d.dir, tempDirName)
}

func (d *Disk) path(name string) string {
	return d.fs.Join(d.dir, name)
}

func (d *Disk) prepare() error {
	if err := d.fs.MkdirAll(d.dir, 0o755); err != nil {
		return ioError(err, "creating namespace %s", d.dir)
	}
	if err := util.RemoveAll(d.fs, d.tempDir()); err != nil {
		return ioError(err, "removing temporary files in %s", d.dir)
	}
	if err := d.fs.MkdirAll(d.tempDir(), 0o755); err != nil {
		return ioError(err, "creating temporary directory in %s", d.dir)
	}
	return nil
}

func (d *Disk) load() error {
	entries, err := ScanNamespace(d.fs, d.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Err != nil {
			d.opts.log.Warn("skipping unreadable entry %s: %s", e.Name, e.Err)
			continue
		}
		d.index[e.Name] = &diskRecord{
			name:     e.Name,
			size:     e.Size,
			created:  e.Created,
			expires:  e.Expires,
			accessed: e.LastAccessed,
		}
		d.usage += e.Size
	}
	return nil
}

// Directory returns the namespace directory inside the filesystem.
func (d *Disk) Directory() string {
	return d.dir
}

// Filesystem returns the filesystem the tier writes to.
func (d *Disk) Filesystem() billy.Filesystem {
	return d.fs
}

// Expiry returns the tier's default expiry policy.
func (d *Disk) Expiry() expiry.Expiry {
	return d.cfg.Expiry
}

// Set writes val for key, replacing any previous entry, then evicts the least
// recently accessed entries while usage exceeds MaxSizeBytes. An entry larger
// than MaxSizeBytes on its own is not written, and any previous entry for key
// is dropped.
func (d *Disk) Set(ctx context.Context, key string, val []byte, expires time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := d.opts.clock.Now()
	h := header{
		keyCheck: keyCheck(key),
		created:  now,
		expires:  expires,
		accessed: now,
	}
	name := FileName(key)
	size := int64(HeaderSize + len(val))

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if limit := int64(d.cfg.MaxSizeBytes); limit > 0 && size > limit {
		rec, ok := d.index[name]
		if !ok {
			rec = &diskRecord{name: name}
		}
		if err := d.removeLocked(rec); err != nil {
			return err
		}
		d.evictions.Add(1)
		d.opts.log.Debug("evicted %s from disk: size %d exceeds limit %d", name, size, limit)
		return nil
	}
	if err := d.writeLocked(name, h, val); err != nil {
		return err
	}
	if prev, ok := d.index[name]; ok {
		d.usage -= prev.size
	}
	d.index[name] = &diskRecord{
		name:     name,
		size:     size,
		created:  h.created,
		expires:  h.expires,
		accessed: h.accessed,
	}
	d.usage += size
	d.evictLocked()
	return nil
}

func (d *Disk) writeLocked(name string, h header, val []byte) error {
	tmp := d.fs.Join(d.tempDir(), uuid.NewString())
	f, err := d.fs.Create(tmp)
	if err != nil {
		return ioError(err, "creating temporary file for %s", name)
	}
	cleanup := func() {
		if rerr := d.fs.Remove(tmp); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			d.opts.log.Warn("failed to remove temporary file %s: %s", tmp, rerr)
		}
	}
	if _, err := f.Write(h.marshal()); err != nil {
		_ = f.Close()
		cleanup()
		return ioError(err, "writing header of %s", name)
	}
	if _, err := f.Write(val); err != nil {
		_ = f.Close()
		cleanup()
		return ioError(err, "writing %s", name)
	}
	if s, ok := f.(syncer); ok {
		if err := s.Sync(); err != nil {
			_ = f.Close()
			cleanup()
			return ioError(err, "syncing %s", name)
		}
	}
	if err := f.Close(); err != nil {
		cleanup()
		return ioError(err, "closing %s", name)
	}
	if d.cfg.FileProtection != nil {
		if p, ok := d.fs.(Protector); ok {
			if err := p.Protect(tmp, d.cfg.FileProtection); err != nil {
				cleanup()
				return ioError(err, "protecting %s", name)
			}
		}
	}
	if err := d.fs.Rename(tmp, d.path(name)); err != nil {
		cleanup()
		return ioError(err, "renaming %s into place", name)
	}
	return nil
}

// Get returns the entry for key. An expired entry is deleted and reported as
// absent. A hit rewrites the last accessed time in the header; failing to do
// so is logged and does not fail the read. A corrupt file is deleted and
// reported as ErrCorrupted.
func (d *Disk) Get(ctx context.Context, key string, now time.Time) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	name := FileName(key)

	d.mutex.Lock()
	defer d.mutex.Unlock()
	rec, ok := d.index[name]
	if !ok {
		return Entry{}, false, nil
	}
	data, err := util.ReadFile(d.fs, d.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.forgetLocked(rec)
			return Entry{}, false, nil
		}
		return Entry{}, false, ioError(err, "reading %s", name)
	}
	h, err := parseHeader(data)
	if err != nil {
		d.opts.log.Warn("removing corrupt entry %s: %s", name, err)
		if rerr := d.removeLocked(rec); rerr != nil {
			return Entry{}, false, errors.Join(err, rerr)
		}
		return Entry{}, false, errors.Wrapf(err, "reading %s", name)
	}
	if h.keyCheck != keyCheck(key) {
		return Entry{}, false, nil
	}
	if expiry.IsExpired(h.expires, now) {
		if err := d.removeLocked(rec); err != nil {
			d.opts.log.Warn("failed to remove expired entry %s: %s", name, err)
		}
		return Entry{}, false, nil
	}
	accessed := d.opts.clock.Now()
	if err := d.touchLocked(name, accessed); err != nil {
		d.opts.log.Warn("failed to record access to %s: %s", name, err)
	} else {
		rec.accessed = accessed
	}
	return Entry{
		Value:        data[HeaderSize:],
		Expires:      h.expires,
		Created:      h.created,
		LastAccessed: accessed,
	}, true, nil
}

func (d *Disk) touchLocked(name string, accessed time.Time) error {
	f, err := d.fs.OpenFile(d.path(name), os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if _, err := f.Seek(accessedOffset, io.SeekStart); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(encodeAccessed(accessed)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (d *Disk) forgetLocked(rec *diskRecord) {
	if _, ok := d.index[rec.name]; ok {
		delete(d.index, rec.name)
		d.usage -= rec.size
	}
}

func (d *Disk) removeLocked(rec *diskRecord) error {
	if err := d.fs.Remove(d.path(rec.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioError(err, "removing %s", rec.name)
	}
	d.forgetLocked(rec)
	return nil
}

// evictLocked removes entries by ascending last accessed time, then created
// time, then name, until usage is at or below MaxSizeBytes.
func (d *Disk) evictLocked() {
	limit := int64(d.cfg.MaxSizeBytes)
	if limit <= 0 || d.usage <= limit {
		return
	}
	for _, rec := range d.sortedLocked() {
		if d.usage <= limit {
			return
		}
		if err := d.removeLocked(rec); err != nil {
			d.opts.log.Warn("failed to evict %s: %s", rec.name, err)
			continue
		}
		d.evictions.Add(1)
		d.opts.log.Debug("evicted %s from disk (size %d, usage %d)", rec.name, rec.size, d.usage)
	}
}

func (d *Disk) sortedLocked() []*diskRecord {
	recs := make([]*diskRecord, 0, len(d.index))
	for _, rec := range d.index {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.accessed.Equal(b.accessed) {
			return a.accessed.Before(b.accessed)
		}
		if !a.created.Equal(b.created) {
			return a.created.Before(b.created)
		}
		return a.name < b.name
	})
	return recs
}

// Remove deletes the entry file for key. A missing file is not an error.
func (d *Disk) Remove(_ context.Context, key string) error {
	name := FileName(key)
	d.mutex.Lock()
	defer d.mutex.Unlock()
	rec, ok := d.index[name]
	if !ok {
		rec = &diskRecord{name: name}
	}
	return d.removeLocked(rec)
}

// RemoveAll deletes the namespace directory and recreates it empty.
func (d *Disk) RemoveAll(_ context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := util.RemoveAll(d.fs, d.dir); err != nil {
		return ioError(err, "removing namespace %s", d.dir)
	}
	d.index = make(map[string]*diskRecord)
	d.usage = 0
	return d.prepare()
}

// RemoveExpired deletes every entry expired at now.
func (d *Disk) RemoveExpired(ctx context.Context, now time.Time) error {
	_, err := d.removeWhere(ctx, func(rec *diskRecord) bool { return expiry.IsExpired(rec.expires, now) })
	return err
}

// RemoveSince deletes every entry created at or after since.
func (d *Disk) RemoveSince(ctx context.Context, since time.Time) error {
	_, err := d.removeWhere(ctx, func(rec *diskRecord) bool { return !rec.created.Before(since) })
	return err
}

// RemoveAccessedBefore deletes every entry last accessed before before and
// returns how many were removed.
func (d *Disk) RemoveAccessedBefore(ctx context.Context, before time.Time) (int, error) {
	return d.removeWhere(ctx, func(rec *diskRecord) bool { return rec.accessed.Before(before) })
}

// removeWhere attempts every matching entry, stops early when ctx is done and
// returns the joined errors.
func (d *Disk) removeWhere(ctx context.Context, match func(*diskRecord) bool) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	var errs []error
	var removed int
	for _, rec := range d.sortedLocked() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !match(rec) {
			continue
		}
		if err := d.removeLocked(rec); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Usage returns the summed size of all entry files.
func (d *Disk) Usage() int64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.usage
}

// Capacity returns MaxSizeBytes, zero when unbounded.
func (d *Disk) Capacity() int64 {
	return int64(d.cfg.MaxSizeBytes)
}

// Len returns the number of indexed entries.
func (d *Disk) Len() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.index)
}

// Evictions returns the number of entries removed by the size limit.
func (d *Disk) Evictions() uint64 {
	return d.evictions.Load()
}

func (d *Disk) Close() error {
	return nil
}
