// Package cache provides the storage tiers behind a warehouse: a bounded
// in-process LRU, a persistent one-file-per-key directory, and a hybrid that
// layers the first over the second.
//
// # Store Interface
//
// Every tier implements [Store]. Values are opaque bytes; callers encode and
// decode them (see the serializer package) and compute the absolute
// expiration instant before calling [Store.Set]. A tier never recomputes an
// expiration on read, so there is no sliding expiry.
//
// Absence and expiry look the same to callers: [Store.Get] returns
// found=false and a nil error for both. Expired entries are removed lazily
// when they are read and eagerly by [Store.RemoveExpired].
//
// # Implementations
//
//   - [NewMemory] — a map plus an LRU list guarded by one mutex. Bounded by
//     entry count and total cost (the value length unless
//     [Memory.SetWithCost] says otherwise). Inserting past a limit evicts
//     the least recently used entries.
//
//   - [NewAutoPurgingMemory] — a [Memory] whose cost limit is the memory
//     capacity and which listens on a pressure channel supplied with
//     [WithPressureSignal]. Each signal calls [Memory.Purge], shrinking the
//     tier to the preferred usage.
//
//   - [OpenDisk] — one file per key under <Directory>/<Namespace>. Files are
//     written to a temporary name and renamed into place. A file is a
//     [HeaderSize] byte header followed by the payload. Exceeding
//     MaxSizeBytes evicts the least recently accessed files.
//
//   - [NewHybrid] — memory over disk. Writes go to disk first so a failed
//     disk write leaves no memory copy behind. Reads try memory and promote
//     disk hits. Bulk operations run against both tiers and join the errors.
//
// # Disk Layout
//
// File names are [FileName] of the key: the xxhash64 digest as 16 hex
// digits plus ".entry". The header is little endian:
//
//	offset size field
//	0      4    magic "WHSE"
//	4      2    version (1)
//	6      2    flags
//	8      8    key check (salted xxhash64 of the key)
//	16     8    created, Unix nanoseconds
//	24     8    expires, Unix nanoseconds
//	32     8    last accessed, Unix nanoseconds
//
// [ScanNamespace] reads these headers without opening a [Disk], which is how
// the warehouse command inspects a directory owned by another process.
//
// # Errors
//
// Filesystem failures are marked with [ErrIO] and headers that cannot be
// parsed with [ErrCorrupted]; test for them with errors.Is. Exceeding a
// capacity limit is never an error.
package cache
