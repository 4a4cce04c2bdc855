package cache

import (
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-billy/v5"

	"github.com/agentuity/go-warehouse/expiry"
)

// EntryInfo describes one entry file as found on disk.
type EntryInfo struct {
	Name         string
	Size         int64
	Created      time.Time
	Expires      time.Time
	LastAccessed time.Time
	// Err is set when the file could not be read or its header is corrupt.
	// The time fields are zero in that case.
	Err error
}

// Expired reports whether the entry is expired at now. Unreadable entries
// are never reported as expired.
func (e EntryInfo) Expired(now time.Time) bool {
	return e.Err == nil && expiry.IsExpired(e.Expires, now)
}

// ScanNamespace reads the header of every entry file in dir without opening a
// Disk, so the layout can be inspected by a process that does not own it.
// Entries are sorted by name. Files that do not carry the entry extension and
// the temporary directory are ignored.
func ScanNamespace(fs billy.Filesystem, dir string) ([]EntryInfo, error) {
	infos, err := fs.ReadDir(dir)
	if err != nil {
		return nil, ioError(err, "reading namespace %s", dir)
	}
	entries := make([]EntryInfo, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), entryExt) {
			continue
		}
		info := EntryInfo{Name: fi.Name(), Size: fi.Size()}
		h, err := readHeader(fs, fs.Join(dir, fi.Name()))
		if err != nil {
			info.Err = err
		} else {
			info.Created = h.created
			info.Expires = h.expires
			info.LastAccessed = h.accessed
		}
		entries = append(entries, info)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func readHeader(fs billy.Filesystem, path string) (header, error) {
	f, err := fs.Open(path)
	if err != nil {
		return header{}, ioError(err, "opening %s", path)
	}
	defer f.Close()
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return header{}, errors.Mark(errors.Wrapf(err, "reading header of %s", path), ErrCorrupted)
		}
		return header{}, ioError(err, "reading header of %s", path)
	}
	return parseHeader(buf)
}
