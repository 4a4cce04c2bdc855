package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// HeaderSize is the number of bytes every entry file carries in front of its
// payload. A file's size is always len(payload) + HeaderSize.
const HeaderSize = 40

const (
	headerVersion  uint16 = 1
	accessedOffset        = 32
	entryExt              = ".entry"
	tempDirName           = ".tmp"
	keyCheckSalt          = "warehouse/key-check/v1:"
)

var headerMagic = []byte("WHSE")

// FileName returns the stable file name for key: its xxhash64 digest as 16
// lowercase hex digits followed by ".entry".
func FileName(key string) string {
	return fmt.Sprintf("%016x%s", xxhash.Sum64String(key), entryExt)
}

// keyCheck is a second, salted digest of the key stored in the header so that
// two keys sharing a file name are told apart.
func keyCheck(key string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(keyCheckSalt)
	_, _ = d.WriteString(key)
	return d.Sum64()
}

type header struct {
	flags    uint16
	keyCheck uint64
	created  time.Time
	expires  time.Time
	accessed time.Time
}

func (h header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], headerMagic)
	binary.LittleEndian.PutUint16(buf[4:6], headerVersion)
	binary.LittleEndian.PutUint16(buf[6:8], h.flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.keyCheck)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(encodeTime(h.created)))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(encodeTime(h.expires)))
	binary.LittleEndian.PutUint64(buf[accessedOffset:HeaderSize], uint64(encodeTime(h.accessed)))
	return buf
}

func parseHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, errors.Mark(errors.Newf("header is %d bytes, want %d", len(buf), HeaderSize), ErrCorrupted)
	}
	if !bytes.Equal(buf[0:4], headerMagic) {
		return header{}, errors.Mark(errors.Newf("bad magic %q", buf[0:4]), ErrCorrupted)
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != headerVersion {
		return header{}, errors.Mark(errors.Newf("unsupported header version %d", v), ErrCorrupted)
	}
	return header{
		flags:    binary.LittleEndian.Uint16(buf[6:8]),
		keyCheck: binary.LittleEndian.Uint64(buf[8:16]),
		created:  decodeTime(int64(binary.LittleEndian.Uint64(buf[16:24]))),
		expires:  decodeTime(int64(binary.LittleEndian.Uint64(buf[24:32]))),
		accessed: decodeTime(int64(binary.LittleEndian.Uint64(buf[accessedOffset:HeaderSize]))),
	}, nil
}

var (
	minEncodable = time.Unix(0, math.MinInt64)
	maxEncodable = time.Unix(0, math.MaxInt64)
)

// encodeTime clamps t to the range representable as Unix nanoseconds, so the
// zero time reads back as long expired and anything past 2262 as never.
func encodeTime(t time.Time) int64 {
	switch {
	case t.Before(minEncodable):
		return math.MinInt64
	case t.After(maxEncodable):
		return math.MaxInt64
	}
	return t.UnixNano()
}

func decodeTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func encodeAccessed(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(encodeTime(t)))
	return buf
}
