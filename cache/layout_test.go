package cache

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/go-warehouse/expiry"
)

func TestHeaderLayout(t *testing.T) {
	h := header{
		flags:    3,
		keyCheck: keyCheck("k"),
		created:  epoch,
		expires:  expiry.DistantFuture,
		accessed: epoch.Add(time.Second),
	}
	buf := h.marshal()
	require.Len(t, buf, HeaderSize)
	assert.Equal(t, "WHSE", string(buf[0:4]))
	assert.Equal(t, []byte{1, 0}, buf[4:6])
	assert.Equal(t, encodeAccessed(h.accessed), buf[accessedOffset:])

	parsed, err := parseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h.flags, parsed.flags)
	assert.Equal(t, h.keyCheck, parsed.keyCheck)
	assert.True(t, parsed.created.Equal(epoch))
	assert.True(t, parsed.expires.Equal(expiry.DistantFuture))
	assert.True(t, parsed.accessed.Equal(epoch.Add(time.Second)))
}

func TestHeaderRejectsGarbage(t *testing.T) {
	good := header{created: epoch, expires: epoch, accessed: epoch}.marshal()

	_, err := parseHeader(good[:HeaderSize-1])
	assert.True(t, errors.Is(err, ErrCorrupted))

	badMagic := append([]byte(nil), good...)
	copy(badMagic, "NOPE")
	_, err = parseHeader(badMagic)
	assert.True(t, errors.Is(err, ErrCorrupted))

	badVersion := append([]byte(nil), good...)
	badVersion[4] = 9
	_, err = parseHeader(badVersion)
	assert.True(t, errors.Is(err, ErrCorrupted))
}

func TestHeaderTimeClamping(t *testing.T) {
	parsed, err := parseHeader(header{expires: time.Time{}}.marshal())
	require.NoError(t, err)
	assert.True(t, expiry.IsExpired(parsed.expires, epoch), "the zero time reads back as expired")

	far := time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
	parsed, err = parseHeader(header{expires: far}.marshal())
	require.NoError(t, err)
	assert.True(t, parsed.expires.Equal(expiry.DistantFuture))
}

func TestKeyCheckDiffersFromFileName(t *testing.T) {
	assert.NotEqual(t, keyCheck("a"), keyCheck("b"))
	assert.Equal(t, keyCheck("a"), keyCheck("a"))
}

func TestScanNamespace(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New()
	clock := NewManualClock(epoch)
	d := openTestDisk(t, fs, DiskConfig{}, WithClock(clock))
	require.NoError(t, d.Set(ctx, "live", []byte("abc"), epoch.Add(time.Hour)))
	require.NoError(t, d.Set(ctx, "stale", []byte("de"), epoch.Add(time.Second)))
	require.NoError(t, util.WriteFile(fs, fs.Join(d.Directory(), "ffffffffffffffff.entry"), []byte("short"), 0o644))

	entries, err := ScanNamespace(fs, d.Directory())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byName := map[string]EntryInfo{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	live := byName[FileName("live")]
	assert.NoError(t, live.Err)
	assert.Equal(t, int64(HeaderSize+3), live.Size)
	assert.False(t, live.Expired(epoch.Add(time.Minute)))
	assert.True(t, byName[FileName("stale")].Expired(epoch.Add(time.Minute)))

	corrupt := byName["ffffffffffffffff.entry"]
	assert.True(t, errors.Is(corrupt.Err, ErrCorrupted))
	assert.False(t, corrupt.Expired(epoch.Add(time.Minute)))

	_, err = ScanNamespace(fs, "nowhere")
	assert.True(t, errors.Is(err, ErrIO))
}
