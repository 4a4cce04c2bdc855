package serializer

import (
	"encoding/binary"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the algorithm used by Compressed.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression reads "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, errors.Newf("unknown compression %q", s)
	}
}

var (
	zstdEncoders sync.Pool
	zstdDecoders sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoders.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoders.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// maxDecompressed bounds the length a payload may claim, so a corrupt prefix
// cannot force a huge allocation.
const maxDecompressed = 1 << 30

type compressed[T any] struct {
	inner Serializer[T]
	algo  Compression
}

// Compressed wraps inner so its output is compressed with algo. Each payload
// starts with the algorithm byte and the uncompressed length as a uvarint.
// Payloads that do not shrink are stored as is, so Decode accepts output of
// any algorithm regardless of the one configured.
func Compressed[T any](inner Serializer[T], algo Compression) Serializer[T] {
	if algo > CompressionZstd {
		panic("serializer: unknown compression")
	}
	return &compressed[T]{inner: inner, algo: algo}
}

func (c *compressed[T]) Encode(v T) ([]byte, error) {
	raw, err := c.inner.Encode(v)
	if err != nil {
		return nil, encodeError(err, "compressed")
	}
	body, err := compress(c.algo, raw)
	if err != nil {
		return nil, encodeError(err, "compressed "+c.algo.String())
	}
	algo := c.algo
	if body == nil || len(body) >= len(raw) {
		algo, body = CompressionNone, raw
	}
	out := make([]byte, 1, 1+binary.MaxVarintLen64+len(body))
	out[0] = byte(algo)
	out = binary.AppendUvarint(out, uint64(len(raw)))
	return append(out, body...), nil
}

func compress(algo Compression, raw []byte) ([]byte, error) {
	switch algo {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil || n == 0 {
			return nil, err
		}
		return buf[:n], nil
	case CompressionZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		defer zstdEncoders.Put(enc)
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, nil
	}
}

func (c *compressed[T]) Decode(data []byte) (T, error) {
	var zero T
	raw, err := decompress(data)
	if err != nil {
		return zero, decodeError(err, "compressed")
	}
	v, err := c.inner.Decode(raw)
	if err != nil {
		return zero, decodeError(err, "compressed")
	}
	return v, nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	algo := Compression(data[0])
	size, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return nil, errors.New("bad length prefix")
	}
	if size > maxDecompressed {
		return nil, errors.Newf("payload claims %d bytes", size)
	}
	body := data[1+n:]
	var out []byte
	switch algo {
	case CompressionNone:
		out = body
	case CompressionLZ4:
		out = make([]byte, size)
		m, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, errors.Wrap(err, "lz4")
		}
		out = out[:m]
	case CompressionZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoders.Put(dec)
		if out, err = dec.DecodeAll(body, make([]byte, 0, size)); err != nil {
			return nil, errors.Wrap(err, "zstd")
		}
	default:
		return nil, errors.Newf("unknown compression %d", algo)
	}
	if uint64(len(out)) != size {
		return nil, errors.Newf("decompressed %d bytes, expected %d", len(out), size)
	}
	return out, nil
}
