package serializer

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/cockroachdb/errors"
)

// TagSize is the number of bytes Sealed appends to every payload.
const TagSize = sha256.Size

type sealed[T any] struct {
	inner Serializer[T]
	key   []byte
}

// Sealed wraps inner with an HMAC-SHA256 tag computed with key. Decoding bytes
// that were modified, truncated or sealed with another key fails with both
// ErrDecode and ErrTampered.
func Sealed[T any](inner Serializer[T], key []byte) Serializer[T] {
	if len(key) == 0 {
		panic("serializer: Sealed requires a non-empty key")
	}
	return &sealed[T]{inner: inner, key: append([]byte(nil), key...)}
}

func (s *sealed[T]) tag(data []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return mac.Sum(nil)
}

func (s *sealed[T]) Encode(v T) ([]byte, error) {
	buf, err := s.inner.Encode(v)
	if err != nil {
		return nil, encodeError(err, "sealed")
	}
	return append(buf, s.tag(buf)...), nil
}

func (s *sealed[T]) Decode(data []byte) (T, error) {
	var zero T
	if len(data) < TagSize {
		return zero, errors.Mark(errors.Mark(errors.Newf("serializer: sealed payload too short (%d bytes)", len(data)), ErrTampered), ErrDecode)
	}
	body, sum := data[:len(data)-TagSize], data[len(data)-TagSize:]
	if !hmac.Equal(sum, s.tag(body)) {
		return zero, errors.Mark(errors.Mark(errors.New("serializer: sealed payload tag mismatch"), ErrTampered), ErrDecode)
	}
	v, err := s.inner.Decode(body)
	if err != nil {
		return zero, decodeError(err, "sealed")
	}
	return v, nil
}
