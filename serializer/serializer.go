// Package serializer converts typed values to and from the bytes a cache tier
// stores. The cache never looks inside the bytes; it only requires that
// Decode(Encode(v)) yields a value equal to v.
package serializer

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrEncode marks failures to turn a value into bytes.
	ErrEncode = errors.New("serializer: encode failed")
	// ErrDecode marks stored bytes that could not be turned back into a value,
	// usually a sign the value type or serializer changed since the write.
	ErrDecode = errors.New("serializer: decode failed")
	// ErrTampered marks sealed payloads whose integrity tag does not verify.
	ErrTampered = errors.New("serializer: integrity check failed")
)

// Serializer converts values of type T to bytes and back.
type Serializer[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// Func adapts a pair of functions to the Serializer interface.
type Func[T any] struct {
	EncodeFunc func(T) ([]byte, error)
	DecodeFunc func([]byte) (T, error)
}

var _ Serializer[string] = Func[string]{}

func (f Func[T]) Encode(v T) ([]byte, error) {
	buf, err := f.EncodeFunc(v)
	if err != nil {
		return nil, encodeError(err, "func")
	}
	return buf, nil
}

func (f Func[T]) Decode(data []byte) (T, error) {
	v, err := f.DecodeFunc(data)
	if err != nil {
		var zero T
		return zero, decodeError(err, "func")
	}
	return v, nil
}

func encodeError(err error, name string) error {
	if errors.Is(err, ErrEncode) {
		return err
	}
	return errors.Mark(errors.Wrapf(err, "serializer: %s encode", name), ErrEncode)
}

func decodeError(err error, name string) error {
	if errors.Is(err, ErrDecode) {
		return err
	}
	return errors.Mark(errors.Wrapf(err, "serializer: %s decode", name), ErrDecode)
}

type stringSerializer struct{}

// String stores strings as their UTF-8 bytes.
func String() Serializer[string] {
	return stringSerializer{}
}

func (stringSerializer) Encode(v string) ([]byte, error) {
	return []byte(v), nil
}

func (stringSerializer) Decode(data []byte) (string, error) {
	return string(data), nil
}

type bytesSerializer struct{}

// Bytes stores byte slices unchanged. Both directions copy so callers cannot
// mutate cached data through a returned slice.
func Bytes() Serializer[[]byte] {
	return bytesSerializer{}
}

func (bytesSerializer) Encode(v []byte) ([]byte, error) {
	return append([]byte(nil), v...), nil
}

func (bytesSerializer) Decode(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}
