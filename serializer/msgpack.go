package serializer

import (
	"github.com/vmihailenco/msgpack/v5"
)

type msgpackSerializer[T any] struct{}

// Msgpack is the plain structured encoding and the default for warehouses.
// Struct fields must be exported; use `msgpack` tags to control names.
func Msgpack[T any]() Serializer[T] {
	return msgpackSerializer[T]{}
}

func (msgpackSerializer[T]) Encode(v T) ([]byte, error) {
	buf, err := msgpack.Marshal(v)
	if err != nil {
		return nil, encodeError(err, "msgpack")
	}
	return buf, nil
}

func (msgpackSerializer[T]) Decode(data []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, decodeError(err, "msgpack")
	}
	return v, nil
}
