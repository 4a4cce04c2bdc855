package serializer

import (
	"google.golang.org/protobuf/proto"
)

type protoSerializer[T proto.Message] struct {
	newFn func() T
}

// Proto encodes protobuf messages. newFn must return an empty, non-nil message
// to decode into.
func Proto[T proto.Message](newFn func() T) Serializer[T] {
	return protoSerializer[T]{newFn: newFn}
}

func (p protoSerializer[T]) Encode(v T) ([]byte, error) {
	buf, err := proto.MarshalOptions{Deterministic: true}.Marshal(v)
	if err != nil {
		return nil, encodeError(err, "proto")
	}
	return buf, nil
}

func (p protoSerializer[T]) Decode(data []byte) (T, error) {
	msg := p.newFn()
	if err := proto.Unmarshal(data, msg); err != nil {
		var zero T
		return zero, decodeError(err, "proto")
	}
	return msg, nil
}
