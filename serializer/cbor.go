package serializer

import (
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	cborOnce sync.Once
	cborEnc  cbor.EncMode
	cborErr  error
)

func cborEncMode() (cbor.EncMode, error) {
	cborOnce.Do(func() {
		cborEnc, cborErr = cbor.CoreDetEncOptions().EncMode()
	})
	return cborEnc, cborErr
}

type cborSerializer[T any] struct{}

// CBOR is the binary archive encoding. It uses the core deterministic mode so
// equal values always produce identical bytes.
func CBOR[T any]() Serializer[T] {
	return cborSerializer[T]{}
}

func (cborSerializer[T]) Encode(v T) ([]byte, error) {
	em, err := cborEncMode()
	if err != nil {
		return nil, encodeError(err, "cbor")
	}
	buf, err := em.Marshal(v)
	if err != nil {
		return nil, encodeError(err, "cbor")
	}
	return buf, nil
}

func (cborSerializer[T]) Decode(data []byte) (T, error) {
	var v T
	if err := cbor.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, decodeError(err, "cbor")
	}
	return v, nil
}
