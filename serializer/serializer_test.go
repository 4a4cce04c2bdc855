package serializer

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type profile struct {
	Name   string         `msgpack:"name" cbor:"name"`
	Tags   []string       `msgpack:"tags" cbor:"tags"`
	Count  int            `msgpack:"count" cbor:"count"`
	Scores map[string]int `msgpack:"scores" cbor:"scores"`
}

func sampleProfiles() []profile {
	return []profile{
		{Name: "a", Tags: []string{"x"}, Count: 1, Scores: map[string]int{"m": 1}},
		{Name: "with unicode ✓", Tags: []string{"one", "two", "three"}, Count: -42, Scores: map[string]int{"a": 1, "b": 2, "c": 3}},
		{Name: "big", Tags: []string{"t"}, Count: 1 << 40, Scores: map[string]int{"z": 0}},
	}
}

func TestRoundTrip(t *testing.T) {
	strategies := map[string]Serializer[profile]{
		"msgpack":        Msgpack[profile](),
		"cbor":           CBOR[profile](),
		"sealed-msgpack": Sealed(Msgpack[profile](), []byte("secret")),
		"sealed-cbor":    Sealed(CBOR[profile](), []byte("secret")),
		"lz4-msgpack":    Compressed(Msgpack[profile](), CompressionLZ4),
		"zstd-cbor":      Compressed(CBOR[profile](), CompressionZstd),
		"sealed-zstd":    Sealed(Compressed(Msgpack[profile](), CompressionZstd), []byte("secret")),
	}
	for name, s := range strategies {
		t.Run(name, func(t *testing.T) {
			for _, v := range sampleProfiles() {
				buf, err := s.Encode(v)
				require.NoError(t, err)
				got, err := s.Decode(buf)
				require.NoError(t, err)
				assert.Equal(t, v, got)
			}
		})
	}
}

func TestStringAndBytes(t *testing.T) {
	buf, err := String().Encode("objectToSave")
	require.NoError(t, err)
	assert.Len(t, buf, len("objectToSave"))
	s, err := String().Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "objectToSave", s)

	orig := []byte{1, 2, 3}
	enc, err := Bytes().Encode(orig)
	require.NoError(t, err)
	orig[0] = 9
	dec, err := Bytes().Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, dec)
}

func TestMsgpackErrors(t *testing.T) {
	_, err := Msgpack[chan int]().Encode(make(chan int))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEncode))
	assert.False(t, errors.Is(err, ErrDecode))

	buf, err := msgpack.Marshal("not a number")
	require.NoError(t, err)
	_, err = Msgpack[int]().Decode(buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestCBORDeterministic(t *testing.T) {
	s := CBOR[map[string]int]()
	v := map[string]int{"b": 2, "a": 1, "c": 3, "d": 4}
	first, err := s.Encode(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.Encode(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	_, err = s.Decode([]byte{0xff, 0x00})
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestSealedDetectsTampering(t *testing.T) {
	s := Sealed(String(), []byte("k1"))
	buf, err := s.Encode("payload")
	require.NoError(t, err)
	assert.Len(t, buf, len("payload")+TagSize)

	flipped := append([]byte(nil), buf...)
	flipped[0] ^= 0x01
	_, err = s.Decode(flipped)
	assert.True(t, errors.Is(err, ErrTampered))
	assert.True(t, errors.Is(err, ErrDecode))

	_, err = s.Decode(buf[:5])
	assert.True(t, errors.Is(err, ErrTampered))

	_, err = Sealed(String(), []byte("k2")).Decode(buf)
	assert.True(t, errors.Is(err, ErrTampered))

	got, err := s.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", got)

	assert.Panics(t, func() { Sealed(String(), nil) })
}

func TestProto(t *testing.T) {
	s := Proto(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	buf, err := s.Encode(wrapperspb.String("hello"))
	require.NoError(t, err)
	got, err := s.Decode(buf)
	require.NoError(t, err)
	assert.True(t, proto.Equal(wrapperspb.String("hello"), got))

	_, err = s.Decode([]byte{0xff})
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestFuncMarksErrors(t *testing.T) {
	boom := errors.New("boom")
	f := Func[int]{
		EncodeFunc: func(int) ([]byte, error) { return nil, boom },
		DecodeFunc: func([]byte) (int, error) { return 0, boom },
	}
	_, err := f.Encode(1)
	assert.True(t, errors.Is(err, ErrEncode))
	assert.True(t, errors.Is(err, boom))
	_, err = f.Decode(nil)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.True(t, errors.Is(err, boom))
}

func TestCompressed(t *testing.T) {
	text := strings.Repeat("warehouse entry ", 512)
	for _, algo := range []Compression{CompressionLZ4, CompressionZstd} {
		t.Run(algo.String(), func(t *testing.T) {
			s := Compressed(String(), algo)
			buf, err := s.Encode(text)
			require.NoError(t, err)
			assert.Equal(t, byte(algo), buf[0])
			assert.Less(t, len(buf), len(text)/4)
			got, err := s.Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, text, got)

			// any configured algorithm reads any stored one
			other, err := Compressed(String(), CompressionNone).Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, text, other)
		})
	}
}

func TestCompressedStoresIncompressibleRaw(t *testing.T) {
	s := Compressed(String(), CompressionZstd)
	buf, err := s.Encode("ab")
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(CompressionNone), 2, 'a', 'b'}, buf)

	buf, err = s.Encode("")
	require.NoError(t, err)
	got, err := s.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestCompressedRejectsCorruptPayloads(t *testing.T) {
	s := Compressed(String(), CompressionZstd)
	buf, err := s.Encode(strings.Repeat("x", 4096))
	require.NoError(t, err)

	for name, data := range map[string][]byte{
		"empty":           nil,
		"missing length":  {byte(CompressionZstd)},
		"unknown algo":    {9, 1, 'x'},
		"truncated body":  buf[:len(buf)/2],
		"wrong length":    append([]byte{byte(CompressionNone), 5}, 'x'),
		"oversized claim": append([]byte{byte(CompressionLZ4)}, 0xff, 0xff, 0xff, 0xff, 0x0f),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Decode(data)
			assert.True(t, errors.Is(err, ErrDecode))
		})
	}

	_, err = Compressed(Func[string]{
		EncodeFunc: func(string) ([]byte, error) { return nil, errors.New("nope") },
	}, CompressionLZ4).Encode("v")
	assert.True(t, errors.Is(err, ErrEncode))
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "LZ4": CompressionLZ4, " zstd ": CompressionZstd} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
	assert.Panics(t, func() { Compressed(String(), Compression(7)) })
}
