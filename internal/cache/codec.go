package cache

import (
	"encoding/json"

	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
)

// Codec turns cached values into shared-tier payloads and back.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(b []byte) (V, error)
}

// Both are safe for concurrent EncodeAll/DecodeAll use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// JSONZstd encodes values as zstd-compressed JSON.
type JSONZstd[V any] struct{}

// Encode marshals v and compresses the result.
func (JSONZstd[V]) Encode(v V) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "cache: marshal payload")
	}
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode decompresses b and unmarshals it.
func (JSONZstd[V]) Decode(b []byte) (V, error) {
	var v V
	raw, err := zstdDecoder.DecodeAll(b, nil)
	if err != nil {
		return v, eris.Wrap(err, "cache: decompress payload")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, eris.Wrap(err, "cache: unmarshal payload")
	}
	return v, nil
}
