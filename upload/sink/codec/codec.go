// Package codec converts raw chunk payloads into the representation a sink stores.
package codec

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Codec encodes chunk payloads before they reach a sink. Encode never retains src.
type Codec interface {
	// Name identifies the encoding, e.g. as a Content-Encoding value.
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

type identity struct{}

// Identity passes payloads through unchanged (copied, since payload buffers are reused).
var Identity Codec = identity{}

func (identity) Name() string { return "identity" }

func (identity) Encode(src []byte) ([]byte, error) {
	return append([]byte(nil), src...), nil
}

func (identity) Decode(src []byte) ([]byte, error) {
	return append([]byte(nil), src...), nil
}

type base64Codec struct{}

// Base64 is standard padded base64 without line wrapping.
var Base64 Codec = base64Codec{}

func (base64Codec) Name() string { return "base64" }

func (base64Codec) Encode(src []byte) ([]byte, error) {
	dst := make([]byte, base64.StdEncoding.EncodedLen(len(src)))
	base64.StdEncoding.Encode(dst, src)
	return dst, nil
}

func (base64Codec) Decode(src []byte) ([]byte, error) {
	dst := make([]byte, base64.StdEncoding.DecodedLen(len(src)))
	n, err := base64.StdEncoding.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return dst[:n], nil
}

// ZstdCodec compresses every payload as one zstd frame. Safe for concurrent use.
type ZstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstd creates a zstd codec with the given compression level
// (zstd.SpeedFastest .. zstd.SpeedBestCompression).
func NewZstd(level zstd.EncoderLevel) (*ZstdCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	return &ZstdCodec{encoder: encoder, decoder: decoder}, nil
}

// Name ...
func (z *ZstdCodec) Name() string { return "zstd" }

// Encode ...
func (z *ZstdCodec) Encode(src []byte) ([]byte, error) {
	return z.encoder.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decode ...
func (z *ZstdCodec) Decode(src []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress zstd frame: %w", err)
	}
	return out, nil
}

// Close releases the encoder and decoder.
func (z *ZstdCodec) Close() error {
	z.decoder.Close()
	return z.encoder.Close()
}

type chain []Codec

// Chain applies codecs left to right on Encode and right to left on Decode.
func Chain(codecs ...Codec) Codec {
	if len(codecs) == 1 {
		return codecs[0]
	}
	return chain(codecs)
}

func (c chain) Name() string {
	if len(c) == 0 {
		return Identity.Name()
	}
	names := make([]string, 0, len(c))
	for _, codec := range c {
		names = append(names, codec.Name())
	}
	return strings.Join(names, "+")
}

func (c chain) Encode(src []byte) ([]byte, error) {
	if len(c) == 0 {
		return Identity.Encode(src)
	}
	out := src
	for _, codec := range c {
		var err error
		if out, err = codec.Encode(out); err != nil {
			return nil, fmt.Errorf("%s: %w", codec.Name(), err)
		}
	}
	return out, nil
}

func (c chain) Decode(src []byte) ([]byte, error) {
	if len(c) == 0 {
		return Identity.Decode(src)
	}
	out := src
	for i := len(c) - 1; i >= 0; i-- {
		var err error
		if out, err = c[i].Decode(out); err != nil {
			return nil, fmt.Errorf("%s: %w", c[i].Name(), err)
		}
	}
	return out, nil
}
