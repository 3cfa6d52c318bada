package rdb

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names the optional value-compression scheme applied to snapshot
// records above compressThreshold bytes. This is additive over the plain
// string value type ("0"): with Codec == CodecNone the writer never emits
// anything but "0" records.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// ParseCodec parses a case-sensitive codec name, defaulting to CodecNone.
func ParseCodec(s string) Codec {
	switch Codec(s) {
	case CodecZstd:
		return CodecZstd
	case CodecLZ4:
		return CodecLZ4
	default:
		return CodecNone
	}
}

// compressThreshold is the minimum raw value size, in bytes, before
// compression is attempted; small values rarely shrink and aren't worth the
// codec's per-call overhead.
const compressThreshold = 256

const (
	valueTypeString = "0"
	valueTypeZstd   = "1"
	valueTypeLZ4    = "2"
)

// encodeValue chooses a value-type tag and wire payload for raw, compressing
// it with codec when that shrinks the payload and raw is large enough to be
// worth trying.
func encodeValue(raw []byte, codec Codec) (tag string, payload []byte) {
	if codec == CodecNone || len(raw) < compressThreshold {
		return valueTypeString, raw
	}
	compressed, err := compress(raw, codec)
	if err != nil || len(compressed) >= len(raw) {
		return valueTypeString, raw
	}
	switch codec {
	case CodecZstd:
		return valueTypeZstd, compressed
	case CodecLZ4:
		return valueTypeLZ4, compressed
	default:
		return valueTypeString, raw
	}
}

// decodeValue reverses encodeValue given the value-type tag read from a
// record. An unrecognized tag is a fatal load error.
func decodeValue(tag string, payload []byte) ([]byte, error) {
	switch tag {
	case valueTypeString:
		return payload, nil
	case valueTypeZstd:
		return decompressZstd(payload)
	case valueTypeLZ4:
		return decompressLZ4(payload)
	default:
		return nil, fmt.Errorf("rdb: unsupported value type %q", tag)
	}
}

func compress(raw []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return raw, nil
	}
}

func decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("rdb: zstd decode: %w", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("rdb: zstd decode: %w", err)
	}
	return out, nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("rdb: lz4 decode: %w", err)
	}
	return out, nil
}
