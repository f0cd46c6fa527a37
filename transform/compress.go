// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Zstd: the default ratio-oriented lossless operator. The "level"
// parameter selects fastest, default, better, or best.

type zstdOp struct{}

func (zstdOp) Name() string { return "zstd" }

// zstd encoders are expensive to build and safe for concurrent use, so
// one is cached per level. The decoder is level-independent.
var (
	zstdMu       sync.Mutex
	zstdEncoders = make(map[zstd.EncoderLevel]*zstd.Encoder)
	zstdDecoder  *zstd.Decoder
)

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transform: zstd decoder initialization failed: " + err.Error())
	}
}

func zstdEncoderFor(level zstd.EncoderLevel) (*zstd.Encoder, error) {
	zstdMu.Lock()
	defer zstdMu.Unlock()
	if enc, ok := zstdEncoders[level]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder for level %v: %w", level, err)
	}
	zstdEncoders[level] = enc
	return enc, nil
}

func zstdLevel(params Params) (zstd.EncoderLevel, error) {
	switch params["level"] {
	case "", "default":
		return zstd.SpeedDefault, nil
	case "fastest":
		return zstd.SpeedFastest, nil
	case "better":
		return zstd.SpeedBetterCompression, nil
	case "best":
		return zstd.SpeedBestCompression, nil
	default:
		return 0, fmt.Errorf("unknown zstd level %q", params["level"])
	}
}

func (zstdOp) Apply(src []byte, params Params) ([]byte, error) {
	level, err := zstdLevel(params)
	if err != nil {
		return nil, err
	}
	enc, err := zstdEncoderFor(level)
	if err != nil {
		return nil, err
	}
	compressed := enc.EncodeAll(src, nil)
	if len(compressed) >= len(src) {
		return nil, ErrDeclined
	}
	return compressed, nil
}

func (zstdOp) Reverse(src []byte, _ Params, origSize int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(src, make([]byte, 0, origSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != origSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), origSize)
	}
	return result, nil
}

// LZ4: block-mode LZ4 for speed-oriented lossless chains.

type lz4Op struct{}

func (lz4Op) Name() string { return "lz4" }

func (lz4Op) Apply(src []byte, _ Params) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(src))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(src, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 when it determines the data is
	// incompressible; also decline when the output is not smaller.
	if written == 0 || written >= len(src) {
		return nil, ErrDeclined
	}
	return destination[:written], nil
}

func (lz4Op) Reverse(src []byte, _ Params, origSize int) ([]byte, error) {
	destination := make([]byte, origSize)
	read, err := lz4.UncompressBlock(src, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != origSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, origSize)
	}
	return destination, nil
}

// Snappy: block-mode snappy, the cheapest lossless option.

type snappyOp struct{}

func (snappyOp) Name() string { return "snappy" }

func (snappyOp) Apply(src []byte, _ Params) ([]byte, error) {
	compressed := snappy.Encode(nil, src)
	if len(compressed) >= len(src) {
		return nil, ErrDeclined
	}
	return compressed, nil
}

func (snappyOp) Reverse(src []byte, _ Params, origSize int) ([]byte, error) {
	result, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	if len(result) != origSize {
		return nil, fmt.Errorf("snappy decompress: got %d bytes, expected %d", len(result), origSize)
	}
	return result, nil
}
