// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/stride-data/stride/lib/dtype"
)

// quantizeOp is the lossy operator: uniform scalar quantization whose
// reconstruction error is bounded by tolerance·max|x| per block. The
// tolerance parameter is required (ASCII decimal, positive); the
// engine injects element_type from the variable. Only float32 and
// float64 payloads are accepted.
//
// The serialized form is a 24-byte header (element code, constant
// flag, base, step — base and step as little-endian float64 bits)
// followed by one little-endian uint32 level per element. Blocks whose
// values are all identical store just the header. Payloads containing
// NaN or infinity, and tolerances finer than the element precision,
// are declined and pass through raw.
type quantizeOp struct{}

func (quantizeOp) Name() string { return "quantize" }

func (quantizeOp) Lossy() bool { return true }

func (quantizeOp) ElementAware() {}

const quantizeHeaderSize = 24

const (
	quantizeFlagLevels   = 0
	quantizeFlagConstant = 1
)

func quantizeParams(params Params) (tolerance float64, code dtype.Code, err error) {
	raw, ok := params["tolerance"]
	if !ok {
		return 0, 0, fmt.Errorf("quantize requires the tolerance parameter")
	}
	tolerance, err = strconv.ParseFloat(raw, 64)
	if err != nil || !(tolerance > 0) || math.IsInf(tolerance, 0) {
		return 0, 0, fmt.Errorf("quantize tolerance %q is not a positive number", raw)
	}

	typeName, ok := params["element_type"]
	if !ok {
		return 0, 0, fmt.Errorf("quantize requires the element_type parameter")
	}
	code, err = dtype.Parse(typeName)
	if err != nil {
		return 0, 0, err
	}
	if !code.IsFloat() {
		return 0, 0, fmt.Errorf("quantize supports float32 and float64, not %v", code)
	}
	return tolerance, code, nil
}

func (quantizeOp) Apply(src []byte, params Params) ([]byte, error) {
	tolerance, code, err := quantizeParams(params)
	if err != nil {
		return nil, err
	}
	values, err := readFloats(src, code)
	if err != nil {
		return nil, err
	}

	minimum, maximum := math.Inf(1), math.Inf(-1)
	maxAbs := 0.0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrDeclined
		}
		minimum = math.Min(minimum, v)
		maximum = math.Max(maximum, v)
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}

	if len(values) == 0 || minimum == maximum {
		base := 0.0
		if len(values) > 0 {
			base = minimum
		}
		return quantizeHeader(code, quantizeFlagConstant, base, 0), nil
	}

	step := tolerance * maxAbs
	// A step finer than the element's native precision cannot improve
	// on storing the raw values.
	epsilon := math.Ldexp(1, -51)
	if code == dtype.Float32 {
		epsilon = math.Ldexp(1, -22)
	}
	if step < maxAbs*epsilon {
		return nil, ErrDeclined
	}
	if (maximum-minimum)/step >= float64(math.MaxUint32) {
		return nil, ErrDeclined
	}

	out := quantizeHeader(code, quantizeFlagLevels, minimum, step)
	var scratch [4]byte
	for _, v := range values {
		level := uint32(math.Round((v - minimum) / step))
		binary.LittleEndian.PutUint32(scratch[:], level)
		out = append(out, scratch[:]...)
	}
	return out, nil
}

func (quantizeOp) Reverse(src []byte, params Params, origSize int) ([]byte, error) {
	if len(src) < quantizeHeaderSize {
		return nil, fmt.Errorf("quantize payload is %d bytes, header needs %d", len(src), quantizeHeaderSize)
	}
	code := dtype.Code(src[0])
	if !code.IsFloat() {
		return nil, fmt.Errorf("quantize payload has element code %d, expected a float type", src[0])
	}
	flag := src[1]
	base := math.Float64frombits(binary.LittleEndian.Uint64(src[8:16]))
	step := math.Float64frombits(binary.LittleEndian.Uint64(src[16:24]))

	count := origSize / code.Size()
	values := make([]float64, count)
	switch flag {
	case quantizeFlagConstant:
		for i := range values {
			values[i] = base
		}
	case quantizeFlagLevels:
		body := src[quantizeHeaderSize:]
		if len(body) != count*4 {
			return nil, fmt.Errorf("quantize payload has %d level bytes, expected %d", len(body), count*4)
		}
		for i := range values {
			level := binary.LittleEndian.Uint32(body[i*4:])
			values[i] = base + float64(level)*step
		}
	default:
		return nil, fmt.Errorf("quantize payload has unknown flag %d", flag)
	}
	return writeFloats(values, code), nil
}

func quantizeHeader(code dtype.Code, flag byte, base, step float64) []byte {
	header := make([]byte, quantizeHeaderSize)
	header[0] = byte(code)
	header[1] = flag
	binary.LittleEndian.PutUint64(header[8:16], math.Float64bits(base))
	binary.LittleEndian.PutUint64(header[16:24], math.Float64bits(step))
	return header
}

// readFloats widens a native-endian float payload to float64 without
// assuming the slice is aligned for the element type.
func readFloats(src []byte, code dtype.Code) ([]float64, error) {
	size := code.Size()
	if len(src)%size != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of element size %d", len(src), size)
	}
	values := make([]float64, len(src)/size)
	for i := range values {
		if code == dtype.Float32 {
			values[i] = float64(math.Float32frombits(binary.NativeEndian.Uint32(src[i*4:])))
		} else {
			values[i] = math.Float64frombits(binary.NativeEndian.Uint64(src[i*8:]))
		}
	}
	return values, nil
}

func writeFloats(values []float64, code dtype.Code) []byte {
	size := code.Size()
	out := make([]byte, len(values)*size)
	for i, v := range values {
		if code == dtype.Float32 {
			binary.NativeEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		} else {
			binary.NativeEndian.PutUint64(out[i*8:], math.Float64bits(v))
		}
	}
	return out
}
