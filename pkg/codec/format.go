// Package codec provides fixed-size binary message formats for the mechOS data plane.
//
// A publisher and its subscribers agree on a Format. Every message on a
// connection is exactly Format.Size() bytes; there is no header, length
// prefix, or topic tag on the wire. One connection carries one topic, so the
// frame size alone delimits messages.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrLength is returned when a message has the wrong number of elements
	ErrLength = errors.New("message has wrong number of elements")
	// ErrFrameSize is returned when a frame is not exactly Size() bytes
	ErrFrameSize = errors.New("frame has wrong size")
	// ErrType is returned when Pack receives a type the format cannot encode
	ErrType = errors.New("unsupported message type")
	// ErrWidth is returned by Validate for a format with no payload bytes
	ErrWidth = errors.New("format size must be positive")
)

// Format encodes and decodes one message shape to a fixed-size frame
type Format interface {
	// Size returns the frame size in bytes
	Size() int

	// Pack encodes msg into a frame of exactly Size() bytes
	Pack(msg any) ([]byte, error)

	// Unpack decodes a frame of exactly Size() bytes
	Unpack(frame []byte) (any, error)
}

// Validate reports whether f can frame messages on a connection. A format
// must be non-nil and have a positive Size.
func Validate(f Format) error {
	if f == nil {
		return errors.New("message format cannot be nil")
	}
	if size := f.Size(); size <= 0 {
		return fmt.Errorf("%w: got %d", ErrWidth, size)
	}
	return nil
}

// byteOrder is the element byte order of every built-in format
var byteOrder = binary.LittleEndian

// FloatArray is a tuple of N 32-bit floats, 4N bytes on the wire
type FloatArray struct {
	n int
}

// NewFloatArray returns a format for n float32 values. n must be positive
// for the format to pass Validate.
func NewFloatArray(n int) *FloatArray {
	return &FloatArray{n: n}
}

// Size returns 4 * n
func (f *FloatArray) Size() int {
	return 4 * f.n
}

// Pack accepts []float32 or []float64 of length n
func (f *FloatArray) Pack(msg any) ([]byte, error) {
	var values []float32
	switch m := msg.(type) {
	case []float32:
		values = m
	case []float64:
		values = make([]float32, len(m))
		for i, v := range m {
			values[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrType, msg)
	}
	if len(values) != f.n {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrLength, f.n, len(values))
	}

	frame := make([]byte, f.Size())
	for i, v := range values {
		byteOrder.PutUint32(frame[4*i:], math.Float32bits(v))
	}
	return frame, nil
}

// Unpack returns a []float32 of length n
func (f *FloatArray) Unpack(frame []byte) (any, error) {
	if len(frame) != f.Size() {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrFrameSize, f.Size(), len(frame))
	}
	values := make([]float32, f.n)
	for i := range values {
		values[i] = math.Float32frombits(byteOrder.Uint32(frame[4*i:]))
	}
	return values, nil
}

// IntArray is a tuple of N 32-bit signed integers, 4N bytes on the wire
type IntArray struct {
	n int
}

// NewIntArray returns a format for n int32 values. n must be positive for
// the format to pass Validate.
func NewIntArray(n int) *IntArray {
	return &IntArray{n: n}
}

// Size returns 4 * n
func (f *IntArray) Size() int {
	return 4 * f.n
}

// Pack accepts []int32 or []int of length n. Values outside the int32 range
// are rejected rather than truncated.
func (f *IntArray) Pack(msg any) ([]byte, error) {
	var values []int32
	switch m := msg.(type) {
	case []int32:
		values = m
	case []int:
		values = make([]int32, len(m))
		for i, v := range m {
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("%w: element %d overflows int32", ErrType, i)
			}
			values[i] = int32(v)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrType, msg)
	}
	if len(values) != f.n {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrLength, f.n, len(values))
	}

	frame := make([]byte, f.Size())
	for i, v := range values {
		byteOrder.PutUint32(frame[4*i:], uint32(v))
	}
	return frame, nil
}

// Unpack returns a []int32 of length n
func (f *IntArray) Unpack(frame []byte) (any, error) {
	if len(frame) != f.Size() {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrFrameSize, f.Size(), len(frame))
	}
	values := make([]int32, f.n)
	for i := range values {
		values[i] = int32(byteOrder.Uint32(frame[4*i:]))
	}
	return values, nil
}

var (
	_ Format = (*FloatArray)(nil)
	_ Format = (*IntArray)(nil)
)
