// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rawlayout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"slices"
	"strconv"
	"unicode/utf8"
)

// maxStringLen bounds string reads so that a corrupt length cannot trigger
// a huge allocation.
const maxStringLen = 1 << 20

var (
	// ErrCorrupt is returned when memory holds a value that its codec
	// cannot represent.
	ErrCorrupt = errors.New("rawlayout: corrupt value")
	// ErrUnknownCodec is returned for a codec name not in Codecs.
	ErrUnknownCodec = errors.New("rawlayout: unknown codec")
)

// Char is a decoded char element. It prints quoted.
type Char rune

func (c Char) String() string {
	return strconv.QuoteRune(rune(c))
}

// codec decodes and encodes one element kind. Its size is fixed bytes plus
// a number of pointer-sized words.
type codec struct {
	fixed  int64
	words  int64
	decode func(r reader, addr uint64) (any, error)
	encode func(w *writer, addr uint64, v any) error
}

func (c codec) size(ptrSize int64) int64 {
	return c.fixed + c.words*ptrSize
}

func (c codec) align(ptrSize int64) int64 {
	if c.words > 0 {
		return ptrSize
	}
	return c.fixed
}

var codecs = map[string]codec{
	"u8":    uintCodec(1, func(v uint64) any { return uint8(v) }),
	"u16":   uintCodec(2, func(v uint64) any { return uint16(v) }),
	"u32":   uintCodec(4, func(v uint64) any { return uint32(v) }),
	"u64":   uintCodec(8, func(v uint64) any { return v }),
	"i8":    uintCodec(1, func(v uint64) any { return int8(v) }),
	"i16":   uintCodec(2, func(v uint64) any { return int16(v) }),
	"i32":   uintCodec(4, func(v uint64) any { return int32(v) }),
	"i64":   uintCodec(8, func(v uint64) any { return int64(v) }),
	"usize": wordCodec(false),
	"isize": wordCodec(true),
	"f32": {
		fixed: 4,
		decode: func(r reader, addr uint64) (any, error) {
			v, err := r.uint(addr, 4)
			return math.Float32frombits(uint32(v)), err
		},
		encode: func(w *writer, addr uint64, v any) error {
			f, err := asFloat(v)
			if err != nil {
				return err
			}
			return w.uint(addr, 4, uint64(math.Float32bits(float32(f))))
		},
	},
	"f64": {
		fixed: 8,
		decode: func(r reader, addr uint64) (any, error) {
			v, err := r.uint(addr, 8)
			return math.Float64frombits(v), err
		},
		encode: func(w *writer, addr uint64, v any) error {
			f, err := asFloat(v)
			if err != nil {
				return err
			}
			return w.uint(addr, 8, math.Float64bits(f))
		},
	},
	"bool": {
		fixed: 1,
		decode: func(r reader, addr uint64) (any, error) {
			v, err := r.uint(addr, 1)
			if err != nil {
				return nil, err
			}
			if v > 1 {
				return nil, fmt.Errorf("%w: bool %#x at %#x", ErrCorrupt, v, addr)
			}
			return v == 1, nil
		},
		encode: func(w *writer, addr uint64, v any) error {
			rv := reflect.ValueOf(v)
			if rv.Kind() != reflect.Bool {
				return fmt.Errorf("rawlayout: cannot encode %T as bool", v)
			}
			var b uint64
			if rv.Bool() {
				b = 1
			}
			return w.uint(addr, 1, b)
		},
	},
	"char": {
		fixed: 4,
		decode: func(r reader, addr uint64) (any, error) {
			v, err := r.uint(addr, 4)
			if err != nil {
				return nil, err
			}
			if !utf8.ValidRune(rune(v)) {
				return nil, fmt.Errorf("%w: char %#x at %#x", ErrCorrupt, v, addr)
			}
			return Char(v), nil
		},
		encode: func(w *writer, addr uint64, v any) error {
			c, err := asUint(v)
			if err != nil {
				return err
			}
			return w.uint(addr, 4, c)
		},
	},
	// str is a fat pointer: data pointer then length.
	"str": {
		words: 2,
		decode: func(r reader, addr uint64) (any, error) {
			return r.string(addr, addr+uint64(r.ptrSize))
		},
		encode: func(w *writer, addr uint64, v any) error {
			return w.string(addr, addr+uint64(w.ptrSize), v)
		},
	},
	// String is a growable buffer: capacity, data pointer, length.
	"String": {
		words: 3,
		decode: func(r reader, addr uint64) (any, error) {
			return r.string(addr+uint64(r.ptrSize), addr+2*uint64(r.ptrSize))
		},
		encode: func(w *writer, addr uint64, v any) error {
			ps := uint64(w.ptrSize)
			if err := w.string(addr+ps, addr+2*ps, v); err != nil {
				return err
			}
			// Capacity equals length.
			return w.uint(addr, w.ptrSize, uint64(reflect.ValueOf(v).Len()))
		},
	},
}

// Codecs returns the names of the supported element codecs.
func Codecs() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func lookupCodec(name string) (codec, error) {
	c, ok := codecs[name]
	if !ok {
		return codec{}, fmt.Errorf("%w %q", ErrUnknownCodec, name)
	}
	return c, nil
}

func uintCodec(size int64, conv func(uint64) any) codec {
	return codec{
		fixed: size,
		decode: func(r reader, addr uint64) (any, error) {
			v, err := r.uint(addr, size)
			if err != nil {
				return nil, err
			}
			return conv(v), nil
		},
		encode: func(w *writer, addr uint64, v any) error {
			u, err := asUint(v)
			if err != nil {
				return err
			}
			return w.uint(addr, size, u)
		},
	}
}

func wordCodec(signed bool) codec {
	return codec{
		words: 1,
		decode: func(r reader, addr uint64) (any, error) {
			v, err := r.word(addr)
			if err != nil {
				return nil, err
			}
			if !signed {
				return v, nil
			}
			if r.ptrSize == 4 {
				return int64(int32(v)), nil
			}
			return int64(v), nil
		},
		encode: func(w *writer, addr uint64, v any) error {
			u, err := asUint(v)
			if err != nil {
				return err
			}
			return w.uint(addr, w.ptrSize, u)
		},
	}
}

// reader decodes values from a memory image.
type reader struct {
	mem     io.ReaderAt
	order   binary.ByteOrder
	ptrSize int64
}

func (r reader) bytes(addr uint64, n int64) ([]byte, error) {
	if addr > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
	}
	buf := make([]byte, n)
	m, err := r.mem.ReadAt(buf, int64(addr))
	if m == len(buf) {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = ErrUnmapped
	}
	return nil, fmt.Errorf("read %d bytes at %#x: %w", n, addr, err)
}

func (r reader) uint(addr uint64, size int64) (uint64, error) {
	b, err := r.bytes(addr, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(r.order.Uint16(b)), nil
	case 4:
		return uint64(r.order.Uint32(b)), nil
	case 8:
		return r.order.Uint64(b), nil
	default:
		return 0, fmt.Errorf("rawlayout: unsupported integer size %d", size)
	}
}

func (r reader) word(addr uint64) (uint64, error) {
	return r.uint(addr, r.ptrSize)
}

func (r reader) string(ptrAddr, lenAddr uint64) (any, error) {
	ptr, err := r.word(ptrAddr)
	if err != nil {
		return nil, err
	}
	n, err := r.word(lenAddr)
	if err != nil {
		return nil, err
	}
	if n > maxStringLen {
		return nil, fmt.Errorf("%w: string length %d at %#x", ErrCorrupt, n, lenAddr)
	}
	if n == 0 {
		return "", nil
	}
	b, err := r.bytes(ptr, int64(n))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// writer encodes values into an image. Out-of-line data such as string
// bytes is appended to a heap that starts at heapBase and is mapped once
// the capture is complete.
type writer struct {
	img      *Image
	order    binary.ByteOrder
	ptrSize  int64
	heapBase uint64
	heap     []byte
}

func (w *writer) uint(addr uint64, size int64, v uint64) error {
	b := make([]byte, size)
	switch size {
	case 1:
		b[0] = uint8(v)
	case 2:
		w.order.PutUint16(b, uint16(v))
	case 4:
		w.order.PutUint32(b, uint32(v))
	case 8:
		w.order.PutUint64(b, v)
	default:
		return fmt.Errorf("rawlayout: unsupported integer size %d", size)
	}
	_, err := w.img.WriteAt(b, int64(addr))
	return err
}

func (w *writer) alloc(b []byte) uint64 {
	addr := w.heapBase + uint64(len(w.heap))
	w.heap = append(w.heap, b...)
	return addr
}

func (w *writer) string(ptrAddr, lenAddr uint64, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.String {
		return fmt.Errorf("rawlayout: cannot encode %T as a string", v)
	}
	s := rv.String()
	if err := w.uint(ptrAddr, w.ptrSize, w.alloc([]byte(s))); err != nil {
		return err
	}
	return w.uint(lenAddr, w.ptrSize, uint64(len(s)))
}

func asUint(v any) (uint64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	default:
		return 0, fmt.Errorf("rawlayout: cannot encode %T as an integer", v)
	}
}

func asFloat(v any) (float64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	default:
		u, err := asUint(v)
		if err != nil {
			return 0, fmt.Errorf("rawlayout: cannot encode %T as a float", v)
		}
		return float64(int64(u)), nil
	}
}
