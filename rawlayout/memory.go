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
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnmapped is returned for reads and writes outside every segment of
	// an image.
	ErrUnmapped = errors.New("rawlayout: address not mapped")
	// ErrOverlap is returned when mapping a segment over another one.
	ErrOverlap = errors.New("rawlayout: overlapping segment")
)

// Segment is a contiguous range of memory starting at Base.
type Segment struct {
	Base uint64
	Data []byte
}

func (s Segment) end() uint64 {
	return s.Base + uint64(len(s.Data))
}

// Image is a sparse memory image made of non-overlapping segments. It
// implements io.ReaderAt and io.WriterAt with offsets interpreted as
// absolute addresses. An access must fall entirely inside one segment.
type Image struct {
	// segments is sorted by Base.
	segments []Segment
}

// Map adds a segment to the image. The data is not copied.
func (im *Image) Map(base uint64, data []byte) error {
	s := Segment{Base: base, Data: data}
	if s.end() < base {
		return fmt.Errorf("%w: segment at %#x wraps", ErrOverlap, base)
	}
	i := sort.Search(len(im.segments), func(i int) bool {
		return im.segments[i].Base >= base
	})
	if i > 0 && im.segments[i-1].end() > base {
		return fmt.Errorf("%w: %#x inside segment at %#x", ErrOverlap, base, im.segments[i-1].Base)
	}
	if i < len(im.segments) && s.end() > im.segments[i].Base {
		return fmt.Errorf("%w: segment at %#x runs into %#x", ErrOverlap, base, im.segments[i].Base)
	}
	im.segments = append(im.segments, Segment{})
	copy(im.segments[i+1:], im.segments[i:])
	im.segments[i] = s
	return nil
}

// Segments returns the image's segments in address order.
func (im *Image) Segments() []Segment {
	return im.segments
}

// find returns the bytes backing [addr, addr+n).
func (im *Image) find(addr uint64, n int) ([]byte, error) {
	i := sort.Search(len(im.segments), func(i int) bool {
		return im.segments[i].end() > addr
	})
	if i == len(im.segments) || im.segments[i].Base > addr {
		return nil, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
	}
	s := im.segments[i]
	off := addr - s.Base
	if uint64(n) > uint64(len(s.Data))-off {
		return nil, fmt.Errorf("%w: %#x+%d crosses end of segment at %#x", ErrUnmapped, addr, n, s.Base)
	}
	return s.Data[off : off+uint64(n)], nil
}

// ReadAt implements io.ReaderAt.
func (im *Image) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative address %d", ErrUnmapped, off)
	}
	b, err := im.find(uint64(off), len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, b), nil
}

// WriteAt implements io.WriterAt.
func (im *Image) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative address %d", ErrUnmapped, off)
	}
	b, err := im.find(uint64(off), len(p))
	if err != nil {
		return 0, err
	}
	return copy(b, p), nil
}
