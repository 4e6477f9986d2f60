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
	"encoding/hex"
	"fmt"
	"io"
	"math/bits"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ribbitbits/swissview/inspect"
)

const (
	// groupWidth is the number of trailing control bytes past the last
	// bucket. They mirror the leading ones so that a group load starting at
	// any bucket stays in bounds.
	groupWidth = 16
	// pageSize separates the segments of a captured image.
	pageSize = 0x1000

	rawEmpty   = 0xFF
	rawDeleted = 0x80
	// swissDeleted is the tombstone byte of package swiss. It is the only
	// non-full byte that survives a capture as a tombstone.
	swissDeleted = 0xFE
)

// DumpSegment is a Segment with hex-encoded data.
type DumpSegment struct {
	Base uint64 `yaml:"base"`
	Data string `yaml:"data"`
}

// Dump is a self-contained memory image of one raw table together with the
// layout needed to read it.
type Dump struct {
	Layout   Layout        `yaml:"layout"`
	Table    uint64        `yaml:"table"`
	Segments []DumpSegment `yaml:"segments"`
}

// Image decodes the dump's segments.
func (d *Dump) Image() (*Image, error) {
	var im Image
	for _, s := range d.Segments {
		data, err := hex.DecodeString(s.Data)
		if err != nil {
			return nil, fmt.Errorf("rawlayout: segment at %#x: %w", s.Base, err)
		}
		if err := im.Map(s.Base, data); err != nil {
			return nil, err
		}
	}
	return &im, nil
}

// Open decodes the image and opens the table it holds.
func (d *Dump) Open() (*Table, error) {
	im, err := d.Image()
	if err != nil {
		return nil, err
	}
	return Open(im, d.Table, d.Layout)
}

// Write encodes the dump as YAML.
func (d *Dump) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("rawlayout: encode dump: %w", err)
	}
	return enc.Close()
}

// ReadDump decodes a YAML dump and validates its layout.
func ReadDump(r io.Reader) (*Dump, error) {
	var d Dump
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("rawlayout: decode dump: %w", err)
	}
	if err := d.Layout.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Capture lays out the contents of t in raw form according to l, placing
// the table header at base. Every slot of t is read, including the ones
// past its last entry, so tombstones are carried over. The bucket count is
// the smallest power of two that holds every slot of t.
//
// The image holds three segments: the header at base, the entries followed
// by the control bytes, and a heap for out-of-line element data.
func Capture[K, V any](t inspect.Table[K, V], l Layout, base uint64) (*Dump, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	order, err := l.order()
	if err != nil {
		return nil, err
	}
	key, err := lookupCodec(l.Entry.Key.Codec)
	if err != nil {
		return nil, err
	}
	value, err := lookupCodec(l.Entry.Value.Codec)
	if err != nil {
		return nil, err
	}
	h, err := t.Header()
	if err != nil {
		return nil, fmt.Errorf("rawlayout: capture header: %w", err)
	}
	if h.Items < 0 || h.GrowthLeft < 0 || h.Slots < 0 || h.Slots > inspect.DefaultMaxSlots {
		return nil, fmt.Errorf("rawlayout: cannot capture table with items=%d growth-left=%d slots=%d",
			h.Items, h.GrowthLeft, h.Slots)
	}

	buckets := 1
	if h.Slots > 1 {
		buckets = 1 << bits.Len(uint(h.Slots-1))
	}
	stride := uint64(l.Entry.Stride)
	entriesSize := uint64(alignUp(int64(buckets)*l.Entry.Stride, groupWidth))

	headerBase := base
	header := make([]byte, l.headerSize())
	dataBase := headerBase + uint64(alignUp(int64(len(header)), pageSize))
	data := make([]byte, entriesSize+uint64(buckets)+groupWidth)
	ctrl := dataBase + entriesSize
	heapBase := dataBase + uint64(alignUp(int64(len(data)), pageSize))

	var im Image
	if err := im.Map(headerBase, header); err != nil {
		return nil, err
	}
	if err := im.Map(dataBase, data); err != nil {
		return nil, err
	}
	w := &writer{img: &im, order: order, ptrSize: int64(l.PointerSize), heapBase: heapBase}

	ps := int64(l.PointerSize)
	for _, f := range []struct {
		f Field
		v uint64
	}{
		{l.Items, uint64(h.Items)},
		{l.GrowthLeft, uint64(h.GrowthLeft)},
		{l.BucketMask, uint64(buckets - 1)},
		{l.Ctrl, ctrl},
	} {
		if err := w.uint(headerBase+uint64(f.f.Offset), ps, f.v); err != nil {
			return nil, fmt.Errorf("rawlayout: %s: %w", f.f.Path, err)
		}
	}
	if err := writeState(w, headerBase, l.State, h.State); err != nil {
		return nil, err
	}

	ctrlBytes := data[entriesSize:]
	for i := range ctrlBytes {
		ctrlBytes[i] = rawEmpty
	}
	setCtrl := func(i int, b uint8) {
		ctrlBytes[i] = b
		ctrlBytes[((i-groupWidth)&(buckets-1))+groupWidth] = b
	}
	for i := 0; i < h.Slots; i++ {
		b, err := t.Ctrl(i)
		if err != nil {
			return nil, fmt.Errorf("rawlayout: capture ctrl(%d): %w", i, err)
		}
		switch {
		case b == swissDeleted:
			setCtrl(i, rawDeleted)
		case b&rawDeleted != 0:
			// Empty.
		default:
			k, v, err := t.Entry(i)
			if err != nil {
				return nil, fmt.Errorf("rawlayout: capture entry(%d): %w", i, err)
			}
			addr := ctrl - uint64(i+1)*stride
			if err := key.encode(w, addr+uint64(l.Entry.Key.Offset), k); err != nil {
				return nil, fmt.Errorf("rawlayout: capture entry(%d) key: %w", i, err)
			}
			if err := value.encode(w, addr+uint64(l.Entry.Value.Offset), v); err != nil {
				return nil, fmt.Errorf("rawlayout: capture entry(%d) value: %w", i, err)
			}
			setCtrl(i, b)
		}
	}
	if len(w.heap) > 0 {
		if err := im.Map(heapBase, w.heap); err != nil {
			return nil, err
		}
	}

	d := &Dump{Layout: l, Table: headerBase}
	for _, s := range im.Segments() {
		d.Segments = append(d.Segments, DumpSegment{Base: s.Base, Data: hex.EncodeToString(s.Data)})
	}
	return d, nil
}

// writeState stores the whitespace-separated words of state into the state
// field. Missing words are left zero.
func writeState(w *writer, base uint64, f StateField, state string) error {
	words := strings.Fields(state)
	if int64(len(words))*w.ptrSize > f.Size {
		return fmt.Errorf("rawlayout: state %q does not fit %d bytes", state, f.Size)
	}
	for i, word := range words {
		v, err := strconv.ParseUint(word, 0, 64)
		if err != nil {
			return fmt.Errorf("rawlayout: state %q: %w", state, err)
		}
		addr := base + uint64(f.Offset) + uint64(int64(i)*w.ptrSize)
		if err := w.uint(addr, w.ptrSize, v); err != nil {
			return fmt.Errorf("rawlayout: %s: %w", f.Path, err)
		}
	}
	return nil
}
