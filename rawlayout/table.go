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
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/ribbitbits/swissview/inspect"
)

// Table reads one raw hash table out of memory. It implements
// inspect.Table[any, any]. Every method reads memory afresh; nothing is
// cached between calls, so a Table can be reused across debugger refreshes.
type Table struct {
	r      reader
	addr   uint64
	layout Layout
	key    codec
	value  codec
}

var _ inspect.Table[any, any] = (*Table)(nil)

// Open returns a Table for the raw table at addr. It validates the layout
// but reads no memory.
func Open(mem io.ReaderAt, addr uint64, l Layout) (*Table, error) {
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
	return &Table{
		r:      reader{mem: mem, order: order, ptrSize: int64(l.PointerSize)},
		addr:   addr,
		layout: l,
		key:    key,
		value:  value,
	}, nil
}

// Layout returns the layout the table was opened with.
func (t *Table) Layout() Layout {
	return t.layout
}

func (t *Table) field(f Field) (uint64, error) {
	v, err := t.r.word(t.addr + uint64(f.Offset))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", f.Path, err)
	}
	return v, nil
}

// Header reads items, growth_left, bucket_mask and the hash state. The
// number of slots is bucket_mask+1.
func (t *Table) Header() (inspect.Header, error) {
	items, err := t.field(t.layout.Items)
	if err != nil {
		return inspect.Header{}, err
	}
	growthLeft, err := t.field(t.layout.GrowthLeft)
	if err != nil {
		return inspect.Header{}, err
	}
	mask, err := t.field(t.layout.BucketMask)
	if err != nil {
		return inspect.Header{}, err
	}
	state, err := t.state()
	if err != nil {
		return inspect.Header{}, err
	}
	return inspect.Header{
		Items:      toInt(items),
		GrowthLeft: toInt(growthLeft),
		Slots:      slots(mask),
		State:      state,
	}, nil
}

// state renders the hash state as pointer-sized hex words, leaving any
// trailing bytes out.
func (t *Table) state() (string, error) {
	s := t.layout.State
	ps := t.r.ptrSize
	words := make([]string, 0, s.Size/ps)
	for off := int64(0); off+ps <= s.Size; off += ps {
		w, err := t.r.word(t.addr + uint64(s.Offset+off))
		if err != nil {
			return "", fmt.Errorf("%s: %w", s.Path, err)
		}
		words = append(words, fmt.Sprintf("%#x", w))
	}
	return strings.Join(words, " "), nil
}

// Ctrl reads the control byte of slot i.
func (t *Table) Ctrl(i int) (uint8, error) {
	ctrl, err := t.field(t.layout.Ctrl)
	if err != nil {
		return 0, err
	}
	b, err := t.r.uint(ctrl+uint64(i), 1)
	if err != nil {
		return 0, fmt.Errorf("ctrl(%d): %w", i, err)
	}
	return uint8(b), nil
}

// Entry reads the key and value of slot i from ctrl - (i+1)*stride.
func (t *Table) Entry(i int) (key, value any, err error) {
	addr, err := t.entryAddr(i)
	if err != nil {
		return nil, nil, err
	}
	e := t.layout.Entry
	key, err = t.key.decode(t.r, addr+uint64(e.Key.Offset))
	if err != nil {
		return nil, nil, fmt.Errorf("entry(%d) key: %w", i, err)
	}
	value, err = t.value.decode(t.r, addr+uint64(e.Value.Offset))
	if err != nil {
		return nil, nil, fmt.Errorf("entry(%d) value: %w", i, err)
	}
	return key, value, nil
}

func (t *Table) entryAddr(i int) (uint64, error) {
	ctrl, err := t.field(t.layout.Ctrl)
	if err != nil {
		return 0, err
	}
	return entryAddr(ctrl, i, t.layout.Entry.Stride)
}

// entryAddr returns the address of the entry of slot i below ctrl.
func entryAddr(ctrl uint64, i int, stride int64) (uint64, error) {
	if i < 0 {
		return 0, fmt.Errorf("%w: slot %d", ErrUnmapped, i)
	}
	hi, off := mulUint64(uint64(i)+1, uint64(stride))
	if hi != 0 || off > ctrl {
		return 0, fmt.Errorf("%w: entry(%d) below address zero", ErrUnmapped, i)
	}
	return ctrl - off, nil
}

func mulUint64(a, b uint64) (hi, lo uint64) {
	if a != 0 && b > math.MaxUint64/a {
		return 1, 0
	}
	return 0, a * b
}

// slots returns bucket_mask+1, saturating like toInt.
func slots(mask uint64) int {
	if mask >= math.MaxInt {
		return math.MaxInt
	}
	return int(mask) + 1
}

// toInt converts a usize read from memory, saturating at MaxInt so that a
// corrupt value cannot wrap negative.
func toInt(v uint64) int {
	if v > math.MaxInt {
		return math.MaxInt
	}
	return int(v)
}
