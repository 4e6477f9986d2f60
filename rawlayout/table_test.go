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
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ribbitbits/swissview/inspect"
)

const (
	testTableAddr = 0x1000
	testDataAddr  = 0x2000
)

// rawTable describes a hashbrown table of u64 keys and values laid out per
// DefaultLayout. Slots listed in entries are full with H2 0x11. Slots listed
// in ctrl get that byte. All other slots are empty.
type rawTable struct {
	items, growthLeft, mask uint64
	ctrl                    map[int]uint8
	entries                 map[int][2]uint64
}

func (r rawTable) build(t *testing.T) *Image {
	le := binary.LittleEndian
	buckets := int(r.mask) + 1
	ctrl := uint64(testDataAddr + buckets*16)

	header := make([]byte, 48)
	le.PutUint64(header[0:], 0x2a)
	le.PutUint64(header[16:], ctrl)
	le.PutUint64(header[24:], r.mask)
	le.PutUint64(header[32:], r.growthLeft)
	le.PutUint64(header[40:], r.items)

	data := make([]byte, buckets*16+buckets+groupWidth)
	ctrlBytes := data[buckets*16:]
	for i := range ctrlBytes {
		ctrlBytes[i] = rawEmpty
	}
	for i, b := range r.ctrl {
		ctrlBytes[i] = b
	}
	for i, kv := range r.entries {
		ctrlBytes[i] = 0x11
		off := (buckets - i - 1) * 16
		le.PutUint64(data[off:], kv[0])
		le.PutUint64(data[off+8:], kv[1])
	}

	var im Image
	require.NoError(t, im.Map(testTableAddr, header))
	require.NoError(t, im.Map(testDataAddr, data))
	return &im
}

func (r rawTable) open(t *testing.T) *Table {
	tbl, err := Open(r.build(t), testTableAddr, DefaultLayout())
	require.NoError(t, err)
	return tbl
}

type slotEntry struct {
	Slot       int
	Key, Value any
}

func slotEntries(v inspect.View[any, any]) []slotEntry {
	var r []slotEntry
	for _, e := range v.Entries {
		r = append(r, slotEntry{e.Slot, e.Key, e.Value})
	}
	return r
}

func TestTableHeader(t *testing.T) {
	tbl := rawTable{items: 2, growthLeft: 12, mask: 15}.open(t)
	h, err := tbl.Header()
	require.NoError(t, err)
	require.Equal(t, inspect.Header{Items: 2, GrowthLeft: 12, Slots: 16, State: "0x2a 0x0"}, h)

	tbl = rawTable{items: math.MaxUint64, mask: math.MaxUint64}.open(t)
	h, err = tbl.Header()
	require.NoError(t, err)
	require.Equal(t, math.MaxInt, h.Items)
	require.Equal(t, math.MaxInt, h.Slots)
}

func TestTableEntry(t *testing.T) {
	tbl := rawTable{items: 2, growthLeft: 1, mask: 3, entries: map[int][2]uint64{
		0: {10, 100},
		3: {13, 130},
	}}.open(t)

	for slot, kv := range map[int][2]uint64{0: {10, 100}, 3: {13, 130}} {
		b, err := tbl.Ctrl(slot)
		require.NoError(t, err)
		require.EqualValues(t, 0x11, b)
		k, v, err := tbl.Entry(slot)
		require.NoError(t, err)
		require.Equal(t, kv[0], k)
		require.Equal(t, kv[1], v)
	}
	b, err := tbl.Ctrl(1)
	require.NoError(t, err)
	require.EqualValues(t, rawEmpty, b)

	// Slot 4 is past the last bucket. Its entry would lie below the data
	// segment.
	_, _, err = tbl.Entry(4)
	require.ErrorIs(t, err, ErrUnmapped)
	_, _, err = tbl.Entry(-1)
	require.ErrorIs(t, err, ErrUnmapped)
}

func TestEntryAddr(t *testing.T) {
	addr, err := entryAddr(0x100, 0, 16)
	require.NoError(t, err)
	require.EqualValues(t, 0xf0, addr)
	addr, err = entryAddr(0x20, 1, 16)
	require.NoError(t, err)
	require.EqualValues(t, 0, addr)
	_, err = entryAddr(0x10, 1, 16)
	require.ErrorIs(t, err, ErrUnmapped)
	_, err = entryAddr(math.MaxUint64, math.MaxInt, math.MaxInt64)
	require.ErrorIs(t, err, ErrUnmapped)
}

func TestInspectRaw(t *testing.T) {
	testCases := []struct {
		name     string
		table    rawTable
		expected []slotEntry
		visited  int
		err      error
	}{
		{
			name:    "empty",
			table:   rawTable{items: 0, growthLeft: 3, mask: 3},
			visited: 0,
		},
		{
			// The entries lie past items+growth_left but inside the
			// slot array.
			name: "entries past capacity",
			table: rawTable{items: 2, growthLeft: 6, mask: 15, entries: map[int][2]uint64{
				9:  {1, 10},
				12: {2, 20},
			}},
			expected: []slotEntry{{9, uint64(1), uint64(10)}, {12, uint64(2), uint64(20)}},
			visited:  13,
		},
		{
			name: "tombstones",
			table: rawTable{items: 2, growthLeft: 0, mask: 7,
				ctrl:    map[int]uint8{0: rawDeleted, 1: rawDeleted, 4: rawDeleted},
				entries: map[int][2]uint64{2: {7, 70}, 5: {8, 80}},
			},
			expected: []slotEntry{{2, uint64(7), uint64(70)}, {5, uint64(8), uint64(80)}},
			visited:  6,
		},
		{
			name: "stops at last item",
			table: rawTable{items: 1, growthLeft: 5, mask: 7,
				entries: map[int][2]uint64{1: {3, 30}},
				// Garbage past the last item is never read.
				ctrl: map[int]uint8{2: 0x42, 3: 0x42},
			},
			expected: []slotEntry{{1, uint64(3), uint64(30)}},
			visited:  2,
		},
		{
			name: "items too large",
			table: rawTable{items: 5, growthLeft: 0, mask: 7, entries: map[int][2]uint64{
				1: {1, 1},
				6: {6, 6},
			}},
			expected: []slotEntry{{1, uint64(1), uint64(1)}, {6, uint64(6), uint64(6)}},
			visited:  8,
			err:      inspect.ErrInconsistent,
		},
	}
	for _, c := range testCases {
		t.Run(c.name, func(t *testing.T) {
			tbl := c.table.open(t)
			v, err := inspect.Inspect[any, any](tbl)
			require.NoError(t, err)
			if diff := cmp.Diff(c.expected, slotEntries(v)); diff != "" {
				t.Fatalf("entries mismatch (-want +got):\n%s", diff)
			}
			require.Equal(t, c.visited, v.Visited)
			if c.err == nil {
				require.NoError(t, v.Err)
			} else {
				require.ErrorIs(t, v.Err, c.err)
			}
			require.Equal(t, int(c.table.items), v.Items)
			require.Equal(t, int(c.table.items+c.table.growthLeft), v.Capacity())

			// Inspecting again yields the same view.
			again, err := inspect.Inspect[any, any](tbl)
			require.NoError(t, err)
			require.Equal(t, slotEntries(v), slotEntries(again))
		})
	}
}

func TestInspectUnmapped(t *testing.T) {
	r := rawTable{items: 1, growthLeft: 2, mask: 3, entries: map[int][2]uint64{0: {1, 1}}}
	im := r.build(t)

	// A header address with nothing behind it.
	tbl, err := Open(im, 0x8000, DefaultLayout())
	require.NoError(t, err)
	_, err = inspect.Inspect[any, any](tbl)
	require.ErrorIs(t, err, ErrUnmapped)

	// A dangling ctrl pointer. The header is readable but no slot is.
	binary.LittleEndian.PutUint64(im.Segments()[0].Data[16:], 0x9000)
	tbl, err = Open(im, testTableAddr, DefaultLayout())
	require.NoError(t, err)
	v, err := inspect.Inspect[any, any](tbl)
	require.NoError(t, err)
	require.Empty(t, v.Entries)
	require.Equal(t, 0, v.Visited)
	require.ErrorIs(t, v.Err, inspect.ErrInconsistent)
	require.ErrorIs(t, v.Err, ErrUnmapped)
}
