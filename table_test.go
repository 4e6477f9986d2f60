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

package swiss

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ribbitbits/swissview/inspect"
)

func TestTableHeader(t *testing.T) {
	m := New[string, int](0, WithSeed[string, int](0x5eed))
	h, err := m.Table().Header()
	require.NoError(t, err)
	require.Equal(t, inspect.Header{State: "0x5eed"}, h)

	m.Put("a", 1)
	m.Put("b", 2)
	h, err = m.Table().Header()
	require.NoError(t, err)
	require.Equal(t, inspect.Header{Items: 2, GrowthLeft: 4, Slots: 7, State: "0x5eed"}, h)
	require.Equal(t, 6, h.Capacity())
}

func TestTableCtrl(t *testing.T) {
	m := New[int, int](8)
	tab := m.Table()
	for i := 0; i < 100; i++ {
		m.Put(i, i)
	}
	h, err := tab.Header()
	require.NoError(t, err)
	require.EqualValues(t, m.capacity, h.Slots)

	var full int
	for i := 0; i < h.Slots; i++ {
		c, err := tab.Ctrl(i)
		require.NoError(t, err)
		require.EqualValues(t, *m.ctrls.At(uintptr(i)), c)
		if c&uint8(ctrlEmpty) == 0 {
			full++
			k, v, err := tab.Entry(i)
			require.NoError(t, err)
			require.Equal(t, k, v)
		}
	}
	require.Equal(t, 100, full)

	for _, i := range []int{-1, h.Slots, h.Slots + groupSize} {
		_, err := tab.Ctrl(i)
		require.ErrorIs(t, err, ErrSlotRange)
		_, _, err = tab.Entry(i)
		require.ErrorIs(t, err, ErrSlotRange)
	}
}

func TestMapInspect(t *testing.T) {
	m := New[string, int](0, WithSeed[string, int](0x5eed))
	require.Equal(t, "len=0", m.String())
	v, err := m.Inspect()
	require.NoError(t, err)
	require.Equal(t, "len=0", v.Summary())
	require.Zero(t, v.Visited)

	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)
	m.Delete("c")
	require.Equal(t, "len=2", m.String())

	v, err = m.Inspect()
	require.NoError(t, err)
	require.NoError(t, v.Err)
	got := map[string]int{}
	for _, e := range v.Entries {
		got[e.Key] = e.Value
	}
	require.Equal(t, m.toBuiltinMap(), got)

	fields := v.Fields()
	require.Equal(t, inspect.Field{Name: "[len]", Value: "2"}, fields[0])
	// Deleting from a table that fits in a group restores growth-left.
	require.Equal(t, inspect.Field{Name: "[capacity]", Value: "6"}, fields[1])
	require.Equal(t, inspect.Field{Name: "[state]", Value: "0x5eed"}, fields[2])
}

func TestMapInspectClosed(t *testing.T) {
	m := New[int, int](16)
	m.Put(1, 1)
	m.Close()
	v, err := m.Inspect()
	require.NoError(t, err)
	require.Equal(t, "len=0", v.Summary())
	require.Empty(t, v.Entries)
}

func TestMapInspectOptions(t *testing.T) {
	m := New[int, int](0, WithInspectOptions[int, int](inspect.WithMaxSlots(1)))
	m.Put(1, 1)
	m.Put(2, 2)

	// One slot cannot hold both items.
	v, err := m.Inspect()
	require.NoError(t, err)
	require.ErrorIs(t, v.Err, inspect.ErrInconsistent)
	require.LessOrEqual(t, len(v.Entries), 1)

	// Options passed to Inspect override the map's.
	v, err = m.Inspect(inspect.WithMaxSlots(64))
	require.NoError(t, err)
	require.NoError(t, v.Err)
	require.Len(t, v.Entries, 2)
}
