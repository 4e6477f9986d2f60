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
	"errors"
	"fmt"

	"github.com/ribbitbits/swissview/inspect"
)

// ErrSlotRange is returned by Table when a slot index lies outside the
// map's slot array.
var ErrSlotRange = errors.New("swiss: slot index out of range")

// Table is a read-only view of a Map's internals. It satisfies
// inspect.Table. A Table reads the map's current arrays on every call, so it
// observes mutations made after it was created.
type Table[K comparable, V any] struct {
	m *Map[K, V]
}

// Table returns an introspection handle on the map.
func (m *Map[K, V]) Table() Table[K, V] {
	return Table[K, V]{m: m}
}

// Header returns the item count, growth-left, slot count and seed.
func (t Table[K, V]) Header() (inspect.Header, error) {
	return inspect.Header{
		Items:      t.m.used,
		GrowthLeft: t.m.growthLeft,
		Slots:      int(t.m.capacity),
		State:      fmt.Sprintf("%#x", t.m.seed),
	}, nil
}

// Ctrl returns the control byte of slot i.
func (t Table[K, V]) Ctrl(i int) (uint8, error) {
	if i < 0 || uintptr(i) >= t.m.capacity {
		return 0, fmt.Errorf("%w: ctrl(%d) with %d slots", ErrSlotRange, i, t.m.capacity)
	}
	return uint8(*t.m.ctrls.At(uintptr(i))), nil
}

// Entry returns the key and value stored in slot i. The slot is not checked
// for occupancy.
func (t Table[K, V]) Entry(i int) (key K, value V, err error) {
	if i < 0 || uintptr(i) >= t.m.capacity {
		return key, value, fmt.Errorf("%w: entry(%d) with %d slots", ErrSlotRange, i, t.m.capacity)
	}
	s := t.m.slots.At(uintptr(i))
	return s.key, s.value, nil
}

// Inspect renders the map the way a debugger visualizer shows it.
func (m *Map[K, V]) Inspect(opts ...inspect.Option) (inspect.View[K, V], error) {
	if len(m.inspectOpts) > 0 {
		opts = append(append([]inspect.Option(nil), m.inspectOpts...), opts...)
	}
	return inspect.Inspect[K, V](m.Table(), opts...)
}

// String returns the summary "len=N".
func (m *Map[K, V]) String() string {
	return fmt.Sprintf("len=%d", m.used)
}
