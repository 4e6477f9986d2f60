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

// Package swiss is an open-addressing hash map in the style of Swiss Tables
// (https://abseil.io/about/design/swisstables) whose internals can be
// inspected while a program is paused in a debugger or under test.
//
// # Layout
//
// A Map holds N-1 slots where N is a power of 2, and N+groupSize control
// bytes. Each control byte describes one slot: the high bit is set when the
// slot is unoccupied (empty, deleted or the sentinel) and clear when it is
// full, in which case the low 7 bits hold H2, the low bits of hash(key):
//
//	   empty: 1 0 0 0 0 0 0 0
//	 deleted: 1 1 1 1 1 1 1 0
//	    full: 0 h h h h h h h
//	sentinel: 1 1 1 1 1 1 1 1
//
// The control bytes [N:N+groupSize) mirror the first groupSize-1 bytes so a
// probe that starts near the end of the array can read a whole group without
// wrapping. The control byte at index N-1 is always the sentinel.
//
// Probing starts at H1 = hash(key)>>7 and inspects groupSize control bytes at
// a time, comparing all of them against H2 in one 64-bit operation (SWAR).
// Groups are visited in a triangular sequence which reaches every group
// exactly once. A probe for a missing key ends at the first group holding an
// empty slot.
//
// # Deletion
//
// A deleted slot becomes a tombstone (ctrlDeleted) unless it can be shown
// that the slot never belonged to a full group, in which case it is marked
// empty again. Tombstones count against growth-left so a table that fills up
// with tombstones is rehashed in place instead of resized.
//
// # Inspection
//
// Map.Table returns a read-only handle on the item count, growth-left,
// control bytes and slots which satisfies inspect.Table. Map.Inspect and
// Map.String render the map the way a debugger visualizer would.
package swiss

import (
	"fmt"
	"math/bits"
	"math/rand/v2"
	"strings"
	"unsafe"

	"github.com/ribbitbits/swissview/inspect"
)

const (
	debug = false

	groupSize       = 8
	maxAvgGroupLoad = 7

	ctrlEmpty    ctrl = 0b10000000
	ctrlDeleted  ctrl = 0b11111110
	ctrlSentinel ctrl = 0b11111111

	bitsetLSB = 0x0101010101010101
	bitsetMSB = 0x8080808080808080
)

// Slot holds a key and value.
type Slot[K comparable, V any] struct {
	key   K
	value V
}

// Map is an unordered map from keys to values with Put, Get, Delete, and All
// operations. By default a Map[K,V] hashes keys with hash/maphash, though a
// different hash function can be specified using the WithHash option.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	hash func(key *K, seed uintptr) uintptr
	// seed is the per-map hashing state. It is shown as [state] when the map
	// is inspected.
	seed uintptr
	// The allocator to use for the ctrls and slots slices.
	allocator Allocator[K, V]
	// inspectOpts are applied by Inspect ahead of its own options.
	inspectOpts []inspect.Option
	// ctrls is capacity+groupSize in length. When the map has no capacity
	// ctrls points to emptyCtrls which is never modified, so probing never
	// has to check for a nil ctrls.
	ctrls unsafeSlice[ctrl]
	// slots is capacity in length.
	slots unsafeSlice[Slot[K, V]]
	// The total number slots (always 2^N-1). The capacity is used as a mask
	// to quickly compute i%N using a bitwise & operation.
	capacity uintptr
	// The number of filled slots.
	used int
	// The number of slots we can still fill without needing to rehash.
	// Tombstones are not included so that a table full of tombstones is
	// rehashed rather than probed through.
	growthLeft int
}

// New constructs a new Map able to hold initialCapacity entries without
// growing. If initialCapacity is 0 the map starts out with zero capacity and
// grows on the first insert. The zero value for a Map is not usable.
func New[K comparable, V any](initialCapacity int, options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		hash:      defaultHash[K],
		seed:      uintptr(rand.Uint64()),
		allocator: defaultAllocator[K, V]{},
		ctrls:     emptyCtrls,
	}

	for _, op := range options {
		op.apply(m)
	}

	if initialCapacity > 0 {
		targetCapacity := uintptr(groupSize - 1)
		for maxGrowth(targetCapacity) < initialCapacity {
			targetCapacity = 2*targetCapacity + 1
		}
		m.resize(targetCapacity)
	}

	m.checkInvariants()
	return m
}

// Close releases the map's memory back to its configured allocator. It is
// unnecessary to close a map using the default allocator. It is invalid to
// use a Map after it has been closed, though Close itself is idempotent.
func (m *Map[K, V]) Close() {
	if m.capacity > 0 {
		m.allocator.FreeSlots(m.slots.Slice(0, m.capacity))
		m.allocator.FreeControls(unsafeConvertSlice[uint8](m.ctrls.Slice(0, m.capacity+groupSize)))
	}
	m.ctrls = emptyCtrls
	m.slots = unsafeSlice[Slot[K, V]]{}
	m.capacity = 0
	m.used = 0
	m.growthLeft = 0
	m.allocator = nil
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists.
func (m *Map[K, V]) Put(key K, value V) {
	h := m.hash((*K)(noescape(unsafe.Pointer(&key))), m.seed)
	if i, ok := m.find(&key, h); ok {
		m.slots.At(i).value = value
		m.checkInvariants()
		return
	}

	// The table is overcrowded (load factor above 7/8, or full for a table
	// smaller than a group).
	if m.growthLeft == 0 {
		m.rehash()
	}
	m.uncheckedPut(h, key, value)
	m.used++
	m.checkInvariants()
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	h := m.hash((*K)(noescape(unsafe.Pointer(&key))), m.seed)
	if i, ok := m.find(&key, h); ok {
		return m.slots.At(i).value, true
	}
	return value, false
}

// Delete deletes the entry corresponding to the specified key from the map.
// It is a noop to delete a non-existent key.
func (m *Map[K, V]) Delete(key K) {
	h := m.hash((*K)(noescape(unsafe.Pointer(&key))), m.seed)
	i, ok := m.find(&key, h)
	if !ok {
		return
	}

	m.used--
	*m.slots.At(i) = Slot[K, V]{}

	// A slot that never belonged to a full group can be marked empty: any
	// probe passing through it would already have stopped at an empty slot
	// in the same group.
	if m.wasNeverFull(i) {
		m.setCtrl(i, ctrlEmpty)
		m.growthLeft++
		if debug {
			fmt.Printf("delete(%v): index=%d used=%d growth-left=%d\n", key, i, m.used, m.growthLeft)
		}
	} else {
		m.setCtrl(i, ctrlDeleted)
		if debug {
			fmt.Printf("delete(%v): index=%d used=%d tombstone\n", key, i, m.used)
		}
	}
	m.checkInvariants()
}

// Clear deletes all entries from the map, keeping its capacity.
func (m *Map[K, V]) Clear() {
	if m.capacity == 0 {
		return
	}
	for i := uintptr(0); i < m.capacity+groupSize; i++ {
		*m.ctrls.At(i) = ctrlEmpty
	}
	*m.ctrls.At(m.capacity) = ctrlSentinel
	clear(m.slots.Slice(0, m.capacity))
	m.used = 0
	m.growthLeft = maxGrowth(m.capacity)
	m.checkInvariants()
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, iteration stops. The map can be mutated during
// iteration, though there is no guarantee that the mutations will be visible
// to the iteration. All has the signature of an iter.Seq2 so a map can be
// ranged over directly:
//
//	for k, v := range m.All {
//	  fmt.Printf("%v: %v\n", k, v)
//	}
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	// Snapshot the capacity, controls, and slots so that iteration remains
	// valid if the map is resized during iteration.
	capacity := m.capacity
	ctrls := m.ctrls
	slots := m.slots

	for i := uintptr(0); i < capacity; i++ {
		// Full slots have a high bit of zero.
		if *ctrls.At(i)&ctrlEmpty == 0 {
			s := slots.At(i)
			if !yield(s.key, s.value) {
				return
			}
		}
	}
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// find returns the index of the slot holding key.
//
// Starting from h1(hash), each probe group's control bytes are compared
// against h2(hash) and every candidate slot's key is compared with key.
// Tombstones behave like full slots that never match. The probe stops at the
// first group holding an empty slot. With 7 bits of h2 the expected number of
// false positive key comparisons per lookup stays well below one even at
// high load factors.
func (m *Map[K, V]) find(key *K, h uintptr) (uintptr, bool) {
	seq := makeProbeSeq(h1(h), m.capacity)
	if debug {
		fmt.Printf("find(%v): %s\n", *key, seq)
	}

	for ; ; seq = seq.next() {
		g := m.ctrls.At(seq.offset)
		match := g.matchH2(h2(h))
		if debug {
			fmt.Printf("find(probing): offset=%d h2=%02x match=%s [% 02x]\n",
				seq.offset, h2(h), match, m.ctrls.Slice(seq.offset, seq.offset+groupSize))
		}

		for match != 0 {
			bit := match.next()
			i := seq.offsetAt(bit)
			if *key == m.slots.At(i).key {
				return i, true
			}
			match = match.clear(bit)
		}

		if g.matchEmpty() != 0 {
			return 0, false
		}
	}
}

// setCtrl sets the control byte at index i, taking care to mirror the byte to
// the end of the control bytes slice if i<groupSize.
func (m *Map[K, V]) setCtrl(i uintptr, v ctrl) {
	*m.ctrls.At(i) = v
	// The index is the identity for slots in [groupSize-1, capacity), so the
	// mirror write is done unconditionally instead of branching.
	*m.ctrls.At(((i - (groupSize - 1)) & m.capacity) + (groupSize - 1)) = v
}

// wasNeverFull returns true if index i was never part a full group, in which
// case a deleted slot can be marked empty rather than a tombstone.
func (m *Map[K, V]) wasNeverFull(i uintptr) bool {
	if m.capacity < groupSize {
		// The map fits entirely in a single group so we will never probe
		// beyond this group.
		return true
	}

	indexBefore := (i - groupSize) & m.capacity
	emptyAfter := m.ctrls.At(i).matchEmpty()
	emptyBefore := m.ctrls.At(indexBefore).matchEmpty()

	// Count the consecutive non-empty control bytes on either side of i. If
	// together they span at least a group, some probe window containing i
	// may have been full:
	//
	//   00 00 00 80 00 00 00 00  00 00 00 00 80 00 00 00
	//   ^                        ^
	//   indexBefore              i
	//
	// Leading zeros of emptyBefore (divided by 8) give the non-empty bytes
	// immediately left of i, trailing zeros of emptyAfter those starting at i.
	if emptyBefore != 0 && emptyAfter != 0 &&
		((bits.TrailingZeros64(uint64(emptyAfter))>>3)+
			(bits.LeadingZeros64(uint64(emptyBefore))>>3)) < groupSize {
		return true
	}
	return false
}

// uncheckedPut inserts an entry known not to be in the table into the first
// empty or deleted slot of its probe sequence.
func (m *Map[K, V]) uncheckedPut(h uintptr, key K, value V) {
	seq := makeProbeSeq(h1(h), m.capacity)
	for ; ; seq = seq.next() {
		g := m.ctrls.At(seq.offset)
		match := g.matchEmptyOrDeleted()
		if match == 0 {
			continue
		}

		i := seq.offsetAt(match.next())
		slot := m.slots.At(i)
		slot.key = key
		slot.value = value
		if *m.ctrls.At(i) == ctrlEmpty {
			m.growthLeft--
		}
		m.setCtrl(i, ctrl(h2(h)))
		if debug {
			fmt.Printf("put(inserting): index=%d used=%d growth-left=%d\n", i, m.used+1, m.growthLeft)
		}
		return
	}
}

// rehash makes room for at least one more entry, either by dropping
// tombstones in place or by doubling the capacity.
func (m *Map[K, V]) rehash() {
	// Rehash in place if we can recover >= 1/3 of the capacity. In place
	// rehashing is much cheaper than resizing because most entries stay in
	// their current slot.
	recoverable := (m.capacity*maxAvgGroupLoad)/groupSize - uintptr(m.used)
	if m.capacity > groupSize && recoverable >= m.capacity/3 {
		m.rehashInPlace()
	} else {
		m.resize(2*m.capacity + 1)
	}
}

// resize allocates new control bytes and slots of the given capacity and
// reinserts every entry. The old arrays are released to the allocator.
func (m *Map[K, V]) resize(newCapacity uintptr) {
	if (1 + newCapacity) < groupSize {
		newCapacity = groupSize - 1
	}

	oldCtrls, oldSlots, oldCapacity := m.ctrls, m.slots, m.capacity
	m.slots = makeUnsafeSlice(m.allocator.AllocSlots(int(newCapacity)))
	m.ctrls = makeUnsafeSlice(unsafeConvertSlice[ctrl](
		m.allocator.AllocControls(int(newCapacity + groupSize))))
	for i := uintptr(0); i < newCapacity+groupSize; i++ {
		*m.ctrls.At(i) = ctrlEmpty
	}
	*m.ctrls.At(newCapacity) = ctrlSentinel
	m.capacity = newCapacity
	m.growthLeft = maxGrowth(newCapacity)

	if debug {
		fmt.Printf("resize: capacity=%d->%d growth-left=%d\n", oldCapacity, newCapacity, m.growthLeft)
	}

	for i := uintptr(0); i < oldCapacity; i++ {
		if *oldCtrls.At(i)&ctrlEmpty != 0 {
			continue
		}
		slot := oldSlots.At(i)
		h := m.hash(&slot.key, m.seed)
		m.uncheckedPut(h, slot.key, slot.value)
	}

	if oldCapacity > 0 {
		m.allocator.FreeSlots(oldSlots.Slice(0, oldCapacity))
		m.allocator.FreeControls(unsafeConvertSlice[uint8](oldCtrls.Slice(0, oldCapacity+groupSize)))
	}

	m.checkInvariants()
}

// rehashInPlace drops all tombstones without reallocating.
//
// Every DELETED control byte is first marked EMPTY and every FULL one
// DELETED, which drops the tombstones but breaks the probe invariant. The
// DELETED bytes now mark the entries still to be placed. Each is moved to the
// first slot of its probe sequence that is free, swapping with a still
// unplaced entry when necessary. Slots in [0, i) are never marked DELETED
// again so the loop terminates.
func (m *Map[K, V]) rehashInPlace() {
	if m.capacity == 0 {
		// ctrls is the shared emptyCtrls.
		return
	}
	if debug {
		fmt.Printf("rehash: %d/%d\n%s", m.used, m.capacity, m.debugString())
	}

	for i := uintptr(0); i < m.capacity; i += groupSize {
		m.ctrls.At(i).convertNonFullToEmptyAndFullToDeleted()
	}

	// Fixup the mirrored control bytes and the sentinel.
	for i := uintptr(0); i < groupSize-1; i++ {
		*m.ctrls.At(((i - (groupSize - 1)) & m.capacity) + (groupSize - 1)) = *m.ctrls.At(i)
	}
	*m.ctrls.At(m.capacity) = ctrlSentinel

	for i := uintptr(0); i < m.capacity; i++ {
		if *m.ctrls.At(i) != ctrlDeleted {
			continue
		}

		s := m.slots.At(i)
		h := m.hash(&s.key, m.seed)
		seq := makeProbeSeq(h1(h), m.capacity)
		desired := seq

		probeIndex := func(pos uintptr) uintptr {
			return ((pos - desired.offset) & m.capacity) / groupSize
		}

		var target uintptr
		for ; ; seq = seq.next() {
			if match := m.ctrls.At(seq.offset).matchEmptyOrDeleted(); match != 0 {
				target = seq.offsetAt(match.next())
				break
			}
		}

		switch {
		case i == target || probeIndex(i) == probeIndex(target):
			// Already within its first probe group.
			m.setCtrl(i, ctrl(h2(h)))

		case *m.ctrls.At(target) == ctrlEmpty:
			m.setCtrl(target, ctrl(h2(h)))
			*m.slots.At(target) = *s
			*s = Slot[K, V]{}
			m.setCtrl(i, ctrlEmpty)

		case *m.ctrls.At(target) == ctrlDeleted:
			// The target holds an unplaced entry. Swap and reprocess slot i.
			m.setCtrl(target, ctrl(h2(h)))
			t := m.slots.At(target)
			*s, *t = *t, *s
			i--

		default:
			panic(fmt.Sprintf("ctrl at position %d (%02x) should be empty or deleted",
				target, *m.ctrls.At(target)))
		}
	}

	m.growthLeft = maxGrowth(m.capacity) - m.used

	if debug {
		fmt.Printf("rehash: done: used=%d growth-left=%d\n", m.used, m.growthLeft)
	}
	m.checkInvariants()
}

// checkInvariants verifies the mirrored control bytes, the sentinel, the used
// count and the growth-left accounting. It is compiled in with the
// "invariants" build tag.
func (m *Map[K, V]) checkInvariants() {
	if !invariants {
		return
	}
	if m.capacity > 0 {
		for i := uintptr(0); i < groupSize-1; i++ {
			j := ((i - (groupSize - 1)) & m.capacity) + (groupSize - 1)
			ci := *m.ctrls.At(i)
			cj := *m.ctrls.At(j)
			if ci != cj {
				panic(fmt.Sprintf("invariant failed: ctrl(%d)=%02x != ctrl(%d)=%02x\n%s", i, ci, j, cj, m.debugString()))
			}
		}
		if c := *m.ctrls.At(m.capacity); c != ctrlSentinel {
			panic(fmt.Sprintf("invariant failed: ctrl(%d): expected sentinel, but found %02x\n%s", m.capacity, c, m.debugString()))
		}
	}

	var used, deleted int
	for i := uintptr(0); i < m.capacity; i++ {
		switch c := *m.ctrls.At(i); c {
		case ctrlDeleted:
			deleted++
		case ctrlEmpty:
		case ctrlSentinel:
			panic(fmt.Sprintf("invariant failed: ctrl(%d): unexpected sentinel", i))
		default:
			s := m.slots.At(i)
			if _, ok := m.Get(s.key); !ok {
				h := m.hash(&s.key, m.seed)
				panic(fmt.Sprintf("invariant failed: slot(%d): %v not found [h2=%02x h1=%07x]\n%s",
					i, s.key, h2(h), h1(h), m.debugString()))
			}
			used++
		}
	}

	if used != m.used {
		panic(fmt.Sprintf("invariant failed: found %d used slots, but used count is %d\n%s",
			used, m.used, m.debugString()))
	}

	if m.capacity > 0 {
		growthLeft := maxGrowth(m.capacity) - m.used - deleted
		if growthLeft != m.growthLeft {
			panic(fmt.Sprintf("invariant failed: found %d growthLeft, but expected %d\n%s",
				m.growthLeft, growthLeft, m.debugString()))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  growth-left=%d\n", m.capacity, m.used, m.growthLeft)
	if m.capacity == 0 {
		return buf.String()
	}
	for i := uintptr(0); i < m.capacity+groupSize; i++ {
		switch c := *m.ctrls.At(i); c {
		case ctrlEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case ctrlDeleted:
			fmt.Fprintf(&buf, "  %4d: deleted\n", i)
		case ctrlSentinel:
			fmt.Fprintf(&buf, "  %4d: sentinel\n", i)
		default:
			if i < m.capacity {
				fmt.Fprintf(&buf, "  %4d: %v [ctrl=%02x]\n", i, m.slots.At(i).key, c)
			} else {
				fmt.Fprintf(&buf, "  %4d: [ctrl=%02x]\n", i, c)
			}
		}
	}
	return buf.String()
}

// maxGrowth returns the number of entries a table of the given capacity can
// hold before it must grow. Tables that fit in a single group can fill every
// slot but one; larger tables are capped at a 7/8 load factor.
func maxGrowth(capacity uintptr) int {
	if capacity < groupSize {
		return int(capacity) - 1
	}
	return int((capacity * maxAvgGroupLoad) / groupSize)
}

// bitset holds one bit per control byte of a group, in the high bit of the
// corresponding byte.
type bitset uint64

func (b bitset) next() uintptr {
	return uintptr(bits.TrailingZeros64(uint64(b))) >> 3
}

func (b bitset) clear(i uintptr) bitset {
	return b &^ (bitset(0x80) << (i << 3))
}

func (b bitset) String() string {
	var buf strings.Builder
	buf.Grow(groupSize)
	for i := 0; i < groupSize; i++ {
		if (b & (bitset(0x80) << (i << 3))) != 0 {
			buf.WriteString("1")
		} else {
			buf.WriteString("0")
		}
	}
	return buf.String()
}

// ctrl is a control byte. See the package documentation for its states.
type ctrl uint8

var emptyCtrls = func() unsafeSlice[ctrl] {
	v := make([]ctrl, groupSize)
	for i := range v {
		v[i] = ctrlEmpty
	}
	return makeUnsafeSlice(v)
}()

// matchH2 returns a bitset of the control bytes in the group starting at c
// that equal h. It can report false positives when a byte equal to h is
// followed by h+1; the key comparison in find filters those out. False
// positives never occur on empty, deleted or sentinel bytes.
func (c *ctrl) matchH2(h uintptr) bitset {
	v := *(*uint64)((unsafe.Pointer)(c)) ^ (bitsetLSB * uint64(h))
	return bitset(((v - bitsetLSB) &^ v) & bitsetMSB)
}

// matchEmpty returns a bitset where each byte is 0x80 if that control byte
// indicates an empty slot (and 0x00 otherwise).
func (c *ctrl) matchEmpty() bitset {
	// Empty is 1000 0000, deleted and sentinel are 1111 111?. A byte is
	// empty iff bit 7 is set and bit 1 is not.
	v := *(*uint64)((unsafe.Pointer)(c))
	return bitset((v &^ (v << 6)) & bitsetMSB)
}

// matchEmptyOrDeleted returns a bitset where each byte is 0x80 if that
// control byte indicates an empty or deleted slot (and 0x00 otherwise).
func (c *ctrl) matchEmptyOrDeleted() bitset {
	// A byte is empty or deleted iff bit 7 is set and bit 0 is not.
	v := *(*uint64)((unsafe.Pointer)(c))
	return bitset((v &^ (v << 7)) & bitsetMSB)
}

// convertNonFullToEmptyAndFullToDeleted converts deleted or sentinel control
// bytes in a group to empty control bytes, and full control bytes to deleted
// control bytes.
//
//	MSB set (empty, deleted, sentinel):  ^v + (v >> 7) &^ LSB = 1000 0000
//	MSB clear (full):                    ^v + (v >> 7) &^ LSB = 1111 1110
func (c *ctrl) convertNonFullToEmptyAndFullToDeleted() {
	p := (*uint64)((unsafe.Pointer)(c))
	v := *p & bitsetMSB
	*p = (^v + (v >> 7)) &^ bitsetLSB
}

// probeSeq maintains the state for a probe sequence. The sequence is a
// triangular progression of the form
//
//	p(i) := groupSize * (i^2 + i)/2 + hash (mod mask+1)
//
// which visits every group exactly once when the number of groups is a power
// of two, since (i^2+i)/2 is a bijection in Z/(2^m). Offsets wrap at mask+1
// rather than at the end of the mirrored control bytes because the mirrored
// bytes have no slots of their own.
type probeSeq struct {
	mask   uintptr
	offset uintptr
	index  uintptr
}

func makeProbeSeq(hash, mask uintptr) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: hash & mask,
		index:  0,
	}
}

func (s probeSeq) next() probeSeq {
	s.index += groupSize
	s.offset = (s.offset + s.index) & s.mask
	return s
}

func (s probeSeq) offsetAt(i uintptr) uintptr {
	return (s.offset + i) & s.mask
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d index=%d", s.mask, s.offset, s.index)
}

// h1 extracts the probe start of a hash: the upper bits.
func h1(h uintptr) uintptr {
	return h >> 7
}

// h2 extracts the 7 bits of a hash stored in a full control byte.
func h2(h uintptr) uintptr {
	return h & 0x7f
}

// noescape hides a pointer from escape analysis. It is the identity function
// but escape analysis doesn't think the output depends on the input.
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	return unsafeSlice[T]{ptr: unsafe.Pointer(unsafe.SliceData(s))}
}

// At returns a pointer to the element at index i.
func (s unsafeSlice[T]) At(i uintptr) *T {
	var t T
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(t)*i))
}

// Slice returns a Go slice akin to slice[start:end] for a Go builtin slice.
func (s unsafeSlice[T]) Slice(start, end uintptr) []T {
	return unsafe.Slice((*T)(s.ptr), end)[start:end]
}

func unsafeConvertSlice[Dest any, Src any](s []Src) []Dest {
	return unsafe.Slice((*Dest)(unsafe.Pointer(unsafe.SliceData(s))), len(s))
}
