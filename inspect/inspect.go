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

// Package inspect renders open-addressing hash tables for debugging. Given
// read-only access to a table's metadata, its control bytes and its slot
// storage, Inspect produces the summary string "len=N" and an expandable
// listing with the [len], [capacity] and [state] fields followed by one
// "key → value" row per occupied slot.
//
// # Scan
//
// The scan walks the control bytes from slot 0. A slot is occupied when the
// high bit of its control byte is clear; empty and deleted (tombstone) slots
// both have the high bit set. The scan keeps a count of occupied slots still
// to be found, initialized from the table's item count, and stops as soon as
// it reaches zero, so trailing slots are never visited.
//
// The table may be read while it is being mutated, or its memory may be
// corrupt, in which case the item count can be larger than the number of
// occupied slots. The scan is therefore also bounded by the number of slots
// in the table (and by a configurable maximum) so that it always terminates.
// Entries are never fabricated: a short listing is reported through View.Err
// rather than hidden.
//
// Inspect never writes to the table and never calls back into code owned by
// the table. It is single-pass and keeps no state between calls.
package inspect

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultMaxSlots bounds the number of control bytes visited by a single
// Inspect call when the table metadata itself cannot be trusted.
const DefaultMaxSlots = 1 << 24

// ctrlEmpty is the high bit of a control byte. It is set for every slot that
// is not occupied (empty, deleted or a sentinel).
const ctrlEmpty = 0x80

var (
	// ErrInconsistent is recorded in View.Err when fewer occupied slots were
	// found than the table's item count claims.
	ErrInconsistent = errors.New("inspect: inconsistent read")
	// ErrNegativeHeader is recorded in View.Err when the table metadata holds
	// negative counts, which are clamped to zero.
	ErrNegativeHeader = errors.New("inspect: negative header field")
)

// Header is the metadata of an inspected table.
type Header struct {
	// Items is the number of occupied slots.
	Items int
	// GrowthLeft is the number of insertions allowed before the table must
	// be resized or rehashed.
	GrowthLeft int
	// Slots is the length of the control byte array that may hold entries.
	// Zero means unknown, in which case Capacity is used as the scan bound.
	Slots int
	// State is the table's hashing state, shown opaquely.
	State string
}

// Capacity returns Items + GrowthLeft.
func (h Header) Capacity() int {
	return h.Items + h.GrowthLeft
}

// Table is read-only access to a hash table's internals. Implementations
// hide the storage layout of the table: Entry maps a slot index to the
// key/value stored at that slot, wherever the table keeps it.
type Table[K, V any] interface {
	// Header returns the table metadata. An error means the table cannot be
	// inspected at all.
	Header() (Header, error)
	// Ctrl returns the control byte of the given slot.
	Ctrl(slot int) (uint8, error)
	// Entry returns the key and value stored in the given slot. It is only
	// called for slots whose control byte marks them occupied.
	Entry(slot int) (K, V, error)
}

// Option configures an Inspect call.
type Option interface {
	apply(c *config)
}

type config struct {
	logger   *zap.Logger
	maxSlots int
}

type loggerOption struct {
	logger *zap.Logger
}

func (op loggerOption) apply(c *config) {
	c.logger = op.logger
}

// WithLogger is an option to specify the logger used to report inconsistent
// reads. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return loggerOption{logger}
}

type maxSlotsOption int

func (op maxSlotsOption) apply(c *config) {
	c.maxSlots = int(op)
}

// WithMaxSlots is an option to cap the number of slots visited regardless of
// what the table metadata says. Values <= 0 select DefaultMaxSlots.
func WithMaxSlots(n int) Option {
	return maxSlotsOption(n)
}

// Inspect scans t and returns the rendered view. An error is returned only
// when the table header cannot be read; failures during the scan shorten the
// listing and are recorded in View.Err.
func Inspect[K, V any](t Table[K, V], opts ...Option) (View[K, V], error) {
	c := config{
		logger:   zap.NewNop(),
		maxSlots: DefaultMaxSlots,
	}
	for _, op := range opts {
		op.apply(&c)
	}
	if c.maxSlots <= 0 {
		c.maxSlots = DefaultMaxSlots
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	h, err := t.Header()
	if err != nil {
		return View[K, V]{}, fmt.Errorf("inspect: read header: %w", err)
	}

	var v View[K, V]
	if h.Items < 0 || h.GrowthLeft < 0 || h.Slots < 0 {
		v.Err = fmt.Errorf("%w: items=%d growth-left=%d slots=%d",
			ErrNegativeHeader, h.Items, h.GrowthLeft, h.Slots)
		h.Items = max(h.Items, 0)
		h.GrowthLeft = max(h.GrowthLeft, 0)
		h.Slots = max(h.Slots, 0)
	}
	v.Header = h

	limit := scanLimit(h, c.maxSlots)
	remaining := h.Items
	var scanErr error
	i := 0
	for ; remaining > 0 && i < limit; i++ {
		b, err := t.Ctrl(i)
		if err != nil {
			scanErr = fmt.Errorf("inspect: read ctrl(%d): %w", i, err)
			break
		}
		if b&ctrlEmpty != 0 {
			continue
		}
		key, value, err := t.Entry(i)
		if err != nil {
			scanErr = fmt.Errorf("inspect: read entry(%d): %w", i, err)
			break
		}
		remaining--
		v.Entries = append(v.Entries, Entry[K, V]{Slot: i, Key: key, Value: value})
	}
	v.Visited = i

	if remaining > 0 {
		mismatch := fmt.Errorf("%w: found %d of %d items in %d slots",
			ErrInconsistent, len(v.Entries), h.Items, v.Visited)
		v.Err = errors.Join(v.Err, mismatch, scanErr)
		c.logger.Warn("inconsistent table read",
			zap.Int("items", h.Items),
			zap.Int("found", len(v.Entries)),
			zap.Int("visited", v.Visited),
			zap.Int("limit", limit),
			zap.Error(scanErr))
	}
	return v, nil
}

// scanLimit returns the hard ceiling on the number of slots visited.
func scanLimit(h Header, maxSlots int) int {
	limit := h.Slots
	if limit == 0 {
		limit = h.Capacity()
	}
	if limit < 0 || limit > maxSlots {
		// Capacity can overflow on corrupt metadata.
		limit = maxSlots
	}
	return limit
}
