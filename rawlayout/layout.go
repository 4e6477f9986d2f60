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

// Package rawlayout reads hashbrown-style raw hash tables out of a memory
// image of a paused process.
//
// The reader is coupled to the memory layout of the inspected table: the
// offsets of its item count, growth-left, bucket mask, control pointer and
// hash state, the stride of its entries and the encoding of keys and values.
// That coupling is captured in a versioned Layout which is loaded from YAML
// and kept in lockstep with the inspected library.
//
// Entries are stored below the control bytes in reverse slot order: the
// entry of slot i starts at ctrl - (i+1)*stride. Table.Entry hides that
// addressing behind a plain slot index so that the scan in package inspect
// does not depend on it.
package rawlayout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/cpu"
	"gopkg.in/yaml.v3"
)

// ErrInvalidLayout is returned when a Layout fails validation.
var ErrInvalidLayout = errors.New("rawlayout: invalid layout")

// Byte orders accepted in a Layout.
const (
	LittleEndian = "little"
	BigEndian    = "big"
	// NativeEndian selects the byte order of the host, for images captured
	// from a process running on the same machine.
	NativeEndian = "native"
)

// Field locates one word-sized field of the table header.
type Field struct {
	// Path is the expression a debugger uses to reach the field from the
	// table value, e.g. "base.table.table.items".
	Path string `yaml:"path"`
	// Offset is the byte offset of the field from the table address.
	Offset int64 `yaml:"offset"`
}

// StateField locates the opaque hashing state.
type StateField struct {
	Field `yaml:",inline"`
	// Size is the size of the state in bytes.
	Size int64 `yaml:"size"`
}

// Element describes how a key or value is stored inside an entry.
type Element struct {
	// Codec names the element encoding, see Codecs.
	Codec string `yaml:"codec"`
	// Offset is the byte offset of the element within the entry.
	Offset int64 `yaml:"offset"`
	// Path is the debugger expression of the element within an entry
	// tuple, e.g. "__0".
	Path string `yaml:"path"`
}

// EntryLayout describes the (key, value) tuple stored per slot.
type EntryLayout struct {
	// Type is the debugger's name for the entry tuple with $T1 and $T2
	// standing for the key and value types.
	Type   string  `yaml:"type"`
	Stride int64   `yaml:"stride"`
	Key    Element `yaml:"key"`
	Value  Element `yaml:"value"`
}

// Layout is a versioned description of the memory layout of a raw hash
// table.
type Layout struct {
	// Version identifies the inspected library version and target the
	// offsets were taken from.
	Version string `yaml:"version"`
	// Type is the generic type pattern the layout applies to.
	Type string `yaml:"type"`
	// PointerSize is the size of pointers and usize fields: 4 or 8.
	PointerSize int `yaml:"pointer_size"`
	// ByteOrder is one of LittleEndian, BigEndian or NativeEndian.
	ByteOrder string `yaml:"byte_order"`

	Items      Field       `yaml:"items"`
	GrowthLeft Field       `yaml:"growth_left"`
	BucketMask Field       `yaml:"bucket_mask"`
	Ctrl       Field       `yaml:"ctrl"`
	State      StateField  `yaml:"state"`
	Entry      EntryLayout `yaml:"entry"`
}

// DefaultLayout describes std::collections::HashMap<u64, u64> backed by
// hashbrown 0.14 on a 64-bit little endian target. The key and value codecs
// are usually overridden per instantiation.
func DefaultLayout() Layout {
	return Layout{
		Version:     "hashbrown-0.14/x86_64",
		Type:        "std::collections::hash::map::HashMap<*,*,*>",
		PointerSize: 8,
		ByteOrder:   LittleEndian,
		State: StateField{
			Field: Field{Path: "base.hash_builder", Offset: 0},
			Size:  16,
		},
		Ctrl:       Field{Path: "base.table.table.ctrl.pointer", Offset: 16},
		BucketMask: Field{Path: "base.table.table.bucket_mask", Offset: 24},
		GrowthLeft: Field{Path: "base.table.table.growth_left", Offset: 32},
		Items:      Field{Path: "base.table.table.items", Offset: 40},
		Entry: EntryLayout{
			Type:   "tuple$<$T1,$T2>",
			Stride: 16,
			Key:    Element{Codec: "u64", Offset: 0, Path: "__0"},
			Value:  Element{Codec: "u64", Offset: 8, Path: "__1"},
		},
	}
}

// WithElements returns a copy of l whose entries hold the given key and
// value codecs. The value is placed after the key at the alignment of its
// size and the stride is rounded up to the larger alignment.
func (l Layout) WithElements(key, value string) (Layout, error) {
	kc, err := lookupCodec(key)
	if err != nil {
		return Layout{}, err
	}
	vc, err := lookupCodec(value)
	if err != nil {
		return Layout{}, err
	}
	ps := int64(l.PointerSize)
	ksize, kalign := kc.size(ps), kc.align(ps)
	vsize, valign := vc.size(ps), vc.align(ps)

	l.Entry.Key.Codec = key
	l.Entry.Key.Offset = 0
	l.Entry.Value.Codec = value
	l.Entry.Value.Offset = alignUp(ksize, valign)
	l.Entry.Stride = alignUp(l.Entry.Value.Offset+vsize, max(kalign, valign))
	return l, nil
}

// Validate checks that the layout is self-consistent.
func (l Layout) Validate() error {
	if l.PointerSize != 4 && l.PointerSize != 8 {
		return fmt.Errorf("%w: pointer size %d", ErrInvalidLayout, l.PointerSize)
	}
	if _, err := l.order(); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		f    Field
	}{
		{"items", l.Items},
		{"growth_left", l.GrowthLeft},
		{"bucket_mask", l.BucketMask},
		{"ctrl", l.Ctrl},
		{"state", l.State.Field},
	} {
		if f.f.Offset < 0 {
			return fmt.Errorf("%w: %s offset %d", ErrInvalidLayout, f.name, f.f.Offset)
		}
	}
	if l.State.Size < 0 {
		return fmt.Errorf("%w: state size %d", ErrInvalidLayout, l.State.Size)
	}
	if l.Entry.Stride <= 0 {
		return fmt.Errorf("%w: entry stride %d", ErrInvalidLayout, l.Entry.Stride)
	}
	for _, e := range []struct {
		name string
		e    Element
	}{
		{"key", l.Entry.Key},
		{"value", l.Entry.Value},
	} {
		c, err := lookupCodec(e.e.Codec)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidLayout, e.name, err)
		}
		if e.e.Offset < 0 || e.e.Offset+c.size(int64(l.PointerSize)) > l.Entry.Stride {
			return fmt.Errorf("%w: %s %s at offset %d does not fit stride %d",
				ErrInvalidLayout, e.name, e.e.Codec, e.e.Offset, l.Entry.Stride)
		}
	}
	return nil
}

// headerSize returns the number of bytes spanned by the header fields.
func (l Layout) headerSize() int64 {
	ps := int64(l.PointerSize)
	size := l.State.Offset + l.State.Size
	for _, f := range []Field{l.Items, l.GrowthLeft, l.BucketMask, l.Ctrl} {
		size = max(size, f.Offset+ps)
	}
	return size
}

func (l Layout) order() (binary.ByteOrder, error) {
	switch l.ByteOrder {
	case LittleEndian, "":
		return binary.LittleEndian, nil
	case BigEndian:
		return binary.BigEndian, nil
	case NativeEndian:
		if cpu.IsBigEndian {
			return binary.BigEndian, nil
		}
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("%w: byte order %q", ErrInvalidLayout, l.ByteOrder)
	}
}

// LoadLayout decodes and validates a YAML layout description.
func LoadLayout(r io.Reader) (Layout, error) {
	var l Layout
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		return Layout{}, fmt.Errorf("rawlayout: decode layout: %w", err)
	}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Marshal encodes the layout as YAML.
func (l Layout) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}

func alignUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
