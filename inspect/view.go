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

package inspect

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Entry is one occupied slot.
type Entry[K, V any] struct {
	Slot  int
	Key   K
	Value V
}

// String returns the display row "key → value".
func (e Entry[K, V]) String() string {
	return formatValue(e.Key) + " → " + formatValue(e.Value)
}

// View is the rendered result of an Inspect call. It is recomputed on every
// call and holds no reference to the inspected table.
type View[K, V any] struct {
	Header
	// Entries lists the occupied slots in slot order.
	Entries []Entry[K, V]
	// Visited is the number of control bytes read.
	Visited int
	// Err records why the listing may be partial. It is nil when the scan
	// found exactly Items entries from well-formed metadata.
	Err error
}

// Field is one row of the expanded view.
type Field struct {
	Name  string
	Value string
}

// Summary returns the display string "len=N".
func (v View[K, V]) Summary() string {
	return "len=" + strconv.Itoa(v.Items)
}

// Consistent reports whether the number of listed entries matches Items.
func (v View[K, V]) Consistent() bool {
	return len(v.Entries) == v.Items
}

// Fields returns the expanded view: [len], [capacity] and [state] followed
// by one row per entry whose name is the formatted key.
func (v View[K, V]) Fields() []Field {
	fields := make([]Field, 0, 3+len(v.Entries))
	fields = append(fields,
		Field{Name: "[len]", Value: strconv.Itoa(v.Items)},
		Field{Name: "[capacity]", Value: strconv.Itoa(v.Capacity())},
		Field{Name: "[state]", Value: v.State},
	)
	for _, e := range v.Entries {
		fields = append(fields, Field{Name: formatValue(e.Key), Value: formatValue(e.Value)})
	}
	return fields
}

// WriteTo writes the view as an indented tree:
//
//	len=2
//	  [len]: 2
//	  [capacity]: 8
//	  [state]: 0x5eed
//	  "a" → 1
//	  "b" → 2
func (v View[K, V]) WriteTo(w io.Writer) (int64, error) {
	var buf strings.Builder
	buf.WriteString(v.Summary())
	buf.WriteByte('\n')
	for _, f := range v.Fields()[:3] {
		fmt.Fprintf(&buf, "  %s: %s\n", f.Name, f.Value)
	}
	for _, e := range v.Entries {
		fmt.Fprintf(&buf, "  %s\n", e)
	}
	if v.Err != nil {
		fmt.Fprintf(&buf, "  (partial: %v)\n", v.Err)
	}
	n, err := io.WriteString(w, buf.String())
	return int64(n), err
}

func formatValue(x any) string {
	switch t := x.(type) {
	case string:
		return strconv.Quote(t)
	case []byte:
		return strconv.Quote(string(t))
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(x)
	}
}
