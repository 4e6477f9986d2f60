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

package natvis

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ribbitbits/swissview/rawlayout"
)

func TestPatternMatch(t *testing.T) {
	p, err := ParsePattern("std::collections::hash::map::HashMap<*,*,*>")
	require.NoError(t, err)
	require.Equal(t, "std::collections::hash::map::HashMap<*,*,*>", p.String())

	testCases := []struct {
		typeName string
		args     []string
		ok       bool
	}{
		{
			typeName: "std::collections::hash::map::HashMap<u64,alloc::string::String,std::hash::random::RandomState>",
			args:     []string{"u64", "alloc::string::String", "std::hash::random::RandomState"},
			ok:       true,
		},
		{
			typeName: "std::collections::hash::map::HashMap<ref$<str$>, tuple$<i32,u8>, RandomState>",
			args:     []string{"ref$<str$>", "tuple$<i32,u8>", "RandomState"},
			ok:       true,
		},
		{
			typeName: "std::collections::hash::map::HashMap<u64, [u8; 4], (u8, u16)>",
			args:     []string{"u64", "[u8; 4]", "(u8, u16)"},
			ok:       true,
		},
		{typeName: "std::collections::hash::map::HashMap<u64,u64>"},
		{typeName: "std::collections::hash::set::HashSet<u64,u64,S>"},
		{typeName: "std::collections::hash::map::HashMap"},
		{typeName: "std::collections::hash::map::HashMap<u64,u64,S"},
	}
	for _, c := range testCases {
		t.Run(c.typeName, func(t *testing.T) {
			args, ok := p.Match(c.typeName)
			require.Equal(t, c.ok, ok)
			require.Equal(t, c.args, args)
		})
	}

	// Fixed arguments must match exactly.
	p, err = ParsePattern("Table<*, u64>")
	require.NoError(t, err)
	args, ok := p.Match("Table<String,u64>")
	require.True(t, ok)
	require.Equal(t, []string{"String"}, args)
	_, ok = p.Match("Table<String,u32>")
	require.False(t, ok)

	p, err = ParsePattern("Plain")
	require.NoError(t, err)
	args, ok = p.Match("Plain")
	require.True(t, ok)
	require.Nil(t, args)
}

func TestParsePatternErrors(t *testing.T) {
	for _, s := range []string{"", "<*>", "Map<*", "Map<*>>", "Map<*,>", "Map<(*>", "Map*>", "a,b"} {
		_, err := ParsePattern(s)
		require.ErrorIs(t, err, ErrPattern, "%q", s)
	}
}

func TestFromLayout(t *testing.T) {
	rule := FromLayout(rawlayout.DefaultLayout())
	const entry = "((tuple$<$T1,$T2>*)base.table.table.ctrl.pointer)[-(i + 1)]"
	expected := Rule{
		Name:    "std::collections::hash::map::HashMap<*,*,*>",
		Display: "len={base.table.table.items}",
		Expand: Expand{
			Items: []Item{
				{"[len]", "base.table.table.items"},
				{"[capacity]", "base.table.table.items + base.table.table.growth_left"},
				{"[state]", "base.hash_builder"},
			},
			List: &CustomList{
				Variables: []Variable{{"i", "0"}, {"n", "base.table.table.items"}},
				Size:      "base.table.table.items",
				Loop: Loop{Steps: []Step{
					If("n == 0 || i > base.table.table.bucket_mask", Break()),
					If("(base.table.table.ctrl.pointer[i] & 0x80) == 0",
						Exec("n--"),
						ItemStep("{"+entry+".__0}", entry+".__1"),
					),
					Exec("i++"),
				}},
			},
		},
	}
	if diff := cmp.Diff(expected, rule); diff != "" {
		t.Fatalf("rule mismatch (-want +got):\n%s", diff)
	}
}

func TestRender(t *testing.T) {
	rule := FromLayout(rawlayout.DefaultLayout())
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, rule))
	out := buf.String()

	require.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))
	require.Contains(t, out, `<AutoVisualizer xmlns="`+Namespace+`">`)
	require.Contains(t, out, `<Type Name="std::collections::hash::map::HashMap&lt;*,*,*&gt;">`)
	require.Contains(t, out, `<DisplayString>len={base.table.table.items}</DisplayString>`)
	require.Contains(t, out, `<If Condition="(base.table.table.ctrl.pointer[i] &amp; 0x80) == 0">`)
	require.Contains(t, out, `<Break></Break>`)
	require.Contains(t, out, `<Exec>i++</Exec>`)

	rules, err := Parse(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff([]Rule{rule}, rules); diff != "" {
		t.Fatalf("parsed rules mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("<AutoVisualizer>"))
	require.Error(t, err)
	_, err = Parse(strings.NewReader(`<Other xmlns="` + Namespace + `"></Other>`))
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	hashMap := FromLayout(rawlayout.DefaultLayout())
	set := hashMap
	set.Name = "hashbrown::set::HashSet<*,*>"
	r, err := NewRegistry(set, hashMap)
	require.NoError(t, err)

	rule, args, ok := r.Lookup("std::collections::hash::map::HashMap<u32,bool,RandomState>")
	require.True(t, ok)
	require.Equal(t, hashMap.Name, rule.Name)
	require.Equal(t, []string{"u32", "bool", "RandomState"}, args)

	rule, _, ok = r.Lookup("hashbrown::set::HashSet<u8,S>")
	require.True(t, ok)
	require.Equal(t, set.Name, rule.Name)

	// A type the registry has no rule for is shown without a visualizer.
	_, _, ok = r.Lookup("alloc::vec::Vec<u8>")
	require.False(t, ok)

	bad := hashMap
	bad.Name = "Map<*"
	_, err = NewRegistry(bad)
	require.ErrorIs(t, err, ErrPattern)
}
