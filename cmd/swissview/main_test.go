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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ribbitbits/swissview/rawlayout"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// run executes the root command with a clean environment and returns its
// standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{"SWISSVIEW_LOG_LEVEL", "SWISSVIEW_LAYOUT", "SWISSVIEW_MAX_SLOTS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("SWISSVIEW_LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestCaptureInspect(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "table.yaml")
	_, err := run(t, "capture", "a=1", "b=2", "c=3", "--delete", "c", "--seed", "0x5eed", "-o", dump)
	require.NoError(t, err)

	out, err := run(t, "inspect", dump)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "len=2\n"), out)
	require.Contains(t, out, "  [len]: 2\n")
	require.Contains(t, out, `  "a" → 1`)
	require.Contains(t, out, `  "b" → 2`)
	require.NotContains(t, out, `"c"`)
	require.NotContains(t, out, "partial")

	out, err = run(t, "inspect", "--strict", dump)
	require.NoError(t, err)
	require.Contains(t, out, "len=2")
}

func TestCaptureStdout(t *testing.T) {
	out, err := run(t, "capture", "x=0x10")
	require.NoError(t, err)
	d, err := rawlayout.ReadDump(strings.NewReader(out))
	require.NoError(t, err)
	tbl, err := d.Open()
	require.NoError(t, err)
	h, err := tbl.Header()
	require.NoError(t, err)
	require.Equal(t, 1, h.Items)
}

func TestInspectPartial(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "table.yaml")
	_, err := run(t, "capture", "a=1", "b=2", "--items", "5", "-o", dump)
	require.NoError(t, err)

	out, err := run(t, "inspect", dump)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "len=5\n"), out)
	require.Contains(t, out, `"a" → 1`)
	require.Contains(t, out, "(partial:")

	out, err = run(t, "inspect", "--strict", dump)
	require.Error(t, err)
	require.Contains(t, out, "(partial:")

	// A small slot budget stops the scan before it reaches every slot.
	_, err = run(t, "inspect", "--strict", "--max-slots", "1", dump)
	require.Error(t, err)
}

func TestCaptureErrors(t *testing.T) {
	_, err := run(t, "capture", "novalue")
	require.ErrorContains(t, err, "expected key=value")

	_, err = run(t, "capture", "a=one")
	require.ErrorContains(t, err, `value of "a"`)

	_, err = run(t, "capture", "a=1", "--key-codec", "u128")
	require.Error(t, err)

	_, err = run(t, "inspect", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNatvis(t *testing.T) {
	out, err := run(t, "natvis")
	require.NoError(t, err)
	require.Contains(t, out, "<AutoVisualizer")
	require.Contains(t, out, "HashMap&lt;*,*,*&gt;")

	path := filepath.Join(t.TempDir(), "map.natvis")
	out, err = run(t, "natvis", "-o", path)
	require.NoError(t, err)
	require.Empty(t, out)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "<AutoVisualizer")
}

func TestLayout(t *testing.T) {
	out, err := run(t, "layout")
	require.NoError(t, err)
	l, err := rawlayout.LoadLayout(strings.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, rawlayout.DefaultLayout(), l)

	out, err = run(t, "layout", "--key-codec", "u32")
	require.NoError(t, err)
	l, err = rawlayout.LoadLayout(strings.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, "u32", l.Entry.Key.Codec)
	require.Equal(t, rawlayout.DefaultLayout().Entry.Value.Codec, l.Entry.Value.Codec)

	// The printed layout is accepted by --layout.
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o644))
	again, err := run(t, "layout", "--layout", path)
	require.NoError(t, err)
	require.Equal(t, out, again)
}
