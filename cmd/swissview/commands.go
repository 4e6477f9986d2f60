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
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	swiss "github.com/ribbitbits/swissview"
	"github.com/ribbitbits/swissview/inspect"
	"github.com/ribbitbits/swissview/natvis"
	"github.com/ribbitbits/swissview/rawlayout"
)

func newInspectCmd(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "inspect <dump.yaml>",
		Short: "Render the table held by a dump",
		Long: `Render the table held by a dump. An inconsistent table is rendered
with the entries that could be found, followed by the reason the listing
is partial. Use --layout to read the dump with a different layout than
the one it was captured with.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			d, err := rawlayout.ReadDump(f)
			if err != nil {
				return err
			}
			l, ok, err := a.loadLayout()
			if err != nil {
				return err
			}
			if ok {
				d.Layout = l
			}
			tbl, err := d.Open()
			if err != nil {
				return err
			}

			v, err := inspect.Inspect[any, any](tbl,
				inspect.WithLogger(a.logger),
				inspect.WithMaxSlots(a.cfg.MaxSlots))
			if err != nil {
				return err
			}
			a.logger.Debug("inspected table",
				zap.String("dump", args[0]),
				zap.String("layout", d.Layout.Version),
				zap.Int("items", v.Items),
				zap.Int("visited", v.Visited))
			if _, err := v.WriteTo(cmd.OutOrStdout()); err != nil {
				return err
			}
			if strict && v.Err != nil {
				return v.Err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when the listing is partial")
	return cmd
}

// corrupted reports a different item count than its table holds.
type corrupted[K, V any] struct {
	inspect.Table[K, V]
	items int
}

func (c corrupted[K, V]) Header() (inspect.Header, error) {
	h, err := c.Table.Header()
	h.Items = c.items
	return h, err
}

func newCaptureCmd(a *app) *cobra.Command {
	var (
		out        string
		keyCodec   string
		valueCodec string
		deletes    []string
		items      int
		base       uint64
		seed       uint64
	)
	cmd := &cobra.Command{
		Use:   "capture [key=value ...]",
		Short: "Capture a map built from key=value pairs into a dump",
		Long: `Build a map of string keys and int64 values from key=value pairs and
capture it into a dump laid out as a raw hash table. Deleting keys after
insertion leaves tombstones in the dump. --items overrides the recorded
item count to produce an inconsistent table.`,
		Example: `  swissview capture a=1 b=2 --seed 0x5eed -o table.yaml
  swissview inspect table.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := swiss.New[string, int64](len(args))
			if cmd.Flags().Changed("seed") {
				m = swiss.New[string, int64](len(args), swiss.WithSeed[string, int64](uintptr(seed)))
			}
			defer m.Close()
			for _, arg := range args {
				k, v, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				n, err := strconv.ParseInt(v, 0, 64)
				if err != nil {
					return fmt.Errorf("value of %q: %w", k, err)
				}
				m.Put(k, n)
			}
			for _, k := range deletes {
				m.Delete(k)
			}

			l, ok, err := a.loadLayout()
			if err != nil {
				return err
			}
			if !ok {
				l = rawlayout.DefaultLayout()
			}
			if !ok || cmd.Flags().Changed("key-codec") || cmd.Flags().Changed("value-codec") {
				if l, err = l.WithElements(keyCodec, valueCodec); err != nil {
					return err
				}
			}

			var t inspect.Table[string, int64] = m.Table()
			if cmd.Flags().Changed("items") {
				t = corrupted[string, int64]{Table: t, items: items}
			}
			d, err := rawlayout.Capture(t, l, base)
			if err != nil {
				return err
			}
			a.logger.Info("captured table",
				zap.Int("items", m.Len()),
				zap.Uint64("table", d.Table),
				zap.Int("segments", len(d.Segments)))

			w, closeOut, err := output(cmd.OutOrStdout(), out)
			if err != nil {
				return err
			}
			if err := d.Write(w); err != nil {
				_ = closeOut()
				return err
			}
			return closeOut()
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&out, "output", "o", "", "Write the dump to a file instead of stdout")
	flags.StringVar(&keyCodec, "key-codec", "String", "Key codec: "+strings.Join(rawlayout.Codecs(), ", "))
	flags.StringVar(&valueCodec, "value-codec", "i64", "Value codec")
	flags.StringSliceVar(&deletes, "delete", nil, "Keys to delete after inserting")
	flags.IntVar(&items, "items", 0, "Override the recorded item count")
	flags.Uint64Var(&base, "base", 0x7f0000000000, "Address of the table header in the dump")
	flags.Uint64Var(&seed, "seed", 0, "Hash seed of the map (default: random)")
	return cmd
}

func newNatvisCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "natvis",
		Short: "Write the debugger visualizer for the configured layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, ok, err := a.loadLayout()
			if err != nil {
				return err
			}
			if !ok {
				l = rawlayout.DefaultLayout()
			}
			w, closeOut, err := output(cmd.OutOrStdout(), out)
			if err != nil {
				return err
			}
			if err := natvis.Render(w, natvis.FromLayout(l)); err != nil {
				_ = closeOut()
				return err
			}
			a.logger.Debug("rendered visualizer", zap.String("type", l.Type))
			return closeOut()
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write the visualizer to a file instead of stdout")
	return cmd
}

func newLayoutCmd(a *app) *cobra.Command {
	var keyCodec, valueCodec string
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the configured layout as YAML",
		Long: `Print the configured layout as YAML. With --key-codec or --value-codec
the entry offsets and stride are recomputed for the given element codecs.
Supported codecs: ` + strings.Join(rawlayout.Codecs(), ", ") + ".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, ok, err := a.loadLayout()
			if err != nil {
				return err
			}
			if !ok {
				l = rawlayout.DefaultLayout()
			}
			if cmd.Flags().Changed("key-codec") || cmd.Flags().Changed("value-codec") {
				if keyCodec == "" {
					keyCodec = l.Entry.Key.Codec
				}
				if valueCodec == "" {
					valueCodec = l.Entry.Value.Codec
				}
				if l, err = l.WithElements(keyCodec, valueCodec); err != nil {
					return err
				}
			}
			b, err := l.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	cmd.Flags().StringVar(&keyCodec, "key-codec", "", "Key codec")
	cmd.Flags().StringVar(&valueCodec, "value-codec", "", "Value codec")
	return cmd
}
