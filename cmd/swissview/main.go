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

// Command swissview inspects raw hash tables captured from paused processes
// and generates debugger visualizers for them.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ribbitbits/swissview/internal/config"
	"github.com/ribbitbits/swissview/rawlayout"
)

// app holds the state shared by the commands of one invocation.
type app struct {
	verbose  bool
	layout   string
	maxSlots int

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "swissview",
		Short: "Inspect open-addressing hash tables",
		Long: `swissview renders hash tables the way a debugger visualizer does:
a "len=N" summary followed by [len], [capacity], [state] and one
"key → value" row per occupied slot.

Tables are read from dumps: YAML memory images holding the table header,
its control bytes and its entries, together with the layout describing
where each field lives.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&a.layout, "layout", "", "Layout YAML file (default: $SWISSVIEW_LAYOUT or the built-in layout)")
	flags.IntVar(&a.maxSlots, "max-slots", 0, "Maximum slots visited per inspection (default: $SWISSVIEW_MAX_SLOTS)")

	root.AddCommand(
		newInspectCmd(a),
		newCaptureCmd(a),
		newNatvisCmd(a),
		newLayoutCmd(a),
	)
	return root
}

// setup loads the environment, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("layout") {
		cfg.Layout = a.layout
	}
	if cmd.Flags().Changed("max-slots") {
		cfg.MaxSlots = a.maxSlots
	}
	a.cfg = cfg

	level, err := cfg.Level()
	if err != nil {
		return err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if a.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger.Named("swissview")
	return nil
}

// loadLayout returns the configured layout, or ok=false when none was set.
func (a *app) loadLayout() (l rawlayout.Layout, ok bool, err error) {
	if a.cfg.Layout == "" {
		return rawlayout.Layout{}, false, nil
	}
	l, err = a.cfg.LoadLayout()
	if err != nil {
		return rawlayout.Layout{}, false, err
	}
	a.logger.Debug("loaded layout", zap.String("path", a.cfg.Layout), zap.String("version", l.Version))
	return l, true, nil
}

// output opens path for writing, or returns w when path is empty or "-".
func output(w io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		config.Exitf("swissview: %v", err)
	}
}
