// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

// Command splat-transform converts, transforms and compresses 3D Gaussian
// Splat scenes between the ply, compressed ply, sog, splat, ksplat, spz,
// lcc, csv, html and lod representations.
package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	splat "github.com/playcanvas/splat-transform"
	"github.com/playcanvas/splat-transform/log"
)

const usage = `usage: splat-transform [GLOBAL]... INPUT [ACTIONS]... [INPUT [ACTIONS]...]... OUTPUT [ACTIONS]...

global options:
  -w, --overwrite             overwrite existing output files
  -h, --help                  print this help
  -v, --version               print the version
  -q, --quiet                 suppress progress output
  -c, --cpu                   force the cpu k-means path
  -i, --iterations N          k-means iterations (default 10)
  -E, --viewer-settings FILE  merge FILE into the html viewer settings
  -U, --unbundled             emit the html viewer as loose files
  -O, --lod-select n,n,...    restrict lod output to the given levels
  -C, --lod-chunk-count N     splats per lod chunk (default 512)
  -X, --lod-chunk-extent N    lod chunk cell size (default 16)

per-file actions (bound to the preceding file):
  -t, --translate x,y,z       translate positions
  -r, --rotate x,y,z          rotate by euler angles (degrees)
  -s, --scale f               scale uniformly
  -N, --filter-nan            drop rows with non-finite values
  -V, --filter-value n,c,v    keep rows where column n compares c to v
  -H, --filter-harmonics n    drop SH bands above n (0..3)
  -B, --filter-box x,y,z,X,Y,Z  keep rows inside the box ("-" = unbounded)
  -S, --filter-sphere x,y,z,r keep rows inside the sphere
      --filter-visibility n|p%  keep the most visible splats
      --morton-order          reorder rows along the morton curve
  -p, --params k=v,...        pass parameters to a generator input
  -l, --lod n                 tag every row with lod level n`

func main() {
	root := &cobra.Command{
		Use:                "splat-transform",
		Short:              "Convert and transform 3D Gaussian Splat files",
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, argv []string) error {
			return run(argv)
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, argv []string) {
			fmt.Println(splat.Version)
		},
	}
	root.AddCommand(version)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	args, err := parseArgs(argv)
	if err != nil {
		return err
	}
	if args.help || len(argv) == 0 {
		fmt.Println(usage)
		return nil
	}
	if args.version {
		fmt.Println(splat.Version)
		return nil
	}
	if len(args.files) < 2 {
		return fmt.Errorf("at least one input and one output file are required")
	}

	level := log.LevelInfo
	if args.quiet {
		level = log.LevelError
	}
	logger := log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(level))
	helper := log.NewHelper(logger)

	opts := splat.Options{
		Overwrite:      args.overwrite,
		Iterations:     args.iterations,
		Unbundled:      args.unbundled,
		LodSelect:      args.lodSelect,
		LodChunkCount:  args.lodChunkCount,
		LodChunkExtent: args.lodChunkExtent,
		Logger:         logger,
	}
	if args.cpu {
		opts.DeviceIdx = -2
	} else {
		opts.DeviceIdx = -1
	}
	if args.viewerSettings != "" {
		settings, err := os.ReadFile(args.viewerSettings)
		if err != nil {
			return fmt.Errorf("reading viewer settings: %w", err)
		}
		opts.ViewerSettings = settings
	}

	inputs := args.files[:len(args.files)-1]
	output := args.files[len(args.files)-1]

	// Inputs are self-contained, so read and transform them in parallel.
	type part struct {
		main *splat.DataTable
		env  *splat.DataTable
	}
	parts := make([]part, len(inputs))
	var progressMu sync.Mutex

	var group errgroup.Group
	for idx, input := range inputs {
		idx, input := idx, input
		group.Go(func() error {
			progress := func(read, total int64) {
				if args.quiet || total <= 0 {
					return
				}
				progressMu.Lock()
				helper.Infof("%s: %d%%", input.name, read*100/total)
				progressMu.Unlock()
			}

			dt, err := readInput(input, progress, logger)
			if err != nil {
				return fmt.Errorf("%s: %w", input.name, err)
			}
			dt, err = splat.ProcessTable(dt, input.actions)
			if err != nil {
				return fmt.Errorf("%s: %w", input.name, err)
			}
			parts[idx].main, parts[idx].env = splat.SeparateEnvironment(dt)
			helper.Infof("read %s (%d splats)", input.name, parts[idx].main.NumRows())
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	mains := make([]*splat.DataTable, 0, len(parts))
	envs := make([]*splat.DataTable, 0, len(parts))
	for _, p := range parts {
		if p.main != nil && p.main.NumRows() > 0 {
			mains = append(mains, p.main)
		}
		if p.env != nil && p.env.NumRows() > 0 {
			envs = append(envs, p.env)
		}
	}
	if len(mains) == 0 {
		return fmt.Errorf("no splats to write")
	}

	combined, err := splat.Combine(mains)
	if err != nil {
		return err
	}
	var env *splat.DataTable
	if len(envs) > 0 {
		if env, err = splat.Combine(envs); err != nil {
			return err
		}
	}

	combined, err = splat.ProcessTable(combined, output.actions)
	if err != nil {
		return fmt.Errorf("%s: %w", output.name, err)
	}
	if combined.NumRows() == 0 {
		return fmt.Errorf("no splats left after filtering")
	}

	if err := splat.WriteTable(output.name, combined, env, opts); err != nil {
		return fmt.Errorf("%s: %w", output.name, err)
	}
	helper.Infof("wrote %s (%d splats)", output.name, combined.NumRows())
	return nil
}

// readInput resolves the filesystem for one input name: generators are
// synthesized, URLs stream over http, everything else comes from the local
// filesystem.
func readInput(input fileSpec, progress splat.ProgressFunc, logger log.Logger) (*splat.DataTable, error) {
	if splat.IsGeneratorName(input.name) {
		return splat.ReadTable(nil, input.name, input.actions, nil, logger)
	}

	var fs splat.ReadFileSystem
	if strings.HasPrefix(input.name, "http://") || strings.HasPrefix(input.name, "https://") {
		fs = splat.NewURLFileSystem(nil)
	} else {
		fs = splat.NewLocalFileSystem()
	}
	return splat.ReadTable(fs, input.name, input.actions, progress, logger)
}
