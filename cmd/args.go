// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	splat "github.com/playcanvas/splat-transform"
)

// fileSpec is one positional file plus the actions bound to it.
type fileSpec struct {
	name    string
	actions []splat.ProcessAction
}

// cliArgs is the parsed command line. The grammar binds action flags to the
// immediately preceding positional, so parsing is a single ordered scan
// rather than a declarative flag set.
type cliArgs struct {
	overwrite      bool
	help           bool
	version        bool
	quiet          bool
	cpu            bool
	iterations     int
	viewerSettings string
	unbundled      bool
	lodSelect      []int
	lodChunkCount  int
	lodChunkExtent float64
	files          []fileSpec
}

func parseArgs(argv []string) (*cliArgs, error) {
	args := &cliArgs{}

	next := func(i *int, flag string) (string, error) {
		*i++
		if *i >= len(argv) {
			return "", fmt.Errorf("flag %s requires a value", flag)
		}
		return argv[*i], nil
	}

	bind := func(action splat.ProcessAction, flag string) error {
		if len(args.files) == 0 {
			return fmt.Errorf("flag %s must follow an input or output file", flag)
		}
		last := &args.files[len(args.files)-1]
		last.actions = append(last.actions, action)
		return nil
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		flag, inline, hasInline := strings.Cut(arg, "=")
		value := func() (string, error) {
			if hasInline {
				return inline, nil
			}
			return next(&i, flag)
		}

		switch flag {
		case "-w", "--overwrite":
			args.overwrite = true
		case "-h", "--help":
			args.help = true
		case "-v", "--version":
			args.version = true
		case "-q", "--quiet":
			args.quiet = true
		case "-c", "--cpu":
			args.cpu = true
		case "-U", "--unbundled":
			args.unbundled = true

		case "-i", "--iterations":
			v, err := value()
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid iteration count %q", v)
			}
			args.iterations = n

		case "-E", "--viewer-settings":
			v, err := value()
			if err != nil {
				return nil, err
			}
			args.viewerSettings = v

		case "-O", "--lod-select":
			v, err := value()
			if err != nil {
				return nil, err
			}
			for _, part := range strings.Split(v, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil {
					return nil, fmt.Errorf("invalid lod selection %q", v)
				}
				args.lodSelect = append(args.lodSelect, n)
			}

		case "-C", "--lod-chunk-count":
			v, err := value()
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid lod chunk count %q", v)
			}
			args.lodChunkCount = n

		case "-X", "--lod-chunk-extent":
			v, err := value()
			if err != nil {
				return nil, err
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f <= 0 {
				return nil, fmt.Errorf("invalid lod chunk extent %q", v)
			}
			args.lodChunkExtent = f

		case "-t", "--translate":
			v, err := value()
			if err != nil {
				return nil, err
			}
			vec, err := parseVec3(v)
			if err != nil {
				return nil, fmt.Errorf("invalid translation %q: %w", v, err)
			}
			if err := bind(splat.Translate{V: vec}, flag); err != nil {
				return nil, err
			}

		case "-r", "--rotate":
			v, err := value()
			if err != nil {
				return nil, err
			}
			vec, err := parseVec3(v)
			if err != nil {
				return nil, fmt.Errorf("invalid rotation %q: %w", v, err)
			}
			if err := bind(splat.Rotate{Euler: vec}, flag); err != nil {
				return nil, err
			}

		case "-s", "--scale":
			v, err := value()
			if err != nil {
				return nil, err
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid scale %q", v)
			}
			if err := bind(splat.Scale{Factor: f}, flag); err != nil {
				return nil, err
			}

		case "-N", "--filter-nan":
			if err := bind(splat.FilterNaN{}, flag); err != nil {
				return nil, err
			}

		case "-V", "--filter-value":
			v, err := value()
			if err != nil {
				return nil, err
			}
			parts := strings.Split(v, ",")
			if len(parts) != 3 {
				return nil, fmt.Errorf("filter-value wants name,cmp,value, got %q", v)
			}
			fv, err := strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid filter value %q", parts[2])
			}
			action := splat.FilterValue{
				Column: parts[0],
				Op:     splat.CompareOp(parts[1]),
				Value:  fv,
			}
			if err := bind(action, flag); err != nil {
				return nil, err
			}

		case "-H", "--filter-harmonics":
			v, err := value()
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 3 {
				return nil, fmt.Errorf("invalid harmonic band count %q", v)
			}
			if err := bind(splat.FilterBands{Bands: n}, flag); err != nil {
				return nil, err
			}

		case "-B", "--filter-box":
			v, err := value()
			if err != nil {
				return nil, err
			}
			action, err := parseBox(v)
			if err != nil {
				return nil, err
			}
			if err := bind(action, flag); err != nil {
				return nil, err
			}

		case "-S", "--filter-sphere":
			v, err := value()
			if err != nil {
				return nil, err
			}
			parts := strings.Split(v, ",")
			if len(parts) != 4 {
				return nil, fmt.Errorf("filter-sphere wants x,y,z,r, got %q", v)
			}
			var vals [4]float64
			for k, part := range parts {
				if vals[k], err = strconv.ParseFloat(part, 64); err != nil {
					return nil, fmt.Errorf("invalid sphere component %q", part)
				}
			}
			action := splat.FilterSphere{
				Center: splat.Vec3{vals[0], vals[1], vals[2]},
				Radius: vals[3],
			}
			if err := bind(action, flag); err != nil {
				return nil, err
			}

		case "--filter-visibility":
			v, err := value()
			if err != nil {
				return nil, err
			}
			action, err := parseVisibility(v)
			if err != nil {
				return nil, err
			}
			if err := bind(action, flag); err != nil {
				return nil, err
			}

		case "--morton-order":
			if err := bind(splat.MortonSort{}, flag); err != nil {
				return nil, err
			}

		case "-p", "--params":
			v, err := value()
			if err != nil {
				return nil, err
			}
			for _, pair := range strings.Split(v, ",") {
				name, val, ok := strings.Cut(pair, "=")
				if !ok {
					return nil, fmt.Errorf("param %q is not k=v", pair)
				}
				if err := bind(splat.Param{Name: name, Value: val}, flag); err != nil {
					return nil, err
				}
			}

		case "-l", "--lod":
			v, err := value()
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid lod level %q", v)
			}
			if err := bind(splat.Lod{Level: n}, flag); err != nil {
				return nil, err
			}

		default:
			if strings.HasPrefix(flag, "-") && flag != "-" {
				return nil, fmt.Errorf("unrecognized flag %q", flag)
			}
			args.files = append(args.files, fileSpec{name: arg})
		}
	}
	return args, nil
}

func parseVec3(v string) (splat.Vec3, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 3 {
		return splat.Vec3{}, fmt.Errorf("expected three components")
	}
	var out splat.Vec3
	for k, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return splat.Vec3{}, fmt.Errorf("component %q", part)
		}
		out[k] = f
	}
	return out, nil
}

// parseBox reads x,y,z,X,Y,Z where an empty or "-" field means unbounded on
// that side.
func parseBox(v string) (splat.FilterBox, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 6 {
		return splat.FilterBox{}, fmt.Errorf("filter-box wants x,y,z,X,Y,Z, got %q", v)
	}
	parse := func(s string, unbounded float64) (float64, error) {
		s = strings.TrimSpace(s)
		if s == "" || s == "-" {
			return unbounded, nil
		}
		return strconv.ParseFloat(s, 64)
	}
	var box splat.FilterBox
	for k := 0; k < 3; k++ {
		lo, err := parse(parts[k], math.Inf(-1))
		if err != nil {
			return splat.FilterBox{}, fmt.Errorf("invalid box component %q", parts[k])
		}
		hi, err := parse(parts[3+k], math.Inf(1))
		if err != nil {
			return splat.FilterBox{}, fmt.Errorf("invalid box component %q", parts[3+k])
		}
		box.Min[k] = lo
		box.Max[k] = hi
	}
	return box, nil
}

// parseVisibility reads either a count ("10000") or a percentage ("25%").
func parseVisibility(v string) (splat.FilterVisibility, error) {
	if strings.HasSuffix(v, "%") {
		p, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
		if err != nil || p < 0 {
			return splat.FilterVisibility{}, fmt.Errorf("invalid visibility percent %q", v)
		}
		return splat.FilterVisibility{Percent: p, UsePercent: true}, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return splat.FilterVisibility{}, fmt.Errorf("invalid visibility count %q", v)
	}
	return splat.FilterVisibility{Count: n}, nil
}
