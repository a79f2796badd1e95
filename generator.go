// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// generatorPrefix marks an input name as a built-in generator selector.
const generatorPrefix = "gen:"

// RowGenerator produces splat rows procedurally. Generators are selected by
// name from a closed built-in registry and configured through param
// actions.
type RowGenerator interface {
	// Count returns the number of rows the generator produces.
	Count() int

	// ColumnNames lists the produced columns, in order.
	ColumnNames() []string

	// GetRow fills out with row i's values.
	GetRow(i int, out Row)
}

// GeneratorFactory builds a generator from its parameters.
type GeneratorFactory func(params map[string]string) (RowGenerator, error)

// generators is the built-in registry.
var generators = map[string]GeneratorFactory{
	"grid": newGridGenerator,
}

// IsGeneratorName reports whether the input name selects a generator:
// either the gen: prefix or any .mjs path. The base name of a .mjs path is
// the registry key; an unknown key fails later in ReadGenerator.
func IsGeneratorName(name string) bool {
	return strings.HasPrefix(name, generatorPrefix) || strings.HasSuffix(name, ".mjs")
}

// generatorKey reduces an input name to its registry key.
func generatorKey(name string) string {
	if strings.HasSuffix(name, ".mjs") {
		base := name
		if i := strings.LastIndexByte(base, '/'); i >= 0 {
			base = base[i+1:]
		}
		return strings.TrimSuffix(base, ".mjs")
	}
	return strings.TrimPrefix(name, generatorPrefix)
}

// ReadGenerator instantiates the named generator and materializes its rows
// into a table. Params come from the input's param actions.
func ReadGenerator(name string, actions []ProcessAction) (*DataTable, error) {
	params := make(map[string]string)
	for _, action := range actions {
		if p, ok := action.(Param); ok {
			params[p.Name] = p.Value
		}
	}

	factory, ok := generators[generatorKey(name)]
	if !ok {
		known := make([]string, 0, len(generators))
		for n := range generators {
			known = append(known, n)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown generator %q (available: %s)",
			name, strings.Join(known, ", "))
	}
	gen, err := factory(params)
	if err != nil {
		return nil, err
	}

	names := gen.ColumnNames()
	columns := make([]*Column, len(names))
	for i, n := range names {
		columns[i] = NewColumn(n, TypeFloat32, gen.Count())
	}
	dt, err := NewDataTable(columns)
	if err != nil {
		return nil, err
	}

	row := make(Row, len(names))
	for i := 0; i < gen.Count(); i++ {
		gen.GetRow(i, row)
		dt.SetRow(i, row)
	}
	return dt, nil
}

// gridGenerator produces a flat size x size grid of identity-oriented
// splats with a color gradient, matching the canonical test scene.
type gridGenerator struct {
	size float64
	step float64
	y    float64
}

func newGridGenerator(params map[string]string) (RowGenerator, error) {
	g := &gridGenerator{size: 4, step: 1, y: 0}
	for name, value := range params {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("grid param %s=%q: %w", name, value, err)
		}
		switch name {
		case "size":
			if v < 1 {
				return nil, fmt.Errorf("grid size must be at least 1")
			}
			g.size = math.Floor(v)
		case "step":
			g.step = v
		case "y":
			g.y = v
		default:
			return nil, fmt.Errorf("unknown grid param %q", name)
		}
	}
	return g, nil
}

func (g *gridGenerator) Count() int {
	return int(g.size * g.size)
}

func (g *gridGenerator) ColumnNames() []string {
	return append([]string{}, gaussianColumns...)
}

func (g *gridGenerator) GetRow(i int, out Row) {
	n := int(g.size)
	ix := i % n
	iz := i / n
	half := (g.size - 1) / 2

	out["x"] = (float64(ix) - half) * g.step
	out["y"] = g.y
	out["z"] = (float64(iz) - half) * g.step

	out["rot_0"] = 1
	out["rot_1"] = 0
	out["rot_2"] = 0
	out["rot_3"] = 0

	logScale := math.Log(0.1)
	out["scale_0"] = logScale
	out["scale_1"] = logScale
	out["scale_2"] = logScale

	// A simple corner-to-corner gradient.
	t := float64(ix+iz) / math.Max(1, 2*(g.size-1))
	out["f_dc_0"] = (t - 0.5) / SHC0
	out["f_dc_1"] = (0.5 - t) / SHC0
	out["f_dc_2"] = 0
	out["opacity"] = logit(0.9)
}
