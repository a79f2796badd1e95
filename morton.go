// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"math"
	"sort"
)

// mortonMaxRun is the longest contiguous run of identical morton codes
// tolerated before the cell is re-sorted with tighter bounds.
const mortonMaxRun = 256

// part1By2 spreads the low 10 bits of v so consecutive bits land three
// positions apart (5-round butterfly masking).
func part1By2(v uint32) uint32 {
	v &= 0x000003FF
	v = (v ^ (v << 16)) & 0xFF0000FF
	v = (v ^ (v << 8)) & 0x0300F00F
	v = (v ^ (v << 4)) & 0x030C30C3
	v = (v ^ (v << 2)) & 0x09249249
	return v
}

// mortonCode interleaves three 10-bit components into a 30-bit code.
func mortonCode(x, y, z uint32) uint32 {
	return part1By2(x) | part1By2(y)<<1 | part1By2(z)<<2
}

// MortonOrder sorts the index array by ascending morton code of the rows'
// (x, y, z) positions, recursively refining any cell holding more than 256
// coincident codes. The order is left unchanged for degenerate bounds.
func MortonOrder(dt *DataTable, indices []uint32) {
	x := dt.GetColumn("x")
	y := dt.GetColumn("y")
	z := dt.GetColumn("z")
	if x == nil || y == nil || z == nil {
		return
	}
	mortonSort(x, y, z, indices)
}

func mortonSort(x, y, z *Column, indices []uint32) {
	if len(indices) <= 1 {
		return
	}

	minV := Vec3{math.Inf(1), math.Inf(1), math.Inf(1)}
	maxV := Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, i := range indices {
		p := Vec3{x.Get(int(i)), y.Get(int(i)), z.Get(int(i))}
		for k := 0; k < 3; k++ {
			minV[k] = math.Min(minV[k], p[k])
			maxV[k] = math.Max(maxV[k], p[k])
		}
	}

	extent := maxV.sub(minV)
	for k := 0; k < 3; k++ {
		if math.IsNaN(extent[k]) || math.IsInf(extent[k], 0) {
			return
		}
	}
	if extent[0] == 0 && extent[1] == 0 && extent[2] == 0 {
		return
	}

	quantize := func(v, min, ext float64) uint32 {
		if ext == 0 {
			return 0
		}
		return uint32(clamp(math.Floor((v-min)*1024/ext), 0, 1023))
	}

	codes := make([]uint32, len(indices))
	for n, i := range indices {
		codes[n] = mortonCode(
			quantize(x.Get(int(i)), minV[0], extent[0]),
			quantize(y.Get(int(i)), minV[1], extent[1]),
			quantize(z.Get(int(i)), minV[2], extent[2]))
	}

	// Stable indirect sort keeps equal codes in input order.
	order := make([]int, len(indices))
	for n := range order {
		order[n] = n
	}
	sort.SliceStable(order, func(a, b int) bool {
		return codes[order[a]] < codes[order[b]]
	})

	sorted := make([]uint32, len(indices))
	sortedCodes := make([]uint32, len(indices))
	for n, o := range order {
		sorted[n] = indices[o]
		sortedCodes[n] = codes[o]
	}
	copy(indices, sorted)

	// Refine overcrowded cells: a long run of identical codes is re-sorted
	// against its own, strictly smaller bounds. The recursion terminates
	// because the bounds shrink at each level.
	runStart := 0
	for n := 1; n <= len(indices); n++ {
		if n < len(indices) && sortedCodes[n] == sortedCodes[runStart] {
			continue
		}
		if n-runStart > mortonMaxRun {
			mortonSort(x, y, z, indices[runStart:n])
		}
		runStart = n
	}
}
