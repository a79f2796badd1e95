// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"math"
	"testing"
)

// newTestGrid builds the canonical 4x4 test scene: a flat grid on y=0 with
// x and z in {-1.5, -0.5, 0.5, 1.5}, identity rotations, uniform scales of
// ln(0.1), a color gradient and opacity logit(0.9).
func newTestGrid(t *testing.T) *DataTable {
	t.Helper()
	dt, err := ReadGenerator("gen:grid", nil)
	if err != nil {
		t.Fatalf("grid generator failed: %v", err)
	}
	if dt.NumRows() != 16 {
		t.Fatalf("grid rows = %d, want 16", dt.NumRows())
	}
	return dt
}

// withTestSH extends the grid with a full set of deterministic band 1..3
// coefficients.
func withTestSH(t *testing.T, dt *DataTable) *DataTable {
	t.Helper()
	for k := 0; k < MaxSHCoeffs; k++ {
		col := NewColumn(shRestName(k), TypeFloat32, dt.NumRows())
		vals := col.Data.([]float32)
		for i := range vals {
			vals[i] = float32(math.Sin(float64(i*MaxSHCoeffs+k)) * 0.25)
		}
		if err := dt.AddColumn(col); err != nil {
			t.Fatalf("adding %s: %v", col.Name, err)
		}
	}
	return dt
}

func columnSum(t *testing.T, dt *DataTable, name string) float64 {
	t.Helper()
	c := dt.GetColumn(name)
	if c == nil {
		t.Fatalf("column %q missing", name)
	}
	sum := 0.0
	for i := 0; i < c.Len(); i++ {
		sum += c.Get(i)
	}
	return sum
}

func columnMinMax(t *testing.T, dt *DataTable, name string) (float64, float64) {
	t.Helper()
	c := dt.GetColumn(name)
	if c == nil {
		t.Fatalf("column %q missing", name)
	}
	min, max := math.Inf(1), math.Inf(-1)
	for i := 0; i < c.Len(); i++ {
		v := c.Get(i)
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	return min, max
}

func approx(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}
