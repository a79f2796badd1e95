// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSogTextureSize(t *testing.T) {
	tests := []struct {
		count, w, h int
	}{
		{1, 4, 4},
		{16, 4, 4},
		{17, 8, 4},
		{1000, 32, 32},
		{4096, 64, 64},
	}
	for _, tt := range tests {
		w, h := sogTextureSize(tt.count)
		if w != tt.w || h != tt.h {
			t.Errorf("sogTextureSize(%d) = (%d, %d), want (%d, %d)",
				tt.count, w, h, tt.w, tt.h)
		}
		if w%4 != 0 || h%4 != 0 || w*h < tt.count {
			t.Errorf("sogTextureSize(%d) = (%d, %d) violates its contract",
				tt.count, w, h)
		}
	}
}

func TestSogPaletteSize(t *testing.T) {
	tests := []struct {
		rows, want int
	}{
		{1, 1},
		{16, 16},
		{600, 512},
		{1024, 1024},
		{2048, 2048},
		{100000, 65536},
		{10000000, 65536},
	}
	for _, tt := range tests {
		if got := sogPaletteSize(tt.rows); got != tt.want {
			t.Errorf("sogPaletteSize(%d) = %d, want %d", tt.rows, got, tt.want)
		}
	}
}

func TestEncodeSogFileSet(t *testing.T) {
	tests := []struct {
		name   string
		withSH bool
		want   []string
	}{
		{
			"degree 0",
			false,
			[]string{"means_l.webp", "means_u.webp", "quats.webp", "scales.webp", "sh0.webp", "meta.json"},
		},
		{
			"degree 3",
			true,
			[]string{"means_l.webp", "means_u.webp", "quats.webp", "scales.webp", "sh0.webp",
				"shN_centroids.webp", "shN_labels.webp", "meta.json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt := newTestGrid(t)
			if tt.withSH {
				dt = withTestSH(t, dt)
			}
			files, err := EncodeSog(dt, Options{})
			if err != nil {
				t.Fatalf("EncodeSog failed, reason: %v", err)
			}
			if len(files) != len(tt.want) {
				t.Fatalf("emitted %d files, want %d", len(files), len(tt.want))
			}
			for _, name := range tt.want {
				if _, ok := files[name]; !ok {
					t.Errorf("file %q missing", name)
				}
			}

			var meta sogMeta
			if err := json.Unmarshal(files["meta.json"], &meta); err != nil {
				t.Fatalf("meta.json does not parse, reason: %v", err)
			}
			if meta.Version != 2 || meta.Count != dt.NumRows() {
				t.Errorf("meta version/count = %d/%d", meta.Version, meta.Count)
			}
			if meta.Asset.Generator != Generator {
				t.Errorf("meta generator = %q", meta.Asset.Generator)
			}
			if len(meta.Scales.Codebook) != sogCodebookSize {
				t.Errorf("scales codebook size = %d", len(meta.Scales.Codebook))
			}
			if tt.withSH {
				if meta.ShN == nil || meta.ShN.Bands != 3 {
					t.Fatalf("shN group missing or wrong bands")
				}
			} else if meta.ShN != nil {
				t.Errorf("unexpected shN group at degree 0")
			}
		})
	}
}

func TestSogMetaDeterministic(t *testing.T) {
	dt := withTestSH(t, newTestGrid(t))
	a, err := EncodeSog(dt.Clone(), Options{})
	if err != nil {
		t.Fatalf("EncodeSog failed, reason: %v", err)
	}
	b, err := EncodeSog(dt.Clone(), Options{})
	if err != nil {
		t.Fatalf("EncodeSog failed, reason: %v", err)
	}
	if !bytes.Equal(a["meta.json"], b["meta.json"]) {
		t.Errorf("meta.json differs between identical inputs")
	}
}

func TestSogRoundTrip(t *testing.T) {
	dt := withTestSH(t, newTestGrid(t))
	files, err := EncodeSog(dt, Options{})
	if err != nil {
		t.Fatalf("EncodeSog failed, reason: %v", err)
	}

	fs := NewMemoryFileSystem(nil)
	for name, data := range files {
		fs.Add(name, data)
	}
	got, err := ReadSog(fs, "")
	if err != nil {
		t.Fatalf("ReadSog failed, reason: %v", err)
	}
	if got.NumRows() != dt.NumRows() {
		t.Fatalf("rows = %d, want %d", got.NumRows(), dt.NumRows())
	}
	if !IsGaussianSplat(got) {
		t.Fatalf("decoded table is not a gaussian splat table")
	}
	if SHDegree(got) != 3 {
		t.Fatalf("decoded degree = %d, want 3", SHDegree(got))
	}

	// The morton pre-pass reorders rows, so compare by matching each
	// original splat to its nearest decoded position.
	match := func(x, y, z float64) int {
		best, bestDist := -1, 1e30
		for i := 0; i < got.NumRows(); i++ {
			dx := got.GetColumn("x").Get(i) - x
			dy := got.GetColumn("y").Get(i) - y
			dz := got.GetColumn("z").Get(i) - z
			d := dx*dx + dy*dy + dz*dz
			if d < bestDist {
				best, bestDist = i, d
			}
		}
		return best
	}

	for i := 0; i < dt.NumRows(); i++ {
		j := match(dt.GetColumn("x").Get(i), dt.GetColumn("y").Get(i), dt.GetColumn("z").Get(i))

		for _, name := range []string{"x", "y", "z"} {
			if !approx(got.GetColumn(name).Get(j), dt.GetColumn(name).Get(i), 1e-3) {
				t.Fatalf("splat %d %s: got %v, want %v", i, name,
					got.GetColumn(name).Get(j), dt.GetColumn(name).Get(i))
			}
		}
		for _, name := range []string{"scale_0", "scale_1", "scale_2"} {
			if !approx(got.GetColumn(name).Get(j), dt.GetColumn(name).Get(i), 1e-3) {
				t.Fatalf("splat %d %s drifted", i, name)
			}
		}
		for _, name := range []string{"f_dc_0", "f_dc_1", "f_dc_2"} {
			if !approx(got.GetColumn(name).Get(j), dt.GetColumn(name).Get(i), 0.02) {
				t.Fatalf("splat %d %s: got %v, want %v", i, name,
					got.GetColumn(name).Get(j), dt.GetColumn(name).Get(i))
			}
		}
		if !approx(sigmoid(got.GetColumn("opacity").Get(j)),
			sigmoid(dt.GetColumn("opacity").Get(i)), 0.01) {
			t.Fatalf("splat %d opacity drifted", i)
		}

		// Identity quaternions survive the 8-bit encoding.
		if !approx(got.GetColumn("rot_0").Get(j), 1, 0.01) {
			t.Fatalf("splat %d quaternion w = %v", i, got.GetColumn("rot_0").Get(j))
		}

		for k := 0; k < MaxSHCoeffs; k++ {
			name := shRestName(k)
			if !approx(got.GetColumn(name).Get(j), dt.GetColumn(name).Get(i), 0.02) {
				t.Fatalf("splat %d %s: got %v, want %v", i, name,
					got.GetColumn(name).Get(j), dt.GetColumn(name).Get(i))
			}
		}
	}
}

func TestSogBundleRoundTrip(t *testing.T) {
	dt := newTestGrid(t)
	files, err := EncodeSog(dt, Options{})
	if err != nil {
		t.Fatalf("EncodeSog failed, reason: %v", err)
	}
	var bundle bytes.Buffer
	if err := WriteSogBundle(&bundle, files); err != nil {
		t.Fatalf("WriteSogBundle failed, reason: %v", err)
	}

	zfs, err := NewZipFileSystem(NewMemorySource(bundle.Bytes()))
	if err != nil {
		t.Fatalf("NewZipFileSystem failed, reason: %v", err)
	}
	got, err := ReadSog(zfs, "")
	if err != nil {
		t.Fatalf("ReadSog failed, reason: %v", err)
	}
	if got.NumRows() != dt.NumRows() {
		t.Errorf("bundle rows = %d, want %d", got.NumRows(), dt.NumRows())
	}
}

func TestEncodeSogRejects(t *testing.T) {
	empty, err := NewDataTable([]*Column{NewColumn("x", TypeFloat32, 0)})
	if err != nil {
		t.Fatalf("NewDataTable failed, reason: %v", err)
	}
	if _, err := EncodeSog(empty, Options{}); err == nil {
		t.Errorf("EncodeSog accepted an empty table")
	}

	plain, err := NewDataTable([]*Column{NewColumn("x", TypeFloat32, 3)})
	if err != nil {
		t.Fatalf("NewDataTable failed, reason: %v", err)
	}
	if _, err := EncodeSog(plain, Options{}); err == nil {
		t.Errorf("EncodeSog accepted a non gaussian table")
	}
}
