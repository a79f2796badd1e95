// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGetOutputFormat(t *testing.T) {
	tests := []struct {
		name      string
		unbundled bool
		want      OutputFormat
		wantErr   bool
	}{
		{name: "scene.csv", want: FormatCsv},
		{name: "out/lod-meta.json", want: FormatLod},
		{name: "scene.sog", want: FormatSogBundle},
		{name: "out/meta.json", want: FormatSog},
		{name: "scene.compressed.ply", want: FormatCompressedPly},
		{name: "scene.ply", want: FormatPly},
		{name: "scene.html", want: FormatHTMLBundle},
		{name: "scene.html", unbundled: true, want: FormatHTML},
		{name: "scene.xyz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetOutputFormat(tt.name, tt.unbundled)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("got error %v, want %v", err, ErrUnsupportedFormat)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetOutputFormat failed, reason: %v", err)
			}
			if got != tt.want {
				t.Errorf("format = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCombineConcatenation(t *testing.T) {
	a := newTestGrid(t)
	b := newTestGrid(t)

	got, err := Combine([]*DataTable{a, b})
	if err != nil {
		t.Fatalf("Combine failed, reason: %v", err)
	}
	if got.NumRows() != 32 {
		t.Fatalf("rows = %d, want 32", got.NumRows())
	}
	if !approx(columnSum(t, got, "opacity"), 2*columnSum(t, a, "opacity"), 1e-6) {
		t.Errorf("concatenated column sums do not add up")
	}
}

func TestCombineZeroFill(t *testing.T) {
	a := withTestSH(t, newTestGrid(t))
	b := newTestGrid(t)

	got, err := Combine([]*DataTable{a, b})
	if err != nil {
		t.Fatalf("Combine failed, reason: %v", err)
	}
	sh := got.GetColumn(shRestName(0))
	if sh == nil {
		t.Fatalf("sh column dropped by combine")
	}
	// The first table's region carries data, the second stays zero.
	if sh.Get(0) == 0 && sh.Get(1) == 0 && sh.Get(2) == 0 {
		t.Errorf("first region lost its sh data")
	}
	for i := 16; i < 32; i++ {
		if sh.Get(i) != 0 {
			t.Fatalf("row %d sh = %v, want implicit zero", i, sh.Get(i))
		}
	}
}

func TestCombineTypeMismatch(t *testing.T) {
	a, err := NewDataTable([]*Column{NewColumn("v", TypeFloat32, 2)})
	if err != nil {
		t.Fatalf("NewDataTable failed, reason: %v", err)
	}
	b, err := NewDataTable([]*Column{NewColumn("v", TypeUint8, 3)})
	if err != nil {
		t.Fatalf("NewDataTable failed, reason: %v", err)
	}

	got, err := Combine([]*DataTable{a, b})
	if err != nil {
		t.Fatalf("Combine failed, reason: %v", err)
	}
	if got.NumColumns() != 2 {
		t.Fatalf("columns = %d, want the mismatch split in two", got.NumColumns())
	}
	if got.NumRows() != 5 {
		t.Errorf("rows = %d, want 5", got.NumRows())
	}
}

func TestSeparateEnvironment(t *testing.T) {
	dt := newTestGrid(t)
	lod := NewColumn("lod", TypeInt32, dt.NumRows())
	vals := lod.Data.([]int32)
	for i := range vals {
		if i%4 == 0 {
			vals[i] = -1
		}
	}
	if err := dt.AddColumn(lod); err != nil {
		t.Fatalf("AddColumn failed, reason: %v", err)
	}

	main, env := SeparateEnvironment(dt)
	if main.NumRows() != 12 || env.NumRows() != 4 {
		t.Fatalf("split = (%d, %d), want (12, 4)", main.NumRows(), env.NumRows())
	}
	for i := 0; i < env.NumRows(); i++ {
		if env.GetColumn("lod").Get(i) != -1 {
			t.Errorf("environment row %d has lod %v", i, env.GetColumn("lod").Get(i))
		}
	}

	// No lod column passes through untouched.
	plain := newTestGrid(t)
	main, env = SeparateEnvironment(plain)
	if main != plain || env != nil {
		t.Errorf("lod-less table must pass through unchanged")
	}
}

func TestWriteTableAtomicOverwrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "scene.ply")
	dt := newTestGrid(t)

	if err := WriteTable(target, dt, nil, Options{}); err != nil {
		t.Fatalf("WriteTable failed, reason: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("target missing after write, reason: %v", err)
	}

	// A second write without overwrite is refused.
	if err := WriteTable(target, dt, nil, Options{}); !errors.Is(err, ErrOverwriteRefused) {
		t.Fatalf("got error %v, want %v", err, ErrOverwriteRefused)
	}
	if err := WriteTable(target, dt, nil, Options{Overwrite: true}); err != nil {
		t.Fatalf("overwrite failed, reason: %v", err)
	}

	// No temporary droppings survive.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed, reason: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the target", len(entries))
	}

	// The written file reads back.
	fs := NewLocalFileSystem()
	src, err := fs.CreateSource(target, nil)
	if err != nil {
		t.Fatalf("CreateSource failed, reason: %v", err)
	}
	defer src.Close()
	got, err := ReadPlyTable(src)
	if err != nil {
		t.Fatalf("ReadPlyTable failed, reason: %v", err)
	}
	if got.NumRows() != dt.NumRows() {
		t.Errorf("read back %d rows, want %d", got.NumRows(), dt.NumRows())
	}
}

func TestWriteTableRejectsEmpty(t *testing.T) {
	empty, err := NewDataTable([]*Column{NewColumn("x", TypeFloat32, 0)})
	if err != nil {
		t.Fatalf("NewDataTable failed, reason: %v", err)
	}
	target := filepath.Join(t.TempDir(), "scene.ply")
	if err := WriteTable(target, empty, nil, Options{}); !errors.Is(err, ErrEmptyTable) {
		t.Errorf("got error %v, want %v", err, ErrEmptyTable)
	}
	if _, err := os.Stat(target); err == nil {
		t.Errorf("failed write left a target file")
	}
}

func TestWriteSogLooseFiles(t *testing.T) {
	dir := t.TempDir()
	dt := newTestGrid(t)

	if err := WriteTable(filepath.Join(dir, "meta.json"), dt, nil, Options{}); err != nil {
		t.Fatalf("WriteTable failed, reason: %v", err)
	}
	for _, name := range []string{"meta.json", "means_l.webp", "means_u.webp", "quats.webp", "scales.webp", "sh0.webp"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("loose file %q missing, reason: %v", name, err)
		}
	}
}

func TestWriteHTMLUnbundledAuxOverwrite(t *testing.T) {
	dir := t.TempDir()
	dt := newTestGrid(t)

	// A pre-existing auxiliary file blocks the whole write.
	if err := os.WriteFile(filepath.Join(dir, "index.css"), []byte("body{}"), 0o644); err != nil {
		t.Fatalf("seeding index.css failed, reason: %v", err)
	}
	err := WriteTable(filepath.Join(dir, "scene.html"), dt, nil, Options{Unbundled: true})
	if !errors.Is(err, ErrOverwriteRefused) {
		t.Fatalf("got error %v, want %v", err, ErrOverwriteRefused)
	}
	if _, err := os.Stat(filepath.Join(dir, "scene.html")); err == nil {
		t.Errorf("refused write still produced scene.html")
	}

	if err := WriteTable(filepath.Join(dir, "scene.html"), dt, nil,
		Options{Unbundled: true, Overwrite: true}); err != nil {
		t.Fatalf("WriteTable failed, reason: %v", err)
	}
	for _, name := range []string{"scene.html", "index.js", "index.css", "scene.sog"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("unbundled file %q missing, reason: %v", name, err)
		}
	}
}

func TestWriteLod(t *testing.T) {
	dir := t.TempDir()
	dt := newTestGrid(t)
	tagged, err := ProcessTable(dt, []ProcessAction{Lod{Level: 0}})
	if err != nil {
		t.Fatalf("ProcessTable failed, reason: %v", err)
	}
	env := newTestGrid(t)

	if err := WriteTable(filepath.Join(dir, "lod-meta.json"), tagged, env, Options{}); err != nil {
		t.Fatalf("WriteTable failed, reason: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "lod-meta.json")); err != nil {
		t.Fatalf("lod-meta.json missing, reason: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "env.sog")); err != nil {
		t.Errorf("env.sog missing, reason: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "chunk_0_0.sog")); err != nil {
		t.Errorf("chunk_0_0.sog missing, reason: %v", err)
	}
}
