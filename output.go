// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playcanvas/splat-transform/log"
)

// OutputFormat is the closed set of writer dispatch targets.
type OutputFormat int

const (
	FormatPly OutputFormat = iota
	FormatCompressedPly
	FormatSog
	FormatSogBundle
	FormatCsv
	FormatHTML
	FormatHTMLBundle
	FormatLod
)

// GetOutputFormat dispatches an output name by suffix.
func GetOutputFormat(name string, unbundled bool) (OutputFormat, error) {
	base := strings.ToLower(filepath.Base(name))
	switch {
	case strings.HasSuffix(base, ".csv"):
		return FormatCsv, nil
	case base == "lod-meta.json" || strings.HasSuffix(base, "lod-meta.json"):
		return FormatLod, nil
	case strings.HasSuffix(base, ".sog"):
		return FormatSogBundle, nil
	case base == "meta.json":
		return FormatSog, nil
	case strings.HasSuffix(base, ".compressed.ply"):
		return FormatCompressedPly, nil
	case strings.HasSuffix(base, ".ply"):
		return FormatPly, nil
	case strings.HasSuffix(base, ".html"):
		if unbundled {
			return FormatHTML, nil
		}
		return FormatHTMLBundle, nil
	}
	return 0, fmt.Errorf("%q: %w", name, ErrUnsupportedFormat)
}

// ReadTable dispatches an input name to its reader and returns the decoded
// table. Generator inputs consume their param actions.
func ReadTable(fs ReadFileSystem, name string, actions []ProcessAction, progress ProgressFunc, logger log.Logger) (*DataTable, error) {
	if IsGeneratorName(name) {
		return ReadGenerator(name, actions)
	}

	base := strings.ToLower(filepath.Base(name))
	switch {
	case strings.HasSuffix(base, ".lcc"):
		return ReadLcc(fs, name, logger)
	case base == "meta.json":
		dir := filepath.ToSlash(filepath.Dir(name))
		if dir == "." {
			dir = ""
		}
		return ReadSog(fs, dir)
	}

	source, err := fs.CreateSource(name, progress)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	switch {
	case strings.HasSuffix(base, ".ply"):
		return ReadPlyTable(source)
	case strings.HasSuffix(base, ".sog"):
		zfs, err := NewZipFileSystem(source)
		if err != nil {
			return nil, err
		}
		return ReadSog(zfs, "")
	case strings.HasSuffix(base, ".splat"):
		return ReadSplat(source)
	case strings.HasSuffix(base, ".ksplat"):
		return ReadKsplat(source)
	case strings.HasSuffix(base, ".spz"):
		return ReadSpz(source)
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnsupportedFormat)
}

// WriteTable routes the table to the writer selected by the output name.
// Every produced file is written to a temporary name and renamed into
// place, so a failed writer leaves no partial target.
func WriteTable(name string, dt, env *DataTable, opts Options) error {
	opts = opts.defaults()
	format, err := GetOutputFormat(name, opts.Unbundled)
	if err != nil {
		return err
	}
	if format != FormatLod && dt.NumRows() == 0 {
		return ErrEmptyTable
	}

	switch format {
	case FormatPly:
		var buf bytes.Buffer
		if err := WritePly(&buf, dt); err != nil {
			return err
		}
		return writeFileAtomic(name, buf.Bytes(), opts.Overwrite)

	case FormatCompressedPly:
		var buf bytes.Buffer
		if err := WriteCompressedPly(&buf, dt); err != nil {
			return err
		}
		return writeFileAtomic(name, buf.Bytes(), opts.Overwrite)

	case FormatCsv:
		var buf bytes.Buffer
		if err := WriteCsv(&buf, dt); err != nil {
			return err
		}
		return writeFileAtomic(name, buf.Bytes(), opts.Overwrite)

	case FormatSogBundle:
		files, err := EncodeSog(dt, opts)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := WriteSogBundle(&buf, files); err != nil {
			return err
		}
		return writeFileAtomic(name, buf.Bytes(), opts.Overwrite)

	case FormatSog:
		files, err := EncodeSog(dt, opts)
		if err != nil {
			return err
		}
		return writeFileSet(filepath.Dir(name), files, opts.Overwrite)

	case FormatHTML, FormatHTMLBundle:
		files, err := EncodeHTML(dt, name, opts)
		if err != nil {
			return err
		}
		return writeFileSet(filepath.Dir(name), files, opts.Overwrite)

	case FormatLod:
		files, err := EncodeLod(dt, env, opts)
		if err != nil {
			return err
		}
		return writeFileSet(filepath.Dir(name), files, opts.Overwrite)
	}
	return fmt.Errorf("%q: %w", name, ErrUnsupportedFormat)
}

// writeFileSet writes a multi-file output into dir. Overwrite is checked
// for every target up front so a refused write aborts before any file
// lands.
func writeFileSet(dir string, files map[string][]byte, overwrite bool) error {
	if !overwrite {
		for name := range files {
			target := filepath.Join(dir, name)
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s: %w", target, ErrOverwriteRefused)
			}
		}
	}
	for name, data := range files {
		if err := writeFileAtomic(filepath.Join(dir, name), data, true); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic writes data to a randomly named dotfile beside the
// target, syncs it, and renames it into place.
func writeFileAtomic(target string, data []byte, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("%s: %w", target, ErrOverwriteRefused)
		}
	}

	dir := filepath.Dir(target)
	var random [4]byte
	rand.Read(random[:]) //nolint:errcheck
	tmp := filepath.Join(dir, fmt.Sprintf(".%d-%d-%s.tmp",
		os.Getpid(), time.Now().UnixNano(), hex.EncodeToString(random[:])))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Combine unions tables column-wise and concatenates their rows. Columns
// matching by name and type share one output column; a name collision with
// a different type lands in an additional type-suffixed column. Regions a
// source table does not cover stay zero.
func Combine(tables []*DataTable) (*DataTable, error) {
	if len(tables) == 0 {
		return nil, ErrEmptyTable
	}
	if len(tables) == 1 {
		return tables[0], nil
	}

	totalRows := 0
	for _, t := range tables {
		totalRows += t.NumRows()
	}

	type colKey struct {
		name string
		typ  DataType
	}
	var outColumns []*Column
	index := make(map[colKey]*Column)
	taken := make(map[string]struct{})

	for _, t := range tables {
		for _, c := range t.Columns {
			key := colKey{c.Name, c.Type()}
			if _, ok := index[key]; ok {
				continue
			}
			name := c.Name
			if _, clash := taken[name]; clash {
				name = name + "_" + c.Type().String()
			}
			out := NewColumn(name, c.Type(), totalRows)
			index[key] = out
			taken[name] = struct{}{}
			outColumns = append(outColumns, out)
		}
	}

	base := 0
	for _, t := range tables {
		for _, c := range t.Columns {
			out := index[colKey{c.Name, c.Type()}]
			copyColumnRegion(out, base, c)
		}
		base += t.NumRows()
	}
	return NewDataTable(outColumns)
}

// copyColumnRegion copies src into dst starting at row base; the types are
// known to match.
func copyColumnRegion(dst *Column, base int, src *Column) {
	switch d := dst.Data.(type) {
	case []int8:
		copy(d[base:], src.Data.([]int8))
	case []uint8:
		copy(d[base:], src.Data.([]uint8))
	case []int16:
		copy(d[base:], src.Data.([]int16))
	case []uint16:
		copy(d[base:], src.Data.([]uint16))
	case []int32:
		copy(d[base:], src.Data.([]int32))
	case []uint32:
		copy(d[base:], src.Data.([]uint32))
	case []float32:
		copy(d[base:], src.Data.([]float32))
	case []float64:
		copy(d[base:], src.Data.([]float64))
	}
}

// concatTables is the internal row concatenation used by multi-part
// readers.
func concatTables(tables []*DataTable) (*DataTable, error) {
	return Combine(tables)
}

// SeparateEnvironment splits rows tagged lod == -1 into their own table.
// Tables without a lod column pass through unchanged with a nil
// environment.
func SeparateEnvironment(dt *DataTable) (*DataTable, *DataTable) {
	lod := dt.GetColumn("lod")
	if lod == nil {
		return dt, nil
	}

	var main, env []uint32
	for i := 0; i < dt.NumRows(); i++ {
		if lod.Get(i) == -1 {
			env = append(env, uint32(i))
		} else {
			main = append(main, uint32(i))
		}
	}
	if len(env) == 0 {
		return dt, nil
	}
	return dt.PermuteRows(main), dt.PermuteRows(env)
}
