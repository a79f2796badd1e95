// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// lodMeta is the lod-meta.json document tying levels, chunk files and
// bounds together.
type lodMeta struct {
	Version     int            `json:"version"`
	Generator   string         `json:"generator"`
	ChunkExtent float64        `json:"chunkExtent"`
	Levels      []lodMetaLevel `json:"levels"`
	Environment *lodMetaChunk  `json:"environment,omitempty"`
}

type lodMetaLevel struct {
	Lod    int            `json:"lod"`
	Count  int            `json:"count"`
	Chunks []lodMetaChunk `json:"chunks"`
}

type lodMetaChunk struct {
	File  string    `json:"file"`
	Count int       `json:"count"`
	Mins  []float64 `json:"mins,omitempty"`
	Maxs  []float64 `json:"maxs,omitempty"`
}

// EncodeLod splits the table by its lod column, spatially chunks each
// level into SOG bundles and emits the lod-meta.json document. Environment
// splats (already separated by the caller) land in the dedicated
// environment slot.
func EncodeLod(dt, env *DataTable, opts Options) (map[string][]byte, error) {
	opts = opts.defaults()
	if dt == nil || dt.NumRows() == 0 {
		return nil, ErrEmptyTable
	}
	if !IsGaussianSplat(dt) {
		return nil, ErrNotGaussianSplat
	}

	// Levels present in the table; everything is level 0 when untagged.
	lodCol := dt.GetColumn("lod")
	levelRows := make(map[int][]uint32)
	for i := 0; i < dt.NumRows(); i++ {
		level := 0
		if lodCol != nil {
			level = int(lodCol.Get(i))
		}
		levelRows[level] = append(levelRows[level], uint32(i))
	}

	selected := func(level int) bool {
		if len(opts.LodSelect) == 0 {
			return true
		}
		for _, l := range opts.LodSelect {
			if l == level {
				return true
			}
		}
		return false
	}

	levels := make([]int, 0, len(levelRows))
	for level := range levelRows {
		if selected(level) {
			levels = append(levels, level)
		}
	}
	sort.Ints(levels)
	if len(levels) == 0 && (env == nil || env.NumRows() == 0) {
		return nil, ErrEmptyTable
	}

	files := make(map[string][]byte)
	meta := lodMeta{
		Version:     1,
		Generator:   Generator,
		ChunkExtent: opts.LodChunkExtent,
	}

	for _, level := range levels {
		rows := levelRows[level]
		chunks, err := chunkLevel(dt, rows, level, opts, files)
		if err != nil {
			return nil, err
		}
		meta.Levels = append(meta.Levels, lodMetaLevel{
			Lod:    level,
			Count:  len(rows),
			Chunks: chunks,
		})
	}

	if env != nil && env.NumRows() > 0 {
		envTable := env.Clone()
		envTable.RemoveColumn("lod")
		data, err := encodeSogBundleBytes(envTable, opts)
		if err != nil {
			return nil, fmt.Errorf("environment: %w", err)
		}
		files["env.sog"] = data
		meta.Environment = &lodMetaChunk{File: "env.sog", Count: env.NumRows()}
	}

	doc, err := json.MarshalIndent(&meta, "", "    ")
	if err != nil {
		return nil, err
	}
	files["lod-meta.json"] = doc
	return files, nil
}

// chunkLevel groups one level's rows into extent-sized cells, orders each
// cell spatially and slices it into chunk files of at most LodChunkCount
// splats.
func chunkLevel(dt *DataTable, rows []uint32, level int, opts Options, files map[string][]byte) ([]lodMetaChunk, error) {
	x := dt.GetColumn("x")
	y := dt.GetColumn("y")
	z := dt.GetColumn("z")

	type cellKey [3]int32
	cells := make(map[cellKey][]uint32)
	for _, row := range rows {
		key := cellKey{
			int32(math.Floor(x.Get(int(row)) / opts.LodChunkExtent)),
			int32(math.Floor(y.Get(int(row)) / opts.LodChunkExtent)),
			int32(math.Floor(z.Get(int(row)) / opts.LodChunkExtent)),
		}
		cells[key] = append(cells[key], row)
	}

	keys := make([]cellKey, 0, len(cells))
	for key := range cells {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a][0] != keys[b][0] {
			return keys[a][0] < keys[b][0]
		}
		if keys[a][1] != keys[b][1] {
			return keys[a][1] < keys[b][1]
		}
		return keys[a][2] < keys[b][2]
	})

	var chunks []lodMetaChunk
	for _, key := range keys {
		cellRows := cells[key]
		MortonOrder(dt, cellRows)

		for start := 0; start < len(cellRows); start += opts.LodChunkCount {
			end := start + opts.LodChunkCount
			if end > len(cellRows) {
				end = len(cellRows)
			}
			slice := cellRows[start:end]

			chunkTable := dt.PermuteRows(slice)
			chunkTable.RemoveColumn("lod")
			data, err := encodeSogBundleBytes(chunkTable, opts)
			if err != nil {
				return nil, err
			}

			mins := []float64{math.Inf(1), math.Inf(1), math.Inf(1)}
			maxs := []float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
			for _, row := range slice {
				p := Vec3{x.Get(int(row)), y.Get(int(row)), z.Get(int(row))}
				for k := 0; k < 3; k++ {
					mins[k] = math.Min(mins[k], p[k])
					maxs[k] = math.Max(maxs[k], p[k])
				}
			}

			name := fmt.Sprintf("chunk_%d_%d.sog", level, len(chunks))
			files[name] = data
			chunks = append(chunks, lodMetaChunk{
				File:  name,
				Count: len(slice),
				Mins:  mins,
				Maxs:  maxs,
			})
		}
	}
	return chunks, nil
}

func encodeSogBundleBytes(dt *DataTable, opts Options) ([]byte, error) {
	sogFiles, err := EncodeSog(dt, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteSogBundle(&buf, sogFiles); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
