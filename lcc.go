// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/playcanvas/splat-transform/log"
)

// lccManifest is the JSON document a .lcc file holds. Sibling binaries
// carry the quadtree index and per-splat payloads.
type lccManifest struct {
	Name     string `json:"name"`
	Version  int    `json:"version"`
	LodCount int    `json:"lodCount"`
	HasSH    bool   `json:"hasShCoef"`
	HasEnv   bool   `json:"hasEnvironment"`
}

// lccUnitLod is one per-LOD slice of a quadtree unit descriptor.
type lccUnitLod struct {
	points int32
	offset int64
	size   int32
}

// ReadLcc ingests an XGRIDS .lcc scene: the manifest names the sibling
// index/data/shcoef/environment binaries resolved through fs relative to
// the manifest path. Every LOD present is ingested and tagged through the
// lod column; environment splats are tagged lod = -1. A failed environment
// read is warned and skipped.
func ReadLcc(fs ReadFileSystem, name string, logger log.Logger) (*DataTable, error) {
	manifestData, err := slurpFile(fs, name)
	if err != nil {
		return nil, err
	}
	var manifest lccManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("parsing lcc manifest: %w", err)
	}
	if manifest.LodCount <= 0 {
		manifest.LodCount = 1
	}

	dir := path.Dir(name)
	sibling := func(base string) string {
		if dir == "." && !strings.Contains(name, "/") {
			return base
		}
		return path.Join(dir, base)
	}

	index, err := slurpFile(fs, sibling("index.bin"))
	if err != nil {
		return nil, err
	}
	payload, err := slurpFile(fs, sibling("data.bin"))
	if err != nil {
		return nil, err
	}
	var shData []byte
	if manifest.HasSH {
		if shData, err = slurpFile(fs, sibling("shcoef.bin")); err != nil {
			return nil, err
		}
	}

	// Each unit descriptor holds a 2D cell coordinate plus one
	// (points, offset, size) triple per LOD.
	unitSize := 4 + 16*manifest.LodCount
	if len(index)%unitSize != 0 {
		return nil, fmt.Errorf("lcc index length %d is not a multiple of unit size %d",
			len(index), unitSize)
	}
	numUnits := len(index) / unitSize

	var tables []*DataTable
	for u := 0; u < numUnits; u++ {
		base := u * unitSize
		for lod := 0; lod < manifest.LodCount; lod++ {
			rec := base + 4 + lod*16
			unit := lccUnitLod{
				points: int32(binary.LittleEndian.Uint32(index[rec:])),
				offset: int64(binary.LittleEndian.Uint64(index[rec+4:])),
				size:   int32(binary.LittleEndian.Uint32(index[rec+12:])),
			}
			if unit.points <= 0 {
				continue
			}
			end := unit.offset + int64(unit.size)
			if unit.offset < 0 || end > int64(len(payload)) {
				return nil, fmt.Errorf("lcc unit %d lod %d: %w", u, lod, ErrOutsideBoundary)
			}
			// shcoef.bin rows parallel data.bin records one to one.
			shBase := int(unit.offset / splatRecordSize * MaxSHCoeffs)
			dt, err := decodeLccSplats(payload[unit.offset:end], int(unit.points), lod, shData, shBase)
			if err != nil {
				return nil, err
			}
			tables = append(tables, dt)
		}
	}

	if manifest.HasEnv {
		env, err := slurpFile(fs, sibling("environment.bin"))
		if err != nil {
			// Environment splats are decorative; a failed read is the one
			// soft error of the ingest path.
			if logger != nil {
				log.NewHelper(logger).Warnf("skipping unreadable environment.bin: %v", err)
			}
		} else {
			dt, derr := decodeLccSplats(env, len(env)/splatRecordSize, -1, nil, 0)
			if derr != nil {
				return nil, derr
			}
			tables = append(tables, dt)
		}
	}

	if len(tables) == 0 {
		return nil, ErrEmptyTable
	}
	return concatTables(tables)
}

func slurpFile(fs ReadFileSystem, name string) ([]byte, error) {
	src, err := fs.CreateSource(name, nil)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	stream, err := src.Read(0, SizeUnknown)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return ReadAll(stream)
}

// decodeLccSplats decodes count 32-byte splat records, tagging every row
// with the given lod level and attaching SH coefficients when present.
func decodeLccSplats(data []byte, count, lod int, shData []byte, shBase int) (*DataTable, error) {
	if count*splatRecordSize > len(data) {
		return nil, fmt.Errorf("lcc payload truncated: %w", ErrOutsideBoundary)
	}
	dt, err := ReadSplat(NewMemorySource(data[:count*splatRecordSize]))
	if err != nil {
		return nil, err
	}

	lodCol := NewColumn("lod", TypeInt32, count)
	lods := lodCol.Data.([]int32)
	for i := range lods {
		lods[i] = int32(lod)
	}
	if err := dt.AddColumn(lodCol); err != nil {
		return nil, err
	}

	// 45 bytes per splat, channel-major, biased around 128 as in spz.
	if shData != nil && lod >= 0 && len(shData) >= shBase+count*MaxSHCoeffs {
		for k := 0; k < MaxSHCoeffs; k++ {
			col := NewColumn(shRestName(k), TypeFloat32, count)
			vals := col.Data.([]float32)
			for i := 0; i < count; i++ {
				vals[i] = float32(float64(shData[shBase+i*MaxSHCoeffs+k])-128) / 128
			}
			if err := dt.AddColumn(col); err != nil {
				return nil, err
			}
		}
	}
	return dt, nil
}
