// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ksplat layout constants.
const (
	ksplatMainHeaderSize    = 4096
	ksplatSectionHeaderSize = 1024

	// Main header field offsets.
	ksplatMaxSectionsOffset = 4
	ksplatSectionsOffset    = 8
	ksplatCountOffset       = 16
	ksplatCompressionOffset = 20
	ksplatSHMinOffset       = 36
	ksplatSHMaxOffset       = 40

	// Compression mode 0 stores 44 bytes per splat: position, scale,
	// rotation and color.
	ksplatUncompressedSize = 44
)

// ReadKsplat decodes a .ksplat stream. Only compression mode 0 is
// supported; quantized modes fail with a clear error.
func ReadKsplat(source ReadSource) (*DataTable, error) {
	stream, err := source.Read(0, SizeUnknown)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	data, err := ReadAll(stream)
	if err != nil {
		return nil, err
	}
	if len(data) < ksplatMainHeaderSize {
		return nil, fmt.Errorf("ksplat file too small for main header")
	}

	numSplats := int(binary.LittleEndian.Uint32(data[ksplatCountOffset:]))
	mode := binary.LittleEndian.Uint32(data[ksplatCompressionOffset:])
	sections := int(binary.LittleEndian.Uint32(data[ksplatSectionsOffset:]))
	if mode != 0 {
		return nil, fmt.Errorf("ksplat compression mode %d is not supported", mode)
	}
	if sections <= 0 {
		sections = 1
	}

	columns := make([]*Column, len(gaussianColumns))
	for i, name := range gaussianColumns {
		columns[i] = NewColumn(name, TypeFloat32, numSplats)
	}
	dt, err := NewDataTable(columns)
	if err != nil {
		return nil, err
	}

	f32 := func(off int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
	}

	splat := 0
	offset := ksplatMainHeaderSize
	for s := 0; s < sections && splat < numSplats; s++ {
		if offset+ksplatSectionHeaderSize > len(data) {
			return nil, fmt.Errorf("ksplat section %d header out of bounds", s)
		}
		sectionSplats := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += ksplatSectionHeaderSize
		if sectionSplats == 0 {
			sectionSplats = numSplats - splat
		}
		if offset+sectionSplats*ksplatUncompressedSize > len(data) {
			return nil, fmt.Errorf("ksplat section %d data out of bounds", s)
		}

		for i := 0; i < sectionSplats && splat < numSplats; i++ {
			base := offset + i*ksplatUncompressedSize

			columns[0].Set(splat, f32(base))
			columns[1].Set(splat, f32(base+4))
			columns[2].Set(splat, f32(base+8))

			for k := 0; k < 3; k++ {
				columns[7+k].Set(splat, math.Log(math.Max(f32(base+12+4*k), 1e-20)))
			}

			// Rotation is stored as four float32 (w, x, y, z).
			q := Quat{
				W: f32(base + 24), X: f32(base + 28),
				Y: f32(base + 32), Z: f32(base + 36),
			}.normalize()
			columns[3].Set(splat, q.W)
			columns[4].Set(splat, q.X)
			columns[5].Set(splat, q.Y)
			columns[6].Set(splat, q.Z)

			for k := 0; k < 3; k++ {
				columns[10+k].Set(splat, (float64(data[base+40+k])/255-0.5)/SHC0)
			}
			columns[13].Set(splat, logit(float64(data[base+43])/255))
			splat++
		}
		offset += sectionSplats * ksplatUncompressedSize
	}

	if splat != numSplats {
		return nil, fmt.Errorf("ksplat sections hold %d splats, header declares %d",
			splat, numSplats)
	}
	return dt, nil
}
