// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
)

// spz layout constants.
const (
	spzMagic      = 0x5053474E // "NGSP" little-endian
	spzHeaderSize = 16
)

// ReadSpz decodes a Niantic .spz stream. Gzip-wrapped payloads are detected
// by magic and decompressed transparently.
func ReadSpz(source ReadSource) (*DataTable, error) {
	stream, err := source.Read(0, SizeUnknown)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	data, err := ReadAll(stream)
	if err != nil {
		return nil, err
	}

	if len(data) >= 2 && data[0] == 0x1F && data[1] == 0x8B {
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("spz gzip wrapper: %w", err)
		}
		if data, err = io.ReadAll(gr); err != nil {
			gr.Close()
			return nil, fmt.Errorf("spz gzip payload: %w", err)
		}
		gr.Close()
	}

	if len(data) < spzHeaderSize {
		return nil, fmt.Errorf("spz file too small for header")
	}
	if binary.LittleEndian.Uint32(data) != spzMagic {
		return nil, fmt.Errorf("spz magic not found")
	}
	version := binary.LittleEndian.Uint32(data[4:])
	if version != 2 && version != 3 {
		return nil, fmt.Errorf("unsupported spz version %d", version)
	}
	numSplats := int(binary.LittleEndian.Uint32(data[8:]))
	shDegree := int(data[12])
	fractionalBits := int(data[13])
	if shDegree > 3 {
		return nil, fmt.Errorf("invalid spz sh degree %d", shDegree)
	}

	coeffs := shBandCoeffs[shDegree]
	shCols := coeffs * 3

	// Payload sections, each contiguous across all splats: positions,
	// alphas, colors, scales, rotations, then optional sh.
	posOff := spzHeaderSize
	alphaOff := posOff + numSplats*9
	colorOff := alphaOff + numSplats
	scaleOff := colorOff + numSplats*3
	rotOff := scaleOff + numSplats*3
	shOff := rotOff + numSplats*3
	if shOff+numSplats*shCols > len(data) {
		return nil, fmt.Errorf("spz payload truncated")
	}

	columns := make([]*Column, 0, len(gaussianColumns)+shCols)
	for _, name := range gaussianColumns {
		columns = append(columns, NewColumn(name, TypeFloat32, numSplats))
	}
	for i := 0; i < shCols; i++ {
		columns = append(columns, NewColumn(shRestName(i), TypeFloat32, numSplats))
	}
	dt, err := NewDataTable(columns)
	if err != nil {
		return nil, err
	}

	posScale := 1 / float64(int64(1)<<uint(fractionalBits))
	fixed24 := func(off int) float64 {
		u := uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16
		// Sign-extend the 24-bit value.
		if u&0x800000 != 0 {
			u |= 0xFF000000
		}
		return float64(int32(u)) * posScale
	}

	for i := 0; i < numSplats; i++ {
		columns[0].Set(i, fixed24(posOff+i*9))
		columns[1].Set(i, fixed24(posOff+i*9+3))
		columns[2].Set(i, fixed24(posOff+i*9+6))

		// Opacity bytes hold a linear alpha; the table stores a logit.
		columns[13].Set(i, logit(float64(data[alphaOff+i])/255))

		for k := 0; k < 3; k++ {
			columns[10+k].Set(i, (float64(data[colorOff+i*3+k])/255-0.5)/SHC0Spz)
			columns[7+k].Set(i, float64(data[scaleOff+i*3+k])/16-10)
		}

		// Rotation stores (x, y, z); the scalar part is reconstructed
		// non-negative from the unit constraint.
		qx := float64(data[rotOff+i*3])/127.5 - 1
		qy := float64(data[rotOff+i*3+1])/127.5 - 1
		qz := float64(data[rotOff+i*3+2])/127.5 - 1
		qw := math.Sqrt(math.Max(0, 1-qx*qx-qy*qy-qz*qz))
		columns[3].Set(i, qw)
		columns[4].Set(i, qx)
		columns[5].Set(i, qy)
		columns[6].Set(i, qz)

		// SH bytes are coefficient-major triples (r, g, b); the table
		// layout is channel-major.
		for j := 0; j < coeffs; j++ {
			for ch := 0; ch < 3; ch++ {
				v := (float64(data[shOff+i*shCols+j*3+ch]) - 128) / 128
				columns[14+ch*coeffs+j].Set(i, v)
			}
		}
	}
	return dt, nil
}
