// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"encoding/binary"
	"fmt"
	"math"
)

// splatRecordSize is the fixed record length of the antimatter15 .splat
// format: 3 float32 position, 3 float32 linear scale, 4 uint8 color and
// 4 uint8 quaternion.
const splatRecordSize = 32

// ReadSplat decodes a .splat stream into a Gaussian-Splat table.
func ReadSplat(source ReadSource) (*DataTable, error) {
	stream, err := source.Read(0, SizeUnknown)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	data, err := ReadAll(stream)
	if err != nil {
		return nil, err
	}

	if len(data)%splatRecordSize != 0 {
		return nil, fmt.Errorf("splat file length %d is not a multiple of %d",
			len(data), splatRecordSize)
	}
	numSplats := len(data) / splatRecordSize

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

	for i := 0; i < numSplats; i++ {
		base := i * splatRecordSize

		columns[0].Set(i, f32(base))
		columns[1].Set(i, f32(base+4))
		columns[2].Set(i, f32(base+8))

		for k := 0; k < 3; k++ {
			columns[7+k].Set(i, math.Log(math.Max(f32(base+12+4*k), 1e-20)))
		}

		for k := 0; k < 3; k++ {
			columns[10+k].Set(i, (float64(data[base+24+k])/255-0.5)/SHC0)
		}
		columns[13].Set(i, logit(float64(data[base+27])/255))

		// Each quaternion channel maps (byte/255)*2 - 1, renormalized.
		q := Quat{
			W: float64(data[base+28])/255*2 - 1,
			X: float64(data[base+29])/255*2 - 1,
			Y: float64(data[base+30])/255*2 - 1,
			Z: float64(data[base+31])/255*2 - 1,
		}.normalize()
		columns[3].Set(i, q.W)
		columns[4].Set(i, q.X)
		columns[5].Set(i, q.Y)
		columns[6].Set(i, q.Z)
	}
	return dt, nil
}
