// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"fmt"
	"io"
	"math"
)

// chunkFieldNames is the schema of the compressed ply chunk element: per
// chunk min/max for position, log-scale and linear-space color.
var chunkFieldNames = []string{
	"min_x", "min_y", "min_z",
	"max_x", "max_y", "max_z",
	"min_scale_x", "min_scale_y", "min_scale_z",
	"max_scale_x", "max_scale_y", "max_scale_z",
	"min_r", "min_g", "min_b",
	"max_r", "max_g", "max_b",
}

// packedFieldNames is the schema of the compressed ply vertex element.
var packedFieldNames = []string{
	"packed_position", "packed_rotation", "packed_scale", "packed_color",
}

// isCompressedPly detects the chunked quantized splat layout: exactly two or
// three elements named chunk, vertex and optionally sh with the prescribed
// column schemas.
func isCompressedPly(data *PlyData) bool {
	if len(data.Elements) != 2 && len(data.Elements) != 3 {
		return false
	}

	chunk := data.Element("chunk")
	vertex := data.Element("vertex")
	if chunk == nil || chunk.Table == nil || vertex == nil || vertex.Table == nil {
		return false
	}
	if len(chunk.Table.Columns) != len(chunkFieldNames) {
		return false
	}
	for i, name := range chunkFieldNames {
		c := chunk.Table.Columns[i]
		if c.Name != name || c.Type() != TypeFloat32 {
			return false
		}
	}
	if len(vertex.Table.Columns) != len(packedFieldNames) {
		return false
	}
	for i, name := range packedFieldNames {
		c := vertex.Table.Columns[i]
		if c.Name != name || c.Type() != TypeUint32 {
			return false
		}
	}

	if len(data.Elements) == 3 {
		sh := data.Element("sh")
		if sh == nil || sh.Table == nil {
			return false
		}
		n := len(sh.Table.Columns)
		if n != 9 && n != 24 && n != 45 {
			return false
		}
		for i, c := range sh.Table.Columns {
			if c.Name != shRestName(i) || c.Type() != TypeUint8 {
				return false
			}
		}
	}
	return true
}

// unpack111011 splits an 11/10/11 packed word into three [0, 1] fractions.
func unpack111011(u uint32) (float64, float64, float64) {
	x := float64(u>>21&0x7FF) / 2047
	y := float64(u>>11&0x3FF) / 1023
	z := float64(u&0x7FF) / 2047
	return x, y, z
}

// pack111011 quantizes three [0, 1] fractions into an 11/10/11 word.
func pack111011(x, y, z float64) uint32 {
	qx := uint32(math.Round(clamp(x, 0, 1) * 2047))
	qy := uint32(math.Round(clamp(y, 0, 1) * 1023))
	qz := uint32(math.Round(clamp(z, 0, 1) * 2047))
	return qx<<21 | qy<<11 | qz
}

// unpackRotation decodes a smallest-three quaternion word into (w, x, y, z).
func unpackRotation(u uint32) Quat {
	norm := math.Sqrt2
	a := (float64(u>>20&0x3FF)/1023 - 0.5) * norm
	b := (float64(u>>10&0x3FF)/1023 - 0.5) * norm
	c := (float64(u&0x3FF)/1023 - 0.5) * norm
	m := math.Sqrt(math.Max(0, 1-a*a-b*b-c*c))

	switch u >> 30 {
	case 0:
		return Quat{W: m, X: a, Y: b, Z: c}
	case 1:
		return Quat{W: a, X: m, Y: b, Z: c}
	case 2:
		return Quat{W: a, X: b, Y: m, Z: c}
	default:
		return Quat{W: a, X: b, Y: c, Z: m}
	}
}

// packRotation encodes a quaternion by dropping its largest-magnitude
// component, storing the other three as 10-bit fractions of [-√0.5, √0.5].
func packRotation(q Quat) uint32 {
	q = q.normalize()
	comps := [4]float64{q.W, q.X, q.Y, q.Z}
	largest := 0
	for i := 1; i < 4; i++ {
		if math.Abs(comps[i]) > math.Abs(comps[largest]) {
			largest = i
		}
	}
	if comps[largest] < 0 {
		for i := range comps {
			comps[i] = -comps[i]
		}
	}

	packed := uint32(largest) << 30
	shift := 20
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		u := uint32(math.Round(clamp(comps[i]/math.Sqrt2+0.5, 0, 1) * 1023))
		packed |= u << shift
		shift -= 10
	}
	return packed
}

// decodePackedSH maps a stored uint8 back to an SH coefficient with exact
// saturation at the range ends.
func decodePackedSH(b uint8) float64 {
	n := (float64(b) + 0.5) / 256
	if b == 0 {
		n = 0
	} else if b == 255 {
		n = 1
	}
	return (n - 0.5) * 8
}

// encodePackedSH quantizes an SH coefficient into a uint8.
func encodePackedSH(v float64) uint8 {
	return uint8(clamp(math.Floor((v/8+0.5)*256), 0, 255))
}

// DecompressPly expands a compressed ply layout into a standard
// Gaussian-Splat table.
func DecompressPly(data *PlyData) (*DataTable, error) {
	chunks := data.Element("chunk").Table
	vertices := data.Element("vertex").Table

	numSplats := vertices.NumRows()
	if chunks.NumRows()*ChunkSize < numSplats {
		return nil, ErrChunkCount
	}

	var shCols int
	var shTable *DataTable
	if sh := data.Element("sh"); sh != nil {
		shTable = sh.Table
		shCols = len(shTable.Columns)
		if shTable.NumRows() != numSplats {
			return nil, fmt.Errorf("sh element row count %d does not match vertex count %d",
				shTable.NumRows(), numSplats)
		}
	}

	columns := make([]*Column, 0, 14+shCols)
	for _, name := range gaussianColumns {
		columns = append(columns, NewColumn(name, TypeFloat32, numSplats))
	}
	for i := 0; i < shCols; i++ {
		columns = append(columns, NewColumn(shRestName(i), TypeFloat32, numSplats))
	}
	out, err := NewDataTable(columns)
	if err != nil {
		return nil, err
	}

	chunkData := make([][]float32, len(chunkFieldNames))
	for i := range chunkFieldNames {
		chunkData[i] = chunks.Columns[i].Float32()
	}
	packedPosition := vertices.Columns[0].Uint32()
	packedRotation := vertices.Columns[1].Uint32()
	packedScale := vertices.Columns[2].Uint32()
	packedColor := vertices.Columns[3].Uint32()

	x := out.GetColumn("x").Float32()
	y := out.GetColumn("y").Float32()
	z := out.GetColumn("z").Float32()
	rot := [4][]float32{
		out.GetColumn("rot_0").Float32(), out.GetColumn("rot_1").Float32(),
		out.GetColumn("rot_2").Float32(), out.GetColumn("rot_3").Float32(),
	}
	scale := [3][]float32{
		out.GetColumn("scale_0").Float32(), out.GetColumn("scale_1").Float32(),
		out.GetColumn("scale_2").Float32(),
	}
	dc := [3][]float32{
		out.GetColumn("f_dc_0").Float32(), out.GetColumn("f_dc_1").Float32(),
		out.GetColumn("f_dc_2").Float32(),
	}
	opacity := out.GetColumn("opacity").Float32()
	shDst := make([][]float32, shCols)
	shPacked := make([][]uint8, shCols)
	for k := 0; k < shCols; k++ {
		shDst[k] = out.Columns[14+k].Float32()
		shPacked[k] = shTable.Columns[k].Uint8()
	}

	for i := 0; i < numSplats; i++ {
		ci := i / ChunkSize

		px, py, pz := unpack111011(packedPosition[i])
		x[i] = float32(lerp(float64(chunkData[0][ci]), float64(chunkData[3][ci]), px))
		y[i] = float32(lerp(float64(chunkData[1][ci]), float64(chunkData[4][ci]), py))
		z[i] = float32(lerp(float64(chunkData[2][ci]), float64(chunkData[5][ci]), pz))

		sx, sy, sz := unpack111011(packedScale[i])
		scale[0][i] = float32(lerp(float64(chunkData[6][ci]), float64(chunkData[9][ci]), sx))
		scale[1][i] = float32(lerp(float64(chunkData[7][ci]), float64(chunkData[10][ci]), sy))
		scale[2][i] = float32(lerp(float64(chunkData[8][ci]), float64(chunkData[11][ci]), sz))

		q := unpackRotation(packedRotation[i])
		rot[0][i] = float32(q.W)
		rot[1][i] = float32(q.X)
		rot[2][i] = float32(q.Y)
		rot[3][i] = float32(q.Z)

		pc := packedColor[i]
		for k := 0; k < 3; k++ {
			v := float64(pc>>(24-8*k)&0xFF) / 255
			lo := float64(chunkData[12+k][ci])
			hi := float64(chunkData[15+k][ci])
			dc[k][i] = float32((lerp(lo, hi, v) - 0.5) / SHC0)
		}
		opacity[i] = float32(logit(float64(pc&0xFF) / 255))

		for k := 0; k < shCols; k++ {
			shDst[k][i] = float32(decodePackedSH(shPacked[k][i]))
		}
	}
	return out, nil
}

// CompressPly quantizes a Gaussian-Splat table into the chunked compressed
// ply layout.
func CompressPly(dt *DataTable) (*PlyData, error) {
	if dt.NumRows() == 0 {
		return nil, ErrEmptyTable
	}
	if !IsGaussianSplat(dt) {
		return nil, ErrNotGaussianSplat
	}

	numSplats := dt.NumRows()
	numChunks := (numSplats + ChunkSize - 1) / ChunkSize
	shCols := shBandCoeffs[SHDegree(dt)] * 3

	chunkColumns := make([]*Column, len(chunkFieldNames))
	for i, name := range chunkFieldNames {
		chunkColumns[i] = NewColumn(name, TypeFloat32, numChunks)
	}
	chunkTable, err := NewDataTable(chunkColumns)
	if err != nil {
		return nil, err
	}

	vertexColumns := make([]*Column, len(packedFieldNames))
	for i, name := range packedFieldNames {
		vertexColumns[i] = NewColumn(name, TypeUint32, numSplats)
	}
	vertexTable, err := NewDataTable(vertexColumns)
	if err != nil {
		return nil, err
	}

	var shColumns []*Column
	if shCols > 0 {
		shColumns = make([]*Column, shCols)
		for i := range shColumns {
			shColumns[i] = NewColumn(shRestName(i), TypeUint8, numSplats)
		}
	}

	x := dt.GetColumn("x")
	y := dt.GetColumn("y")
	z := dt.GetColumn("z")
	rotCols := [4]*Column{
		dt.GetColumn("rot_0"), dt.GetColumn("rot_1"),
		dt.GetColumn("rot_2"), dt.GetColumn("rot_3"),
	}
	scaleCols := [3]*Column{
		dt.GetColumn("scale_0"), dt.GetColumn("scale_1"), dt.GetColumn("scale_2"),
	}
	dcCols := [3]*Column{
		dt.GetColumn("f_dc_0"), dt.GetColumn("f_dc_1"), dt.GetColumn("f_dc_2"),
	}
	opacityCol := dt.GetColumn("opacity")
	shSrc := make([]*Column, shCols)
	for k := range shSrc {
		shSrc[k] = dt.GetColumn(shRestName(k))
	}

	// splatValues reads the nine quantized scalars of splat i: linear
	// position, log scale and linear-space color.
	splatValues := func(i int) (pos, scl, col [3]float64) {
		pos = [3]float64{x.Get(i), y.Get(i), z.Get(i)}
		for k := 0; k < 3; k++ {
			scl[k] = scaleCols[k].Get(i)
			col[k] = 0.5 + SHC0*dcCols[k].Get(i)
		}
		return pos, scl, col
	}

	for ci := 0; ci < numChunks; ci++ {
		start := ci * ChunkSize
		end := start + ChunkSize
		if end > numSplats {
			end = numSplats
		}

		var minPos, maxPos, minScl, maxScl, minCol, maxCol [3]float64
		for i := start; i < end; i++ {
			pos, scl, col := splatValues(i)
			if i == start {
				minPos, maxPos = pos, pos
				minScl, maxScl = scl, scl
				minCol, maxCol = col, col
				continue
			}
			for k := 0; k < 3; k++ {
				minPos[k] = math.Min(minPos[k], pos[k])
				maxPos[k] = math.Max(maxPos[k], pos[k])
				minScl[k] = math.Min(minScl[k], scl[k])
				maxScl[k] = math.Max(maxScl[k], scl[k])
				minCol[k] = math.Min(minCol[k], col[k])
				maxCol[k] = math.Max(maxCol[k], col[k])
			}
		}

		for k := 0; k < 3; k++ {
			chunkColumns[k].Set(ci, minPos[k])
			chunkColumns[3+k].Set(ci, maxPos[k])
			chunkColumns[6+k].Set(ci, minScl[k])
			chunkColumns[9+k].Set(ci, maxScl[k])
			chunkColumns[12+k].Set(ci, minCol[k])
			chunkColumns[15+k].Set(ci, maxCol[k])
		}

		// Quantize against the float32 bounds actually stored, so decode
		// lerps against identical endpoints.
		for k := 0; k < 3; k++ {
			minPos[k] = chunkColumns[k].Get(ci)
			maxPos[k] = chunkColumns[3+k].Get(ci)
			minScl[k] = chunkColumns[6+k].Get(ci)
			maxScl[k] = chunkColumns[9+k].Get(ci)
			minCol[k] = chunkColumns[12+k].Get(ci)
			maxCol[k] = chunkColumns[15+k].Get(ci)
		}

		for i := start; i < end; i++ {
			pos, scl, col := splatValues(i)

			vertexColumns[0].Uint32()[i] = pack111011(
				unlerp(minPos[0], maxPos[0], pos[0]),
				unlerp(minPos[1], maxPos[1], pos[1]),
				unlerp(minPos[2], maxPos[2], pos[2]))
			vertexColumns[2].Uint32()[i] = pack111011(
				unlerp(minScl[0], maxScl[0], scl[0]),
				unlerp(minScl[1], maxScl[1], scl[1]),
				unlerp(minScl[2], maxScl[2], scl[2]))

			q := Quat{
				W: rotCols[0].Get(i), X: rotCols[1].Get(i),
				Y: rotCols[2].Get(i), Z: rotCols[3].Get(i),
			}
			vertexColumns[1].Uint32()[i] = packRotation(q)

			var packed uint32
			for k := 0; k < 3; k++ {
				b := uint32(math.Round(clamp(unlerp(minCol[k], maxCol[k], col[k]), 0, 1) * 255))
				packed |= b << (24 - 8*k)
			}
			a := uint32(math.Round(clamp(sigmoid(opacityCol.Get(i)), 0, 1) * 255))
			vertexColumns[3].Uint32()[i] = packed | a

			for k := 0; k < shCols; k++ {
				shColumns[k].Uint8()[i] = encodePackedSH(shSrc[k].Get(i))
			}
		}
	}

	data := &PlyData{
		Comments: []string{"generated by " + Generator},
		Elements: []*PlyElement{
			{Name: "chunk", Count: numChunks, Table: chunkTable},
			{Name: "vertex", Count: numSplats, Table: vertexTable},
		},
	}
	if shCols > 0 {
		shTable, err := NewDataTable(shColumns)
		if err != nil {
			return nil, err
		}
		data.Elements = append(data.Elements,
			&PlyElement{Name: "sh", Count: numSplats, Table: shTable})
	}
	return data, nil
}

// WriteCompressedPly compresses the table and emits it as a ply stream.
func WriteCompressedPly(w io.Writer, dt *DataTable) error {
	data, err := CompressPly(dt)
	if err != nil {
		return err
	}
	return WritePlyData(w, data)
}
