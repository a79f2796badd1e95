// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// plyHeaderCap bounds how many header bytes the parser will consume before
// giving up on finding the end marker.
const plyHeaderCap = 128 * 1024

// plyChunkRows is the number of rows decoded per chunk when reading element
// data.
const plyChunkRows = 1024

// plyEndHeader is the 12-byte marker terminating the ascii header.
const plyEndHeader = "\nend_header\n"

// PlyElement is one element declaration and its decoded rows. The table's
// columns mirror the declared properties in order.
type PlyElement struct {
	Name  string
	Count int
	Table *DataTable
}

// PlyData is the parsed form of a ply file: comments plus an ordered list of
// elements.
type PlyData struct {
	Comments []string
	Elements []*PlyElement
}

// Element returns the named element, or nil.
func (p *PlyData) Element(name string) *PlyElement {
	for _, e := range p.Elements {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// plyTypeNames maps ply property type tokens to column types.
var plyTypeNames = map[string]DataType{
	"char":   TypeInt8,
	"uchar":  TypeUint8,
	"short":  TypeInt16,
	"ushort": TypeUint16,
	"int":    TypeInt32,
	"uint":   TypeUint32,
	"float":  TypeFloat32,
	"double": TypeFloat64,
}

// plyTypeTokens is the inverse of plyTypeNames, used by the writer.
var plyTypeTokens = map[DataType]string{
	TypeInt8:    "char",
	TypeUint8:   "uchar",
	TypeInt16:   "short",
	TypeUint16:  "ushort",
	TypeInt32:   "int",
	TypeUint32:  "uint",
	TypeFloat32: "float",
	TypeFloat64: "double",
}

func shRestName(i int) string {
	return "f_rest_" + strconv.Itoa(i)
}

// readPlyHeader consumes the stream byte-wise until the end_header marker and
// returns the raw header bytes including the marker.
func readPlyHeader(s ReadStream) ([]byte, error) {
	header := make([]byte, 0, 1024)
	one := make([]byte, 1)
	for {
		if len(header) >= plyHeaderCap {
			return nil, ErrPlyHeaderTooLarge
		}
		if err := readFull(s, one); err != nil {
			if err == io.ErrUnexpectedEOF {
				return nil, ErrPlyHeaderTooLarge
			}
			return nil, err
		}
		header = append(header, one[0])
		if len(header) == 4 && string(header) != "ply\n" {
			return nil, ErrNotPly
		}
		if len(header) >= len(plyEndHeader) &&
			string(header[len(header)-len(plyEndHeader):]) == plyEndHeader {
			return header, nil
		}
	}
}

// parsePlyHeader tokenizes the ascii header into element declarations.
// Carriage returns are ignored; only binary_little_endian 1.0 is accepted.
func parsePlyHeader(header []byte) (*PlyData, error) {
	data := &PlyData{}
	sawFormat := false

	lines := strings.Split(strings.ReplaceAll(string(header), "\r", ""), "\n")
	for _, line := range lines {
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "ply", "end_header":
			// Structural markers carry no payload.

		case "format":
			if len(tokens) != 3 || tokens[1] != "binary_little_endian" || tokens[2] != "1.0" {
				return nil, ErrPlyUnsupportedFormat
			}
			sawFormat = true

		case "comment":
			data.Comments = append(data.Comments, strings.TrimPrefix(line, "comment "))

		case "element":
			if len(tokens) != 3 {
				return nil, fmt.Errorf("malformed element declaration %q", line)
			}
			count, err := strconv.Atoi(tokens[2])
			if err != nil || count < 0 {
				return nil, fmt.Errorf("malformed element count %q", tokens[2])
			}
			data.Elements = append(data.Elements, &PlyElement{Name: tokens[1], Count: count})

		case "property":
			if len(tokens) != 3 {
				return nil, fmt.Errorf("malformed property declaration %q", line)
			}
			if tokens[1] == "list" {
				return nil, fmt.Errorf("list properties are not supported")
			}
			typ, ok := plyTypeNames[tokens[1]]
			if !ok {
				return nil, fmt.Errorf("unrecognized property type %q", tokens[1])
			}
			if len(data.Elements) == 0 {
				return nil, fmt.Errorf("property %q precedes any element", tokens[2])
			}
			elem := data.Elements[len(data.Elements)-1]
			col := NewColumn(tokens[2], typ, elem.Count)
			if elem.Table == nil {
				elem.Table = &DataTable{numRows: elem.Count}
			}
			if err := addPlyColumn(elem.Table, col); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("unrecognized header line %q", line)
		}
	}
	if !sawFormat {
		return nil, ErrPlyUnsupportedFormat
	}
	return data, nil
}

// addPlyColumn appends without the length check AddColumn performs, since
// header-declared columns are pre-sized to the element count.
func addPlyColumn(dt *DataTable, c *Column) error {
	if dt.HasColumn(c.Name) {
		return fmt.Errorf("column %q: %w", c.Name, ErrDuplicateColumn)
	}
	dt.Columns = append(dt.Columns, c)
	return nil
}

// readPlyElement decodes one element's row-interleaved body into its columns.
func readPlyElement(s ReadStream, elem *PlyElement) error {
	if elem.Table == nil || len(elem.Table.Columns) == 0 {
		return fmt.Errorf("element %q declares no properties", elem.Name)
	}

	rowSize := 0
	offsets := make([]int, len(elem.Table.Columns))
	allFloat := true
	for i, c := range elem.Table.Columns {
		offsets[i] = rowSize
		rowSize += c.Type().Size()
		if c.Type() != TypeFloat32 {
			allFloat = false
		}
	}

	buf := make([]byte, plyChunkRows*rowSize)
	for row := 0; row < elem.Count; row += plyChunkRows {
		rows := elem.Count - row
		if rows > plyChunkRows {
			rows = plyChunkRows
		}
		chunk := buf[:rows*rowSize]
		if err := readFull(s, chunk); err != nil {
			return fmt.Errorf("element %q row data: %w", elem.Name, err)
		}

		if allFloat {
			// Float fast path: transpose with a property-major inner loop
			// so each destination column is filled sequentially.
			for ci, c := range elem.Table.Columns {
				dst := c.Data.([]float32)[row:]
				off := offsets[ci]
				for r := 0; r < rows; r++ {
					bits := binary.LittleEndian.Uint32(chunk[r*rowSize+off:])
					dst[r] = math.Float32frombits(bits)
				}
			}
			continue
		}

		for ci, c := range elem.Table.Columns {
			off := offsets[ci]
			decodePlyColumn(c, row, rows, chunk, rowSize, off)
		}
	}
	return nil
}

// decodePlyColumn decodes rows of a single property from an interleaved
// chunk into the destination column.
func decodePlyColumn(c *Column, base, rows int, chunk []byte, rowSize, off int) {
	switch d := c.Data.(type) {
	case []int8:
		for r := 0; r < rows; r++ {
			d[base+r] = int8(chunk[r*rowSize+off])
		}
	case []uint8:
		for r := 0; r < rows; r++ {
			d[base+r] = chunk[r*rowSize+off]
		}
	case []int16:
		for r := 0; r < rows; r++ {
			d[base+r] = int16(binary.LittleEndian.Uint16(chunk[r*rowSize+off:]))
		}
	case []uint16:
		for r := 0; r < rows; r++ {
			d[base+r] = binary.LittleEndian.Uint16(chunk[r*rowSize+off:])
		}
	case []int32:
		for r := 0; r < rows; r++ {
			d[base+r] = int32(binary.LittleEndian.Uint32(chunk[r*rowSize+off:]))
		}
	case []uint32:
		for r := 0; r < rows; r++ {
			d[base+r] = binary.LittleEndian.Uint32(chunk[r*rowSize+off:])
		}
	case []float32:
		for r := 0; r < rows; r++ {
			d[base+r] = math.Float32frombits(binary.LittleEndian.Uint32(chunk[r*rowSize+off:]))
		}
	case []float64:
		for r := 0; r < rows; r++ {
			d[base+r] = math.Float64frombits(binary.LittleEndian.Uint64(chunk[r*rowSize+off:]))
		}
	}
}

// ReadPly parses a complete ply file from the source.
func ReadPly(source ReadSource) (*PlyData, error) {
	stream, err := source.Read(0, SizeUnknown)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	buffered := NewBufferedStream(stream, 0)

	header, err := readPlyHeader(buffered)
	if err != nil {
		return nil, err
	}
	data, err := parsePlyHeader(header)
	if err != nil {
		return nil, err
	}
	for _, elem := range data.Elements {
		if err := readPlyElement(buffered, elem); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// ReadPlyTable reads a ply file and produces its splat table: compressed ply
// layouts are routed through the decompressor, anything else must carry a
// vertex element.
func ReadPlyTable(source ReadSource) (*DataTable, error) {
	data, err := ReadPly(source)
	if err != nil {
		return nil, err
	}
	if isCompressedPly(data) {
		return DecompressPly(data)
	}
	vertex := data.Element("vertex")
	if vertex == nil || vertex.Table == nil {
		return nil, ErrPlyMissingVertex
	}
	return vertex.Table, nil
}

// WritePlyData emits the ply header and row-interleaved little-endian body.
func WritePlyData(w io.Writer, data *PlyData) error {
	var header strings.Builder
	header.WriteString("ply\nformat binary_little_endian 1.0\n")
	for _, c := range data.Comments {
		header.WriteString("comment ")
		header.WriteString(c)
		header.WriteByte('\n')
	}
	for _, elem := range data.Elements {
		fmt.Fprintf(&header, "element %s %d\n", elem.Name, elem.Table.NumRows())
		for _, c := range elem.Table.Columns {
			fmt.Fprintf(&header, "property %s %s\n", plyTypeTokens[c.Type()], c.Name)
		}
	}
	header.WriteString("end_header\n")
	if _, err := io.WriteString(w, header.String()); err != nil {
		return err
	}

	for _, elem := range data.Elements {
		if err := writePlyElement(w, elem.Table); err != nil {
			return err
		}
	}
	return nil
}

// writePlyElement emits one element's rows, buffering chunks of rows to keep
// writes large.
func writePlyElement(w io.Writer, dt *DataTable) error {
	rowSize := 0
	offsets := make([]int, len(dt.Columns))
	for i, c := range dt.Columns {
		offsets[i] = rowSize
		rowSize += c.Type().Size()
	}

	buf := make([]byte, plyChunkRows*rowSize)
	for row := 0; row < dt.NumRows(); row += plyChunkRows {
		rows := dt.NumRows() - row
		if rows > plyChunkRows {
			rows = plyChunkRows
		}
		chunk := buf[:rows*rowSize]
		for ci, c := range dt.Columns {
			encodePlyColumn(c, row, rows, chunk, rowSize, offsets[ci])
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// encodePlyColumn interleaves rows of a single column into the chunk.
func encodePlyColumn(c *Column, base, rows int, chunk []byte, rowSize, off int) {
	switch d := c.Data.(type) {
	case []int8:
		for r := 0; r < rows; r++ {
			chunk[r*rowSize+off] = uint8(d[base+r])
		}
	case []uint8:
		for r := 0; r < rows; r++ {
			chunk[r*rowSize+off] = d[base+r]
		}
	case []int16:
		for r := 0; r < rows; r++ {
			binary.LittleEndian.PutUint16(chunk[r*rowSize+off:], uint16(d[base+r]))
		}
	case []uint16:
		for r := 0; r < rows; r++ {
			binary.LittleEndian.PutUint16(chunk[r*rowSize+off:], d[base+r])
		}
	case []int32:
		for r := 0; r < rows; r++ {
			binary.LittleEndian.PutUint32(chunk[r*rowSize+off:], uint32(d[base+r]))
		}
	case []uint32:
		for r := 0; r < rows; r++ {
			binary.LittleEndian.PutUint32(chunk[r*rowSize+off:], d[base+r])
		}
	case []float32:
		for r := 0; r < rows; r++ {
			binary.LittleEndian.PutUint32(chunk[r*rowSize+off:], math.Float32bits(d[base+r]))
		}
	case []float64:
		for r := 0; r < rows; r++ {
			binary.LittleEndian.PutUint64(chunk[r*rowSize+off:], math.Float64bits(d[base+r]))
		}
	}
}

// WritePly emits a standard single-element ply file holding the table as its
// vertex element.
func WritePly(w io.Writer, dt *DataTable) error {
	if dt.NumRows() == 0 {
		return ErrEmptyTable
	}
	data := &PlyData{
		Elements: []*PlyElement{{Name: "vertex", Count: dt.NumRows(), Table: dt}},
	}
	return WritePlyData(w, data)
}
