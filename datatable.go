// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"fmt"
	"math"
)

// DataType enumerates the admitted column element types.
type DataType uint8

const (
	TypeInt8 DataType = iota
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeFloat32
	TypeFloat64
)

// Size returns the element size in bytes.
func (t DataType) Size() int {
	switch t {
	case TypeInt8, TypeUint8:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeFloat64:
		return 8
	}
	return 0
}

func (t DataType) String() string {
	switch t {
	case TypeInt8:
		return "int8"
	case TypeUint8:
		return "uint8"
	case TypeInt16:
		return "int16"
	case TypeUint16:
		return "uint16"
	case TypeInt32:
		return "int32"
	case TypeUint32:
		return "uint32"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	}
	return "unknown"
}

// Column pairs a name with a dense homogeneous numeric array. The element
// type is a semantic attribute of the column: codecs preserve it across
// reads and writes.
type Column struct {
	Name string
	Data interface{}
}

// NewColumn allocates a zero-filled column of n elements.
func NewColumn(name string, typ DataType, n int) *Column {
	var data interface{}
	switch typ {
	case TypeInt8:
		data = make([]int8, n)
	case TypeUint8:
		data = make([]uint8, n)
	case TypeInt16:
		data = make([]int16, n)
	case TypeUint16:
		data = make([]uint16, n)
	case TypeInt32:
		data = make([]int32, n)
	case TypeUint32:
		data = make([]uint32, n)
	case TypeFloat32:
		data = make([]float32, n)
	case TypeFloat64:
		data = make([]float64, n)
	default:
		panic("splat: invalid column data type")
	}
	return &Column{Name: name, Data: data}
}

// Type returns the column element type.
func (c *Column) Type() DataType {
	switch c.Data.(type) {
	case []int8:
		return TypeInt8
	case []uint8:
		return TypeUint8
	case []int16:
		return TypeInt16
	case []uint16:
		return TypeUint16
	case []int32:
		return TypeInt32
	case []uint32:
		return TypeUint32
	case []float32:
		return TypeFloat32
	case []float64:
		return TypeFloat64
	}
	panic("splat: invalid column data type")
}

// Len returns the column row count.
func (c *Column) Len() int {
	switch d := c.Data.(type) {
	case []int8:
		return len(d)
	case []uint8:
		return len(d)
	case []int16:
		return len(d)
	case []uint16:
		return len(d)
	case []int32:
		return len(d)
	case []uint32:
		return len(d)
	case []float32:
		return len(d)
	case []float64:
		return len(d)
	}
	return 0
}

// Get returns element i widened to float64.
func (c *Column) Get(i int) float64 {
	switch d := c.Data.(type) {
	case []int8:
		return float64(d[i])
	case []uint8:
		return float64(d[i])
	case []int16:
		return float64(d[i])
	case []uint16:
		return float64(d[i])
	case []int32:
		return float64(d[i])
	case []uint32:
		return float64(d[i])
	case []float32:
		return float64(d[i])
	case []float64:
		return d[i]
	}
	return 0
}

// Set stores v into element i, narrowing to the column type.
func (c *Column) Set(i int, v float64) {
	switch d := c.Data.(type) {
	case []int8:
		d[i] = int8(v)
	case []uint8:
		d[i] = uint8(v)
	case []int16:
		d[i] = int16(v)
	case []uint16:
		d[i] = uint16(v)
	case []int32:
		d[i] = int32(v)
	case []uint32:
		d[i] = uint32(v)
	case []float32:
		d[i] = float32(v)
	case []float64:
		d[i] = v
	}
}

// Float32 returns the backing slice when the column is float32, else nil.
func (c *Column) Float32() []float32 {
	d, _ := c.Data.([]float32)
	return d
}

// Uint32 returns the backing slice when the column is uint32, else nil.
func (c *Column) Uint32() []uint32 {
	d, _ := c.Data.([]uint32)
	return d
}

// Uint8 returns the backing slice when the column is uint8, else nil.
func (c *Column) Uint8() []uint8 {
	d, _ := c.Data.([]uint8)
	return d
}

// clone deep-copies the column.
func (c *Column) clone() *Column {
	out := NewColumn(c.Name, c.Type(), c.Len())
	switch d := c.Data.(type) {
	case []int8:
		copy(out.Data.([]int8), d)
	case []uint8:
		copy(out.Data.([]uint8), d)
	case []int16:
		copy(out.Data.([]int16), d)
	case []uint16:
		copy(out.Data.([]uint16), d)
	case []int32:
		copy(out.Data.([]int32), d)
	case []uint32:
		copy(out.Data.([]uint32), d)
	case []float32:
		copy(out.Data.([]float32), d)
	case []float64:
		copy(out.Data.([]float64), d)
	}
	return out
}

// DataTable is an ordered sequence of equally sized named columns; the
// universal in-memory representation of splat collections. Invariants: at
// least one column, all columns the same length, unique names.
type DataTable struct {
	Columns []*Column
	numRows int
}

// NewDataTable validates the column set and wraps it in a table.
func NewDataTable(columns []*Column) (*DataTable, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("data table requires at least one column")
	}
	numRows := columns[0].Len()
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if c.Len() != numRows {
			return nil, fmt.Errorf("column %q: %w", c.Name, ErrColumnLength)
		}
		if _, ok := seen[c.Name]; ok {
			return nil, fmt.Errorf("column %q: %w", c.Name, ErrDuplicateColumn)
		}
		seen[c.Name] = struct{}{}
	}
	return &DataTable{Columns: columns, numRows: numRows}, nil
}

// NumRows returns the table row count.
func (dt *DataTable) NumRows() int { return dt.numRows }

// NumColumns returns the table column count.
func (dt *DataTable) NumColumns() int { return len(dt.Columns) }

// GetColumn returns the named column, or nil.
func (dt *DataTable) GetColumn(name string) *Column {
	for _, c := range dt.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// HasColumn reports whether the named column is present.
func (dt *DataTable) HasColumn(name string) bool {
	return dt.GetColumn(name) != nil
}

// AddColumn appends a column. The column length must match the table and the
// name must be free.
func (dt *DataTable) AddColumn(c *Column) error {
	if c.Len() != dt.numRows {
		return fmt.Errorf("column %q: %w", c.Name, ErrColumnLength)
	}
	if dt.HasColumn(c.Name) {
		return fmt.Errorf("column %q: %w", c.Name, ErrDuplicateColumn)
	}
	dt.Columns = append(dt.Columns, c)
	return nil
}

// RemoveColumn removes the named column and reports whether it was present.
func (dt *DataTable) RemoveColumn(name string) bool {
	for i, c := range dt.Columns {
		if c.Name == name {
			dt.Columns = append(dt.Columns[:i], dt.Columns[i+1:]...)
			return true
		}
	}
	return false
}

// Row is scratch storage for row get/set.
type Row map[string]float64

// GetRow fills scratch with every column's value at row i and returns it.
func (dt *DataTable) GetRow(i int, scratch Row) Row {
	if scratch == nil {
		scratch = make(Row, len(dt.Columns))
	}
	for _, c := range dt.Columns {
		scratch[c.Name] = c.Get(i)
	}
	return scratch
}

// SetRow assigns row values by column name. Names missing from row leave
// their columns untouched; names without a matching column are ignored.
func (dt *DataTable) SetRow(i int, row Row) {
	for _, c := range dt.Columns {
		if v, ok := row[c.Name]; ok {
			c.Set(i, v)
		}
	}
}

// PermuteRows gathers rows into a new table: out[i] = in[idx[i]]. idx may
// select fewer rows than the table holds, or reorder all of them.
func (dt *DataTable) PermuteRows(idx []uint32) *DataTable {
	columns := make([]*Column, len(dt.Columns))
	for ci, c := range dt.Columns {
		out := NewColumn(c.Name, c.Type(), len(idx))
		switch d := c.Data.(type) {
		case []int8:
			o := out.Data.([]int8)
			for i, j := range idx {
				o[i] = d[j]
			}
		case []uint8:
			o := out.Data.([]uint8)
			for i, j := range idx {
				o[i] = d[j]
			}
		case []int16:
			o := out.Data.([]int16)
			for i, j := range idx {
				o[i] = d[j]
			}
		case []uint16:
			o := out.Data.([]uint16)
			for i, j := range idx {
				o[i] = d[j]
			}
		case []int32:
			o := out.Data.([]int32)
			for i, j := range idx {
				o[i] = d[j]
			}
		case []uint32:
			o := out.Data.([]uint32)
			for i, j := range idx {
				o[i] = d[j]
			}
		case []float32:
			o := out.Data.([]float32)
			for i, j := range idx {
				o[i] = d[j]
			}
		case []float64:
			o := out.Data.([]float64)
			for i, j := range idx {
				o[i] = d[j]
			}
		}
		columns[ci] = out
	}
	return &DataTable{Columns: columns, numRows: len(idx)}
}

// PermuteRowsInPlace rearranges rows so that row i receives what was
// previously at row idx[i]. idx must be a permutation of the full row range.
// Each cycle is walked once using a single scratch row, with a visited
// bitset bounding extra memory at numRows/8 bytes.
func (dt *DataTable) PermuteRowsInPlace(idx []uint32) error {
	if len(idx) != dt.numRows {
		return fmt.Errorf("permutation length %d does not match row count %d", len(idx), dt.numRows)
	}
	visited := make([]uint8, (dt.numRows+7)/8)
	scratch := make([]float64, len(dt.Columns))

	for start := 0; start < dt.numRows; start++ {
		if visited[start>>3]&(1<<(start&7)) != 0 || int(idx[start]) == start {
			continue
		}
		// Save the row at the cycle head, then shift each row from its
		// source until the cycle closes.
		for ci, c := range dt.Columns {
			scratch[ci] = c.Get(start)
		}
		i := start
		for {
			j := int(idx[i])
			if j >= dt.numRows {
				return fmt.Errorf("permutation index %d out of range", j)
			}
			visited[i>>3] |= 1 << (i & 7)
			if j == start {
				for ci, c := range dt.Columns {
					c.Set(i, scratch[ci])
				}
				break
			}
			for _, c := range dt.Columns {
				c.Set(i, c.Get(j))
			}
			i = j
		}
	}
	return nil
}

// Clone deep-copies the table.
func (dt *DataTable) Clone() *DataTable {
	columns := make([]*Column, len(dt.Columns))
	for i, c := range dt.Columns {
		columns[i] = c.clone()
	}
	return &DataTable{Columns: columns, numRows: dt.numRows}
}

// finiteRow reports whether every column value at row i is finite.
func (dt *DataTable) finiteRow(i int) bool {
	for _, c := range dt.Columns {
		v := c.Get(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
