// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"
)

func TestWriteCsv(t *testing.T) {
	dt := newTestGrid(t)

	var buf bytes.Buffer
	if err := WriteCsv(&buf, dt); err != nil {
		t.Fatalf("WriteCsv failed, reason: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != dt.NumRows()+1 {
		t.Fatalf("lines = %d, want header plus %d rows", len(lines), dt.NumRows())
	}

	// Header row lists the column names in table order.
	names := make([]string, len(dt.Columns))
	for i, c := range dt.Columns {
		names[i] = c.Name
	}
	if lines[0] != strings.Join(names, ",") {
		t.Fatalf("header = %q, want %q", lines[0], strings.Join(names, ","))
	}

	// Every data cell parses back to its column value exactly.
	for row, line := range lines[1:] {
		cells := strings.Split(line, ",")
		if len(cells) != len(dt.Columns) {
			t.Fatalf("row %d holds %d cells, want %d", row, len(cells), len(dt.Columns))
		}
		for ci, cell := range cells {
			got, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				t.Fatalf("row %d cell %q does not parse, reason: %v", row, cell, err)
			}
			if got != dt.Columns[ci].Get(row) {
				t.Fatalf("row %d column %q: got %v, want %v",
					row, dt.Columns[ci].Name, got, dt.Columns[ci].Get(row))
			}
		}
	}
}

func TestWriteCsvMixedTypes(t *testing.T) {
	columns := []*Column{
		NewColumn("id", TypeUint32, 3),
		NewColumn("v", TypeFloat32, 3),
	}
	for i := 0; i < 3; i++ {
		columns[0].Set(i, float64(i+10))
		columns[1].Set(i, float64(i)*0.25)
	}
	dt, err := NewDataTable(columns)
	if err != nil {
		t.Fatalf("NewDataTable failed, reason: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteCsv(&buf, dt); err != nil {
		t.Fatalf("WriteCsv failed, reason: %v", err)
	}
	want := "id,v\n10,0\n11,0.25\n12,0.5\n"
	if buf.String() != want {
		t.Errorf("csv output = %q, want %q", buf.String(), want)
	}
}

func TestWriteCsvRejectsEmpty(t *testing.T) {
	dt, err := NewDataTable([]*Column{NewColumn("x", TypeFloat32, 0)})
	if err != nil {
		t.Fatalf("NewDataTable failed, reason: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteCsv(&buf, dt); !errors.Is(err, ErrEmptyTable) {
		t.Errorf("got error %v, want %v", err, ErrEmptyTable)
	}
	if buf.Len() != 0 {
		t.Errorf("rejected write still emitted %d bytes", buf.Len())
	}
}
