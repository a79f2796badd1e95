// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"bufio"
	"io"
	"strconv"
)

// WriteCsv emits a header row of column names followed by one comma
// separated data row per splat. Numeric cells never need quoting.
func WriteCsv(w io.Writer, dt *DataTable) error {
	if dt.NumRows() == 0 {
		return ErrEmptyTable
	}

	bw := bufio.NewWriter(w)
	for i, c := range dt.Columns {
		if i > 0 {
			bw.WriteByte(',')
		}
		bw.WriteString(c.Name)
	}
	bw.WriteByte('\n')

	for i := 0; i < dt.NumRows(); i++ {
		for ci, c := range dt.Columns {
			if ci > 0 {
				bw.WriteByte(',')
			}
			bw.WriteString(strconv.FormatFloat(c.Get(i), 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
