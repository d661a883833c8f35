// Package merge concatenates coded tables into one combined table.
package merge

import (
	"errors"
	"fmt"

	"srcode/internal/table"
)

// ErrNothingToMerge is returned for an empty input list.
var ErrNothingToMerge = errors.New("merge: no tables to merge")

// Input is one named table.
type Input struct {
	Name  string
	Table *table.Table
}

// Options controls the merged layout.
type Options struct {
	// SourceColumn, when set, prepends a column holding each record's input name.
	SourceColumn string
}

// Tables merges inputs in order. The header is the union of input headers
// in first-seen order; cells for columns an input lacks are empty.
func Tables(inputs []Input, opts Options) (*table.Table, error) {
	if len(inputs) == 0 {
		return nil, ErrNothingToMerge
	}
	var header []string
	pos := make(map[string]int)
	add := func(col string) {
		if _, ok := pos[col]; !ok {
			pos[col] = len(header)
			header = append(header, col)
		}
	}
	if opts.SourceColumn != "" {
		add(opts.SourceColumn)
	}
	total := 0
	for i, in := range inputs {
		if in.Table == nil {
			return nil, fmt.Errorf("merge: input %d (%s) has no table", i, in.Name)
		}
		for _, col := range in.Table.Header {
			if col == opts.SourceColumn && col != "" {
				return nil, fmt.Errorf("merge: input %s already has column %q", in.Name, col)
			}
			add(col)
		}
		total += in.Table.Len()
	}

	out := &table.Table{Header: header, Records: make([][]string, 0, total)}
	for _, in := range inputs {
		idx := make([]int, len(in.Table.Header))
		for i, col := range in.Table.Header {
			idx[i] = pos[col]
		}
		for _, rec := range in.Table.Records {
			row := make([]string, len(header))
			if opts.SourceColumn != "" {
				row[0] = in.Name
			}
			for i, cell := range rec {
				if i < len(idx) {
					row[idx[i]] = cell
				}
			}
			out.Records = append(out.Records, row)
		}
	}
	return out, nil
}
