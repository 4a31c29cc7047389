package model

import "sort"

// Row is one flattened record: nested JSON objects are collapsed into
// dotted column names ("merchant.name").
type Row map[string]any

// Table is an ordered set of rows for one category.
type Table struct {
	Category Category
	Columns  []string
	Rows     []Row
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool { return len(t.Rows) == 0 }

// Append adds rows to the table.
func (t *Table) Append(rows ...Row) {
	t.Rows = append(t.Rows, rows...)
}

// ResetColumns recomputes Columns as the sorted union of all row keys.
// Go maps carry no key order, so sorting is what keeps exports stable
// across runs.
func (t *Table) ResetColumns() {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range t.Rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	t.Columns = cols
}
