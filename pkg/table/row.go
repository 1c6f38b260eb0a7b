package table

import "github.com/platinummonkey/boringtable/pkg/extension"

// Column projects a source record into one displayable cell.
type Column[T any] struct {
	Key    string
	Header string
	Value  func(T) any
}

// Cell is one projected value.
type Cell struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// BodyRow is derived once per source record. Index addresses the record in
// the table's data.
type BodyRow[T any] struct {
	Index      int                `json:"index"`
	Source     T                  `json:"-"`
	Cells      []Cell             `json:"cells"`
	Extensions extension.Fragment `json:"-"`
}

// Cell returns the cell with the given column key.
func (r *BodyRow[T]) Cell(key string) (any, bool) {
	for _, c := range r.Cells {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

func project[T any](columns []Column[T], index int, record T) *BodyRow[T] {
	row := &BodyRow[T]{
		Index:      index,
		Source:     record,
		Cells:      make([]Cell, len(columns)),
		Extensions: extension.Fragment{},
	}
	for i, col := range columns {
		row.Cells[i].Key = col.Key
		if col.Value != nil {
			row.Cells[i].Value = col.Value(record)
		}
	}
	return row
}
