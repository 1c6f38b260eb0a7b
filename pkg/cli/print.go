package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/boringtable/pkg/table"
)

// view is the printable part of a table snapshot. It decodes the JSON served
// by GET /table and is built directly for locally rendered tables.
type view struct {
	ID         string         `json:"id"`
	Columns    []viewColumn   `json:"columns"`
	Rows       []viewRow      `json:"rows"`
	Extensions map[string]any `json:"extensions"`
	BodyLength int            `json:"bodyLength"`
}

type viewColumn struct {
	Key    string `json:"key"`
	Header string `json:"header"`
}

type viewRow struct {
	Cells []table.Cell `json:"cells"`
}

func viewOf[T any](t *table.Table[T]) view {
	var v view
	v.ID = t.ID()
	for _, c := range t.Columns() {
		v.Columns = append(v.Columns, viewColumn{Key: c.Key, Header: c.Header})
	}
	for _, r := range t.CustomBody() {
		v.Rows = append(v.Rows, viewRow{Cells: r.Cells})
	}
	v.Extensions = t.Extensions().Map()
	v.BodyLength = len(t.Body())
	return v
}

func printView(out io.Writer, v view) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	headers := make([]string, len(v.Columns))
	for i, c := range v.Columns {
		headers[i] = strings.ToUpper(c.Header)
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for _, r := range v.Rows {
		cells := make([]string, len(v.Columns))
		for i, c := range v.Columns {
			for _, cell := range r.Cells {
				if cell.Key == c.Key && cell.Value != nil {
					cells[i] = fmt.Sprint(cell.Value)
				}
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	footer := fmt.Sprintf("%d of %d rows", len(v.Rows), v.BodyLength)
	if page, ok := v.Extensions["page"]; ok {
		footer += fmt.Sprintf(", page %v of %v", page, v.Extensions["lastPage"])
	}
	if loading, _ := v.Extensions["loading"].(bool); loading {
		footer += ", loading"
	}
	if msg, ok := v.Extensions["fetchError"].(string); ok {
		footer += ", fetch error: " + msg
	}
	_, err := fmt.Fprintln(out, footer)
	return err
}
