package plugins

import (
	"database/sql"
	"fmt"

	"github.com/platinummonkey/boringtable/pkg/table"
)

// Manifest describes a table and its plugin chain.
type Manifest struct {
	ID          string            `yaml:"id"`          // Unique ID (e.g., "orders")
	Name        string            `yaml:"name"`        // Display name
	Version     string            `yaml:"version"`     // Semver
	APIVersion  string            `yaml:"api_version"` // Manifest API version
	Description string            `yaml:"description"` // Short description
	Columns     []ColumnSpec      `yaml:"columns"`
	Plugins     []PluginSpec      `yaml:"plugins"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
}

// ColumnSpec declares one column. Field names the record field projected
// into the cell and defaults to Key.
type ColumnSpec struct {
	Key    string `yaml:"key"`
	Header string `yaml:"header,omitempty"`
	Field  string `yaml:"field,omitempty"`
}

// FieldName returns Field, or Key when Field is empty.
func (c ColumnSpec) FieldName() string {
	if c.Field != "" {
		return c.Field
	}
	return c.Key
}

// PluginSpec is one entry of the chain. An empty Priority keeps the plugin's
// own priority.
type PluginSpec struct {
	Name     string         `yaml:"name"`
	Priority string         `yaml:"priority,omitempty"`
	Options  map[string]any `yaml:"options,omitempty"`
}

// Severity levels for validation errors.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents a manifest validation error
type ValidationError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Row is the record type used for manifest-driven tables whose records are
// decoded from JSON or YAML.
type Row = map[string]any

// RowColumns builds columns over Row records.
func RowColumns(specs []ColumnSpec) []table.Column[Row] {
	return Columns(specs, func(r Row, field string) any { return r[field] })
}

// Columns builds columns from specs, reading each cell with get.
func Columns[T any](specs []ColumnSpec, get func(record T, field string) any) []table.Column[T] {
	cols := make([]table.Column[T], 0, len(specs))
	for _, spec := range specs {
		field := spec.FieldName()
		header := spec.Header
		if header == "" {
			header = spec.Key
		}
		cols = append(cols, table.Column[T]{
			Key:    spec.Key,
			Header: header,
			Value:  func(r T) any { return get(r, field) },
		})
	}
	return cols
}

// ScanRow reads the current result row into a Row keyed by column name.
// Byte slices become strings.
func ScanRow(rows *sql.Rows) (Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(Row, len(cols))
	for i, col := range cols {
		if b, ok := values[i].([]byte); ok {
			row[col] = string(b)
			continue
		}
		row[col] = values[i]
	}
	return row, nil
}
