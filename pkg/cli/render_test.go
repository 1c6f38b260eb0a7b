package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersManifest = `
id: orders
name: Orders
version: 1.0.0
api_version: 1.0.0
columns:
  - key: id
    header: ID
  - key: customer
    header: Customer
plugins:
  - name: pagination-plugin
    options:
      pageSize: 2
  - name: change-plugin
`

const ordersRows = `[
  {"id": 1, "customer": "Ada"},
  {"id": 2, "customer": "Grace"},
  {"id": 3, "customer": "Edsger"},
  {"id": 4, "customer": "Barbara"},
  {"id": 5, "customer": "Donald"}
]`

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestQueryFlag(t *testing.T) {
	q := queryFlag{}
	require.NoError(t, q.Set("status=open"))
	require.NoError(t, q.Set("status=blocked"))
	require.NoError(t, q.Set("owner="))
	assert.Equal(t, []string{"open", "blocked"}, q["status"])
	assert.Equal(t, []string{""}, q["owner"])

	assert.Error(t, q.Set("status"))
	assert.Error(t, q.Set("=open"))
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	manifest := writeFixture(t, dir, "orders/table.yaml", ordersManifest)
	rows := writeFixture(t, dir, "orders.json", ordersRows)

	var buf bytes.Buffer
	root := NewRootCommandWithOutput(&buf)
	require.NoError(t, root.ExecuteArgs([]string{"render", "-manifest", manifest, "-rows", rows, "-page", "2"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"ID", "CUSTOMER"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"3", "Edsger"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"4", "Barbara"}, strings.Fields(lines[2]))
	assert.Equal(t, "2 of 5 rows, page 2 of 3", lines[3])
}

func TestRender_PageSize(t *testing.T) {
	dir := t.TempDir()
	manifest := writeFixture(t, dir, "table.yaml", ordersManifest)
	rows := writeFixture(t, dir, "orders.yaml", "data:\n  - {id: 1, customer: Ada}\n  - {id: 2, customer: Grace}\n  - {id: 3, customer: Edsger}\n")

	var buf bytes.Buffer
	err := NewRootCommandWithOutput(&buf).ExecuteArgs([]string{"render", "-manifest", manifest, "-rows", rows, "-page-size", "5"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "3 of 3 rows, page 1 of 1")
}

func TestRender_Errors(t *testing.T) {
	dir := t.TempDir()
	manifest := writeFixture(t, dir, "table.yaml", ordersManifest)
	rows := writeFixture(t, dir, "orders.json", ordersRows)

	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"no manifest", []string{}, "manifest is required"},
		{"page out of range", []string{"-manifest", manifest, "-rows", rows, "-page", "9"}, "page out of range"},
		{"query without fetch", []string{"-manifest", manifest, "-query", "status=open"}, "no query parameters"},
		{"bad rows format", []string{"-manifest", manifest, "-rows", filepath.Join(dir, "table.yaml.txt")}, "failed to read rows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRootCommandWithOutput(&bytes.Buffer{}).ExecuteArgs(append([]string{"render"}, tt.args...))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
