// Package plugins builds table plugin chains from YAML manifests.
//
// # Overview
//
// A manifest names a table, its columns and the ordered list of plugins that
// make up its chain. Each plugin entry is resolved through a Registry of
// factories keyed by plugin name, so applications can mix the built-in
// plugins with their own.
//
// # Manifest Format
//
//	id: orders
//	name: Orders
//	version: 1.2.0
//	api_version: 1.0.0
//	columns:
//	  - key: id
//	    header: ID
//	    field: id
//	plugins:
//	  - name: fetch-plugin
//	    options:
//	      url: https://api.example.com/orders
//	      queryParams:
//	        q: {requestOnChange: true}
//	  - name: pagination-plugin
//	    priority: should-be-last
//	    options:
//	      pageSize: 25
//
// # Usage
//
//	registry := plugins.NewRegistry[plugins.Row]()
//	if err := plugins.RegisterBuiltins(registry, plugins.BuiltinDeps[plugins.Row]{}); err != nil {
//		return err
//	}
//	loader := plugins.NewLoader(registry, log)
//	manifest, chain, err := loader.LoadFile(ctx, "orders.yaml")
//	tbl, err := table.New(ctx, nil, plugins.RowColumns(manifest.Columns), chain)
//
// # Built-in Plugins
//
// RegisterBuiltins registers pagination-plugin, change-plugin and
// fetch-plugin. Plugin options are decoded with DecodeOptions into each
// plugin's options struct.
//
// # Related Packages
//
//   - github.com/platinummonkey/boringtable/pkg/table: Table engine
//   - github.com/platinummonkey/boringtable/pkg/plugins/fetch: Remote data
//   - github.com/platinummonkey/boringtable/pkg/plugins/pagination: Paging
//   - github.com/platinummonkey/boringtable/pkg/plugins/change: Row edits
package plugins
