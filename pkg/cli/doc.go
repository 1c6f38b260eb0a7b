// Package cli implements the boringtable command-line tool.
//
// # Commands
//
// validate: Check manifests without building tables
//
//	boringtable validate --manifest ./tables/orders/table.yaml
//	boringtable validate --dir ./tables
//
// render: Build a table locally and print one page
//
//	boringtable render \
//		--manifest ./tables/orders/table.yaml \
//		--rows ./orders.json \
//		--page-size 20 --page 2 \
//		--query status=open
//
// Fetches the table starts are run in the foreground before printing.
//
// get: Print the table served by a running server
//
//	boringtable get --server http://localhost:8080
//	boringtable get --wait 30s   # block until the next update
//
// action: Invoke an action exposed in the table's extensions
//
//	boringtable action nextPage
//	boringtable action --value 3 setPage
//
// # Related Packages
//
//   - pkg/plugins: Manifest loading and the built-in plugin factories
//   - pkg/httpview: The HTTP API used by get and action
package cli
