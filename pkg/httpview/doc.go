// Package httpview serves a table over HTTP.
//
// # Endpoints
//
//	GET  /table                  Snapshot of the current view
//	GET  /table/wait?timeout=30s Next snapshot after an update (204 on timeout)
//	POST /table/actions/{name}   Invoke an extension action
//	POST /table/reset            Reset the table
//	PUT  /table/query/{key}      Set a fetch query parameter
//	PUT  /table/rows/{index}     Replace a record through its change action
//	GET  /metrics                Prometheus metrics
//	GET  /healthz                Liveness
//	GET  /readyz                 Readiness
//
// Actions without arguments take no body. Actions with an integer argument,
// such as setPage, take {"value": 3}.
//
// # Usage
//
//	h := httpview.New(tbl, httpview.Options{Logger: logger, Registry: registry})
//	srv := &http.Server{Addr: ":8080", Handler: h}
package httpview
