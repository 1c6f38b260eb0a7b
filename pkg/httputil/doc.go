// Package httputil provides the JSON request and response helpers used by
// the table HTTP view.
//
// Every error body has the same shape:
//
//	{"error": "unknown action: sort", "details": {"action": "sort"}}
//
// Handlers read bodies and route variables through helpers that answer the
// client themselves on failure:
//
//	var body QueryRequest
//	if !httputil.ReadJSON(w, r, &body) {
//		return
//	}
//	index, ok := httputil.PathInt(w, r, "index")
//
// A body cut off by MaxBytesMiddleware is answered with 413, any other
// decoding failure with 400.
package httputil
