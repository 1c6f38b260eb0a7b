// Package observer provides the change-notification primitive the table
// engine uses to tell render layers that a dispatch cycle has completed.
//
// # Overview
//
// Listeners carry no payload. A render layer subscribes once and re-reads
// whatever state it needs (extensions, custom body) when it is called.
//
//	var obs observer.Observer
//	dispose := obs.Subscribe(func() {
//		render(tbl.Extensions(), tbl.CustomBody())
//	})
//	defer dispose()
//
// # Guarantees
//
// Notify calls listeners synchronously in the order they were subscribed.
// A disposer removes exactly the registration it was returned for and is
// idempotent. Listener panics are not recovered here; the caller decides the
// propagation policy.
package observer
