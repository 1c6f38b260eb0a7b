// Package table implements the table engine: it owns a row data set, derives
// body rows through column projections, threads them through plugin
// transformations and composes plugin extensions for a render layer.
//
// # Lifecycle
//
// New runs the construction stages in order:
//
//	CONSTRUCTING -> CONFIGURING -> BUILDING_BODY -> MOUNTED -> READY
//
// From READY every mutation is a dispatch cycle:
//
//	tbl.SetData(ctx, rows)                          // update:data
//	tbl.Dispatch(ctx, table.EventUpdateCustomBody)  // re-run transformations
//	tbl.Reset(ctx)                                  // reset
//
// A cycle runs the hooks for its event on every plugin implementing them, in
// ascending priority order (registration order breaks ties), rebuilds the
// extensions snapshot from scratch and then notifies subscribers.
//
// # Plugins
//
// A plugin is any value implementing Plugin. Hooks are optional capability
// interfaces (Configurer, Mounter, BodyRowCreator, BodyRowsObserver,
// CustomBodyTransformer, Extender, Resetter, SchemaDeclarer); the engine
// type-asserts each one and skips plugins that do not implement it.
//
// # Re-entrancy
//
// The context handed to hooks marks the running cycle. Dispatch or SetData
// called with that context while the cycle runs is queued and executed after
// the current cycle finishes, before the outermost call returns. Calls from
// other goroutines wait for the running cycle. Observer listeners are called
// while the cycle still holds the engine and must not call Dispatch
// synchronously.
//
// # Errors
//
// A hook error aborts the rest of the cycle and is returned as *HookError.
// Work already done by earlier hooks in that cycle is not rolled back, and
// neither the extensions snapshot nor subscribers are updated.
package table
