// Package extension implements the composition protocol through which table
// plugins publish state and actions to a render layer.
//
// # Overview
//
// Each plugin contributes a Fragment, a flat mapping of names to values or
// bound actions. The engine feeds fragments to a Composer in ascending
// priority order and publishes the result as an immutable Extensions
// snapshot. Merging is shallow and the last fragment to set a key wins.
//
// # Typed keys
//
// Plugins can expose typed keys so consumers do not type-assert by hand:
//
//	var PageKey = extension.NewKey[int]("page")
//
//	frag := extension.Fragment{}
//	PageKey.Put(frag, 3)
//
//	page, ok := PageKey.From(tbl.Extensions())
//
// A plugin that declares a Schema gets its fragments checked during the merge,
// so a value of the wrong type fails the dispatch cycle instead of reaching
// the render layer.
package extension
