// Package fetch loads table data from a remote source.
//
// The plugin keeps a set of query parameters, encodes them into a query
// string and hands both to a Source. The result's rows replace the table
// data and its extensions are published alongside the plugin's own actions:
//
//	src := fetch.NewHTTPSource[Order]("https://api.example.com/orders")
//	p := fetch.New(fetch.Options[Order]{
//		Source: fetch.WithSingleflight(fetch.WithLRUCache(src, 128, time.Minute, nil)),
//		QueryParams: fetch.QueryParams{
//			"q":      {RequestOnChange: true},
//			"status": {Values: []string{"open"}},
//		},
//	})
//
// Changing a parameter whose RequestOnChange is set starts one background
// fetch through the plugin's Launcher. A Scheduler refreshes plugins on cron
// schedules.
package fetch
