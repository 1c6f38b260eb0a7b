// Package async runs background work with panic recovery and timeouts.
//
// SafeGo starts one task:
//
//	async.SafeGo(ctx, log, 30*time.Second, "fetch orders", func(ctx context.Context) error {
//		return plugin.Fetch(ctx)
//	})
//
// Group tracks launched tasks so a caller can wait for them during shutdown,
// and WorkerPool bounds how many tasks run at once (used by the fetch
// scheduler so that many tables refreshing on the same tick do not stampede
// their sources).
package async
