package main

import (
	"context"
	"time"

	"github.com/platinummonkey/boringtable/pkg/plugins/fetch"
	"github.com/platinummonkey/boringtable/pkg/table"
)

// recorder is satisfied by observability.Metrics and observability.OTelMetrics.
type recorder interface {
	table.Recorder
	fetch.Recorder
}

// fanout forwards every observation to each recorder.
type fanout []recorder

func (f fanout) RecordDispatch(ctx context.Context, event string, d time.Duration, err error) {
	for _, r := range f {
		r.RecordDispatch(ctx, event, d, err)
	}
}

func (f fanout) RecordHook(ctx context.Context, hook, plugin string, d time.Duration) {
	for _, r := range f {
		r.RecordHook(ctx, hook, plugin, d)
	}
}

func (f fanout) RecordRows(ctx context.Context, tableID string, body, customBody int) {
	for _, r := range f {
		r.RecordRows(ctx, tableID, body, customBody)
	}
}

func (f fanout) RecordFetch(ctx context.Context, source string, d time.Duration, err error) {
	for _, r := range f {
		r.RecordFetch(ctx, source, d, err)
	}
}

func (f fanout) RecordCache(ctx context.Context, cache string, hit bool) {
	for _, r := range f {
		r.RecordCache(ctx, cache, hit)
	}
}
