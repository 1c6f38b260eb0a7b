package fetch

import (
	"context"
	"time"

	"github.com/platinummonkey/boringtable/pkg/extension"
)

// Request is what a Source receives for one fetch.
type Request struct {
	QueryString string
	Params      map[string][]string
}

// Result is one page of rows plus optional extensions. Nil Extensions keep
// the extensions of the previous result.
type Result[T any] struct {
	Data       []T                `json:"data"`
	Extensions extension.Fragment `json:"extensions,omitempty"`
}

// Source loads rows for a request.
type Source[T any] interface {
	Fetch(ctx context.Context, req Request) (*Result[T], error)
}

// SourceFunc adapts a function to Source.
type SourceFunc[T any] func(ctx context.Context, req Request) (*Result[T], error)

// Fetch calls f.
func (f SourceFunc[T]) Fetch(ctx context.Context, req Request) (*Result[T], error) {
	return f(ctx, req)
}

// Recorder receives fetch and cache measurements. observability.Metrics and
// observability.OTelMetrics implement it.
type Recorder interface {
	RecordFetch(ctx context.Context, source string, duration time.Duration, err error)
	RecordCache(ctx context.Context, cache string, hit bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordFetch(context.Context, string, time.Duration, error) {}
func (noopRecorder) RecordCache(context.Context, string, bool)                 {}

func recorderOrNoop(r Recorder) Recorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}
