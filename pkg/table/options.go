package table

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Recorder receives engine measurements. observability.Metrics and
// observability.OTelMetrics implement it.
type Recorder interface {
	RecordDispatch(ctx context.Context, event string, duration time.Duration, err error)
	RecordHook(ctx context.Context, hook, plugin string, duration time.Duration)
	RecordRows(ctx context.Context, table string, body, customBody int)
}

type noopRecorder struct{}

func (noopRecorder) RecordDispatch(context.Context, string, time.Duration, error) {}
func (noopRecorder) RecordHook(context.Context, string, string, time.Duration)    {}
func (noopRecorder) RecordRows(context.Context, string, int, int)                 {}

type settings struct {
	id       string
	log      logrus.FieldLogger
	recorder Recorder
	tracer   trace.Tracer
	maxQueue int
}

// Option configures a Table.
type Option func(*settings)

// WithID overrides the generated table ID.
func WithID(id string) Option {
	return func(s *settings) {
		if id != "" {
			s.id = id
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRecorder sets where dispatch and hook measurements go.
func WithRecorder(r Recorder) Option {
	return func(s *settings) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTracer sets the tracer used for dispatch cycle spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *settings) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithMaxQueuedCycles bounds how many cycles hooks may queue during one
// outer call. The default is 64.
func WithMaxQueuedCycles(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxQueue = n
		}
	}
}

func defaultSettings() *settings {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return &settings{
		log:      log,
		recorder: noopRecorder{},
		tracer:   otel.Tracer("github.com/platinummonkey/boringtable/pkg/table"),
		maxQueue: 64,
	}
}
