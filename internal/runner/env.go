package runner

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/tpbench/internal/metrics"
	"github.com/torosent/tpbench/internal/resource"
)

// Env carries the process-wide collaborators a run needs. It is built once
// in main and passed down explicitly.
type Env struct {
	RunID      string
	Logger     *zap.Logger
	Monitor    *resource.Monitor
	Aggregator *metrics.Aggregator
	Exporter   *metrics.Exporter // optional
	Tracer     trace.Tracer
}

// NewRunID returns a sortable identifier for one invocation.
func NewRunID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

func (e *Env) normalize() {
	if e.RunID == "" {
		e.RunID = NewRunID(time.Now())
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Monitor == nil {
		e.Monitor = resource.NewMonitor(nil, nil, e.Logger)
	}
	if e.Aggregator == nil {
		e.Aggregator = metrics.NewAggregator(e.Logger)
	}
	if e.Tracer == nil {
		e.Tracer = noop.NewTracerProvider().Tracer("tpbench")
	}
}
