package siridb

import (
	"io"

	"github.com/opentracing/opentracing-go"
	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	jaegerlog "github.com/uber/jaeger-client-go/log"
	"github.com/uber/jaeger-lib/metrics"
)

// InitTracer installs a Jaeger-backed opentracing.Tracer as the global
// tracer used by replicate.go's and insert.go's spans (C10/C11), const-
// sampling at rate (1.0 traces everything, suited to the low request
// volume of a single-node dev instance). The returned io.Closer must be
// flushed on shutdown.
func InitTracer(serviceName string, rate float64) (io.Closer, error) {
	cfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: rate,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans: false,
		},
	}
	tracer, closer, err := cfg.NewTracer(
		jaegercfg.Logger(jaegerlog.NullLogger),
		jaegercfg.Metrics(metrics.NullFactory),
	)
	if err != nil {
		return nil, err
	}
	opentracing.SetGlobalTracer(tracer)
	return closer, nil
}
