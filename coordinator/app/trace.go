package app

import (
	"io"

	"github.com/opentracing/opentracing-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	jaegerlog "github.com/uber/jaeger-client-go/log"
	"github.com/uber/jaeger-lib/metrics"

	"github.com/pg-sharding/ddlcoord/pkg/config"
)

const defaultServiceName = "ddlcoord"

// initJaegerTracer installs the global tracer the executor and the
// recovery daemon open spans on.
func initJaegerTracer(cfg config.JaegerCfg) (io.Closer, error) {
	service := cfg.ServiceName
	if service == "" {
		service = defaultServiceName
	}

	jcfg := jaegercfg.Configuration{
		ServiceName: service,
		Sampler: &jaegercfg.SamplerConfig{
			Type:              "const",
			Param:             1,
			SamplingServerURL: cfg.JaegerUrl,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans: false,
		},
		Gen128Bit: true,
		Tags: []opentracing.Tag{
			{Key: "span.kind", Value: "server"},
		},
	}

	return jcfg.InitGlobalTracer(
		service,
		jaegercfg.Logger(jaegerlog.NullLogger),
		jaegercfg.Metrics(metrics.NullFactory),
	)
}
