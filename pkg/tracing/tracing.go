package tracing

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"contrib.go.opencensus.io/exporter/aws"
	"contrib.go.opencensus.io/exporter/jaeger"
	"contrib.go.opencensus.io/exporter/prometheus"
	"contrib.go.opencensus.io/exporter/stackdriver"
	"contrib.go.opencensus.io/exporter/zipkin"
	"contrib.go.opencensus.io/integrations/ocsql"
	datadog "github.com/DataDog/opencensus-go-exporter-datadog"
	zipkinhttp "github.com/openzipkin/zipkin-go/reporter/http"
	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/trace"

	"github.com/Notifuse/insights/config"
	"github.com/Notifuse/insights/pkg/logger"
)

// InitTracing configures sampling, the trace exporter, the metrics exporters and the views
// they report. It is a no-op when tracing is disabled.
// codecov:ignore:start
func InitTracing(cfg *config.TracingConfig, log logger.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	trace.ApplyConfig(trace.Config{
		DefaultSampler: trace.ProbabilitySampler(cfg.SamplingProbability),
	})

	if err := initTraceExporter(cfg, log); err != nil {
		return err
	}

	if err := initMetricsExporters(cfg, log); err != nil {
		return err
	}

	if err := registerViews(); err != nil {
		return err
	}

	log.WithField("trace_exporter", cfg.TraceExporter).
		WithField("metrics_exporter", cfg.MetricsExporter).
		Info("OpenCensus initialized")
	return nil
}

func initTraceExporter(cfg *config.TracingConfig, log logger.Logger) error {
	var (
		exporter trace.Exporter
		err      error
	)

	switch cfg.TraceExporter {
	case "jaeger":
		exporter, err = jaegerExporter(cfg)
	case "zipkin":
		exporter, err = zipkinExporter(cfg)
	case "stackdriver":
		exporter, err = stackdriverExporter(cfg, log)
	case "datadog":
		exporter, err = datadogExporter(cfg, log)
	case "xray":
		exporter, err = xrayExporter(cfg)
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s trace exporter: %w", cfg.TraceExporter, err)
	}

	trace.RegisterExporter(exporter)
	log.WithField("exporter", cfg.TraceExporter).Info("Trace exporter initialized")
	return nil
}

// initMetricsExporters accepts a comma separated list of exporters
func initMetricsExporters(cfg *config.TracingConfig, log logger.Logger) error {
	for _, name := range strings.Split(cfg.MetricsExporter, ",") {
		name = strings.TrimSpace(name)

		var (
			exporter view.Exporter
			err      error
		)
		switch name {
		case "", "none":
			continue
		case "prometheus":
			exporter, err = prometheusExporter(cfg, log)
		case "stackdriver":
			exporter, err = stackdriverExporter(cfg, log)
		case "datadog":
			exporter, err = datadogExporter(cfg, log)
		default:
			return fmt.Errorf("unsupported metrics exporter: %s", name)
		}
		if err != nil {
			return fmt.Errorf("failed to initialize %s metrics exporter: %w", name, err)
		}

		view.RegisterExporter(exporter)
		log.WithField("exporter", name).Info("Metrics exporter initialized")
	}
	return nil
}

// registerViews registers the HTTP server, database and analytics views
func registerViews() error {
	if err := view.Register(ochttp.DefaultServerViews...); err != nil {
		return fmt.Errorf("failed to register HTTP server views: %w", err)
	}
	if err := view.Register(ocsql.DefaultViews...); err != nil {
		return fmt.Errorf("failed to register database views: %w", err)
	}
	if err := view.Register(AnalyticsViews...); err != nil {
		return fmt.Errorf("failed to register analytics views: %w", err)
	}
	return nil
}

func jaegerExporter(cfg *config.TracingConfig) (*jaeger.Exporter, error) {
	if cfg.JaegerEndpoint == "" {
		return nil, fmt.Errorf("Jaeger endpoint is required for Jaeger exporter")
	}

	return jaeger.NewExporter(jaeger.Options{
		CollectorEndpoint: cfg.JaegerEndpoint,
		ServiceName:       cfg.ServiceName,
		Process: jaeger.Process{
			ServiceName: cfg.ServiceName,
		},
	})
}

func zipkinExporter(cfg *config.TracingConfig) (*zipkin.Exporter, error) {
	if cfg.ZipkinEndpoint == "" {
		return nil, fmt.Errorf("Zipkin endpoint is required for Zipkin exporter")
	}

	reporter := zipkinhttp.NewReporter(cfg.ZipkinEndpoint)
	return zipkin.NewExporter(reporter, nil), nil
}

// stackdriverExporter exports both traces and metrics
func stackdriverExporter(cfg *config.TracingConfig, log logger.Logger) (*stackdriver.Exporter, error) {
	if cfg.StackdriverProjectID == "" {
		return nil, fmt.Errorf("Stackdriver project ID is required for Stackdriver exporter")
	}

	return stackdriver.NewExporter(stackdriver.Options{
		ProjectID:    cfg.StackdriverProjectID,
		MetricPrefix: cfg.ServiceName,
		OnError: func(err error) {
			log.WithField("error", err.Error()).Error("Stackdriver exporter error")
		},
	})
}

// datadogExporter exports both traces and metrics through the agent
func datadogExporter(cfg *config.TracingConfig, log logger.Logger) (*datadog.Exporter, error) {
	if cfg.DatadogAgentAddress == "" {
		return nil, fmt.Errorf("Datadog agent address is required for Datadog exporter")
	}

	return datadog.NewExporter(datadog.Options{
		Service:   cfg.ServiceName,
		TraceAddr: cfg.DatadogAgentAddress,
		StatsAddr: cfg.DatadogAgentAddress,
		OnError: func(err error) {
			log.WithField("error", err.Error()).Error("Datadog exporter error")
		},
	})
}

func xrayExporter(cfg *config.TracingConfig) (*aws.Exporter, error) {
	if cfg.XRayRegion == "" {
		return nil, fmt.Errorf("AWS region is required for X-Ray exporter")
	}

	return aws.NewExporter(
		aws.WithRegion(cfg.XRayRegion),
		aws.WithVersion("latest"),
	)
}

// prometheusExporter serves /metrics on PrometheusPort when it is set
func prometheusExporter(cfg *config.TracingConfig, log logger.Logger) (*prometheus.Exporter, error) {
	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: strings.ReplaceAll(cfg.ServiceName, "-", "_"),
		OnError: func(err error) {
			log.WithField("error", err.Error()).Error("Prometheus exporter error")
		},
	})
	if err != nil {
		return nil, err
	}

	if cfg.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", pe)

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.WithField("port", cfg.PrometheusPort).Info("Starting Prometheus metrics server")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithField("error", err.Error()).Error("Prometheus metrics server failed")
			}
		}()
	}

	return pe, nil
}

// codecov:ignore:end
