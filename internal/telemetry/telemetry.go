// Package telemetry wires OpenTelemetry tracing and a Prometheus metrics
// listener into the global otel providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects which exporters run. Both empty disables telemetry.
type Config struct {
	ServiceName   string
	OTLPEndpoint  string
	MetricsListen string
}

// Provider owns the exporters started by Setup
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	metricsServer  *http.Server
	metricsLn      net.Listener
}

type otlpTarget struct {
	endpoint string
	path     string
	insecure bool
}

type errorHandler struct{}

func (errorHandler) Handle(err error) {
	if err != nil {
		log.Warn().Err(err).Msg("Telemetry exporter error")
	}
}

// Setup installs global tracer and meter providers. It returns nil when
// nothing is configured.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	metricsListen := strings.TrimSpace(cfg.MetricsListen)
	if endpoint == "" && metricsListen == "" {
		return nil, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "eventpix"
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	p := &Provider{}
	if endpoint != "" {
		target, err := resolveEndpoint(endpoint)
		if err != nil {
			return nil, err
		}
		p.tracerProvider, err = setupTracing(ctx, target, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(p.tracerProvider)
		log.Info().Str("endpoint", target.endpoint).Str("path", target.path).Msg("Tracing enabled")
	}

	if metricsListen != "" {
		registry := prometheus.NewRegistry()
		exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("failed to start prometheus exporter: %w", err)
		}
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		otel.SetMeterProvider(p.meterProvider)

		p.metricsServer, p.metricsLn, err = startMetricsServer(metricsListen, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
		log.Info().Str("listen", p.metricsLn.Addr().String()).Msg("Metrics enabled")
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(errorHandler{})
	return p, nil
}

// MetricsAddr returns the bound metrics address, or "" when metrics are off
func (p *Provider) MetricsAddr() string {
	if p == nil || p.metricsLn == nil {
		return ""
	}
	return p.metricsLn.Addr().String()
}

// Shutdown flushes and stops every exporter
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", err))
		}
	}
	if p.metricsServer != nil {
		if err := p.metricsServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func setupTracing(ctx context.Context, target otlpTarget, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(target.endpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if target.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if target.path != "" && target.path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(target.path))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
		sdktrace.WithBatcher(exporter),
	), nil
}

func startMetricsServer(addr string, handler http.Handler) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Metrics server stopped")
		}
	}()
	return srv, ln, nil
}

// resolveEndpoint accepts host[:port] or an http(s) URL with an optional path.
func resolveEndpoint(raw string) (otlpTarget, error) {
	if !strings.Contains(raw, "://") {
		endpoint := raw
		if !strings.Contains(endpoint, ":") {
			endpoint = net.JoinHostPort(endpoint, "4318")
		}
		return otlpTarget{endpoint: endpoint, insecure: true}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return otlpTarget{}, fmt.Errorf("failed to parse otlp endpoint: %w", err)
	}
	target := otlpTarget{endpoint: u.Host, path: strings.TrimSuffix(u.Path, "/")}
	switch strings.ToLower(u.Scheme) {
	case "http":
		target.insecure = true
	case "https":
	default:
		return otlpTarget{}, fmt.Errorf("unsupported otlp scheme %q", u.Scheme)
	}
	if target.endpoint == "" {
		return otlpTarget{}, errors.New("otlp endpoint is missing a host")
	}
	if u.Port() == "" {
		target.endpoint = net.JoinHostPort(u.Hostname(), "4318")
	}
	return target, nil
}
