package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/coachrag/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "disabled is always valid", mutate: func(c *Config) { c.Endpoint = "" }},
		{name: "enabled local", mutate: func(c *Config) { c.Enabled = true }},
		{name: "enabled loopback ip", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "127.0.0.1:4317" }},
		{name: "enabled ipv6 loopback", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }},
		{name: "http scheme local", mutate: func(c *Config) {
			c.Enabled = true
			c.Protocol = "http/protobuf"
			c.Endpoint = "http://localhost:4318"
		}},
		{name: "insecure remote", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, wantErr: true},
		{name: "secure remote", mutate: func(c *Config) {
			c.Enabled = true
			c.Endpoint = "otel.example.com:4317"
			c.Insecure = false
		}},
		{name: "no endpoint", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "" }, wantErr: true},
		{name: "bad protocol", mutate: func(c *Config) { c.Enabled = true; c.Protocol = "thrift" }, wantErr: true},
		{name: "bad sample rate", mutate: func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 }, wantErr: true},
		{name: "no shutdown timeout", mutate: func(c *Config) { c.Enabled = true; c.ShutdownTimeout = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "localhost:4318",
		Protocol:   "http/protobuf",
		Insecure:   true,
		SampleRate: 0.25,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "localhost:4318", cfg.Endpoint)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, 0.25, cfg.SampleRate)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "coachrag", cfg.ServiceName)

	defaults := FromSettings(config.TelemetryConfig{}, "")
	assert.Equal(t, "localhost:4317", defaults.Endpoint)
	assert.Equal(t, "dev", defaults.ServiceVersion)
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), nil)
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	tel, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_WithExporters(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.MetricsInterval = 0

	tel, err := New(context.Background(), cfg, WithSpanExporter(exporter))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.NotNil(t, tel.LoggerProvider())

	_, span := tel.Tracer("test").Start(context.Background(), "ingest")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ingest", spans[0].Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.False(t, tel.IsEnabled())
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
	assert.True(t, tel.Health().Degraded)
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()

	_, span := tt.Tracer("test").Start(context.Background(), "retrieval.Search")
	span.SetAttributes(attribute.Int("top_k", 30), attribute.String("strategy", "cursor"))
	span.End()

	tt.AssertSpanExists(t, "retrieval.Search")
	tt.AssertSpanAttribute(t, "retrieval.Search", "top_k", int64(30))
	tt.AssertSpanAttribute(t, "retrieval.Search", "strategy", "cursor")
	assert.Nil(t, tt.SpanByName("missing"))
}

func TestTestTelemetry_Metrics(t *testing.T) {
	tt := NewTestTelemetry()

	counter, err := tt.Meter("test").Int64Counter("coachrag.test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rm, err := tt.Collect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.Equal(t, "coachrag.test.counter", rm.ScopeMetrics[0].Metrics[0].Name)
}
