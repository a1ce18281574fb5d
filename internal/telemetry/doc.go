// Package telemetry sets up OpenTelemetry tracing and metrics export.
//
// Telemetry is off by default. When enabled, spans and metrics are exported
// over OTLP (gRPC, or HTTP with protocol "http/protobuf") and the global
// tracer and meter providers are replaced, so package-level tracers such as
// the vector store's start exporting without further wiring.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// Export failures never fail the caller; the instance reports itself
// degraded instead. Tests use NewTestTelemetry for in-memory recording.
package telemetry
