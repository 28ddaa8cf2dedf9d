// Package telemetry provides Prometheus metrics and OpenTelemetry spans for
// uiwire connections.
//
// Metrics is a set of collectors registered once per process and shared by
// every connection. Its ChunkWritten method matches flush.Config.OnChunk so
// it can be wired straight into a pipeline:
//
//	m := telemetry.NewMetrics(telemetry.WithNamespace("myapp"))
//	cfg := flush.DefaultConfig().WithOnChunk(m.ChunkWritten)
//
// Tracer opens one span per connection and one per dispatched frame. Both
// Metrics and Tracer accept a nil receiver so callers never branch on
// whether telemetry is enabled.
package telemetry
