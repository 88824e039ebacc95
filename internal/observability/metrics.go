package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/sandeepkv93/feature-flag-control-plane"

var (
	repositoryOperations metric.Int64Counter
	riskAssessments      metric.Int64Counter
	runtimeEvaluations   metric.Int64Counter
	snapshotRefreshes    metric.Int64Counter
	redisOperations      metric.Int64Counter
	redisKeyspace        metric.Int64Counter
)

func init() {
	registerInstruments(otel.Meter(instrumentationName))
}

// registerInstruments binds the counters to meter. InitRuntime rebinds them
// to its SDK provider before the server starts.
func registerInstruments(meter metric.Meter) {
	repositoryOperations, _ = meter.Int64Counter("repository.operations",
		metric.WithDescription("Repository calls by entity, operation and outcome"))
	riskAssessments, _ = meter.Int64Counter("risk.assessments",
		metric.WithDescription("Risk assessments by source and resulting level"))
	runtimeEvaluations, _ = meter.Int64Counter("runtime.evaluations",
		metric.WithDescription("Runtime flag checks by result"))
	snapshotRefreshes, _ = meter.Int64Counter("runtime.snapshot.refreshes",
		metric.WithDescription("Runtime snapshot rebuilds by origin and outcome"))
	redisOperations, _ = meter.Int64Counter("redis.operations",
		metric.WithDescription("Redis commands by name and outcome"))
	redisKeyspace, _ = meter.Int64Counter("redis.keyspace",
		metric.WithDescription("Redis keyspace hits and misses"))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	repositoryOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordRiskAssessment(ctx context.Context, source, level string) {
	riskAssessments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("level", level),
	))
}

func RecordRuntimeEvaluation(ctx context.Context, mode string, enabled bool) {
	runtimeEvaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("enabled", enabled),
	))
}

func RecordSnapshotRefresh(ctx context.Context, origin, outcome string) {
	snapshotRefreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("origin", origin),
		attribute.String("outcome", outcome),
	))
}
