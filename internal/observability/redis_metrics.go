package observability

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RedisMetricsHook counts redis commands and keyspace hits/misses.
type RedisMetricsHook struct{}

func InstrumentRedis(client redis.UniversalClient) {
	if client == nil {
		return
	}
	client.AddHook(RedisMetricsHook{})
}

func (RedisMetricsHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (RedisMetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		recordRedisCommand(ctx, cmd)
		return err
	}
}

func (RedisMetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		for _, cmd := range cmds {
			recordRedisCommand(ctx, cmd)
		}
		return err
	}
}

func recordRedisCommand(ctx context.Context, cmd redis.Cmder) {
	outcome := "success"
	if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
		outcome = classifyRedisError(err)
	}
	redisOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", cmd.Name()),
		attribute.String("outcome", outcome),
	))
	if hits, misses, ok := classifyKeyspaceOutcome(cmd); ok {
		if hits > 0 {
			redisKeyspace.Add(ctx, hits, metric.WithAttributes(attribute.String("result", "hit")))
		}
		if misses > 0 {
			redisKeyspace.Add(ctx, misses, metric.WithAttributes(attribute.String("result", "miss")))
		}
	}
}

func classifyKeyspaceOutcome(cmd redis.Cmder) (hits, misses int64, ok bool) {
	switch strings.ToLower(cmd.Name()) {
	case "get":
		if errors.Is(cmd.Err(), redis.Nil) {
			return 0, 1, true
		}
		if cmd.Err() != nil {
			return 0, 0, false
		}
		return 1, 0, true
	case "mget":
		sc, isSlice := cmd.(*redis.SliceCmd)
		if !isSlice || sc.Err() != nil {
			return 0, 0, false
		}
		for _, v := range sc.Val() {
			if v == nil {
				misses++
			} else {
				hits++
			}
		}
		return hits, misses, true
	default:
		return 0, 0, false
	}
}

func classifyRedisError(err error) string {
	if err == nil {
		return "success"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "refused"), strings.Contains(msg, "broken pipe"):
		return "connection"
	default:
		return "other"
	}
}
